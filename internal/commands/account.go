package commands

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/tildaslashalef/obrasync/internal/app"
	"github.com/tildaslashalef/obrasync/internal/remote"
	"github.com/tildaslashalef/obrasync/internal/utils"
	"github.com/urfave/cli/v2"
)

// LoginCommand stores the session token used for sync
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Store the session token used to sync",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Session token issued by the backend",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "Override the backend URL",
			},
		},
		Action: loginAction,
	}
}

// LogoutCommand removes the stored session token
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Remove the stored session token",
		Action: func(c *cli.Context) error {
			application, err := app.FromContext(c)
			if err != nil {
				return err
			}
			if err := application.Login(c.Context, ""); err != nil {
				return err
			}
			utils.PrintSuccess("Signed out")
			return nil
		},
	}
}

// AccountCommand shows the session and device used for sync
func AccountCommand() *cli.Command {
	return &cli.Command{
		Name:   "account",
		Usage:  "Show the current session and device",
		Action: accountAction,
	}
}

func loginAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	token := c.String("token")
	if server := c.String("server"); server != "" {
		if err := application.Settings.SetServerURL(c.Context, server); err != nil {
			return fmt.Errorf("saving server URL: %w", err)
		}
		utils.PrintInfo("Server URL saved, it takes effect on the next run")
	}

	expiry, ok := remote.TokenExpiry(token)
	if ok && !expiry.After(time.Now()) {
		utils.PrintError("This token has already expired")
		return fmt.Errorf("token expired at %s", expiry.Format(time.RFC3339))
	}

	if err := application.Login(c.Context, token); err != nil {
		return err
	}

	utils.PrintSuccess("Session token saved")
	if ok {
		utils.PrintKeyValue("Expires", utils.FormatTime(expiry))
	}
	return nil
}

func accountAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	utils.PrintHeading("Account")
	utils.PrintKeyValue("Server", application.Config.Server.URL)
	utils.PrintKeyValue("Driver", application.Config.Server.Driver)
	utils.PrintKeyValue("Device", application.Config.Server.DeviceName)

	token, err := application.Settings.Token(c.Context)
	if err != nil || token == "" {
		utils.PrintKeyValue("Session", color.RedString("not signed in"))
		return nil
	}

	expiry, ok := remote.TokenExpiry(token)
	switch {
	case !ok:
		utils.PrintKeyValue("Session", color.GreenString("signed in"))
	case expiry.After(time.Now()):
		utils.PrintKeyValue("Session", color.GreenString("valid until %s", utils.FormatTime(expiry)))
	default:
		utils.PrintKeyValue("Session", color.RedString("expired %s", utils.FormatAgo(expiry, time.Now())))
	}
	return nil
}
