package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/obrasync/internal/app"
	"github.com/tildaslashalef/obrasync/internal/commands"
)

// Version information - populated at build time
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
	Author     = "unknown"
	Email      = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:  "obrasync",
		Usage: "Offline-first sync of field work records and photos",
		Description: "obrasync keeps work records captured in the field in a local queue and delivers\n" +
			"them, with their photos, to the server whenever a connection is available.",
		Version: Version + " (" + CommitHash + ")",
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Authors: []*cli.Author{
			{
				Name:  Author,
				Email: Email,
			},
		},
		Before: func(c *cli.Context) error {
			if !commands.NeedsApp(c.Args().First()) {
				return nil
			}

			application, err := app.New()
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			c.App.Metadata = map[string]interface{}{
				"app": application,
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if app, ok := c.App.Metadata["app"].(*app.App); ok {
				return app.Shutdown()
			}
			return nil
		},
		Commands: commands.All(),
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
