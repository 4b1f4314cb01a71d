package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/tildaslashalef/obrasync/internal/app"
	syncui "github.com/tildaslashalef/obrasync/internal/commands/sync"
	"github.com/tildaslashalef/obrasync/internal/loggy"
	"github.com/tildaslashalef/obrasync/internal/photo"
	"github.com/tildaslashalef/obrasync/internal/sync"
	"github.com/tildaslashalef/obrasync/internal/utils"
	"github.com/urfave/cli/v2"
)

// SyncCommand returns the CLI command for delivering the queue to the server
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Deliver queued records and photos to the server",
		Description: "Runs one sync pass over every pending and failed item, or a single item with --item.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "item",
				Usage: "Sync only this queued item",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Show live progress; q or Ctrl-C stops after the current photo",
			},
		},
		Action: syncAction,
	}
}

// WatchCommand syncs automatically whenever connectivity returns
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stay running and sync whenever the connection comes back",
		Action: func(c *cli.Context) error {
			application, err := app.FromContext(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			utils.PrintInfo(fmt.Sprintf("Watching connectivity to %s, press Ctrl-C to stop", application.Config.Sync.ProbeURL))
			if err := application.Engine.StartAutoSync(ctx, application.NewMonitor()); err != nil && ctx.Err() == nil {
				return err
			}
			utils.PrintInfo("Stopped watching")
			return nil
		},
	}
}

// LogsCommand lists recorded sync attempts
func LogsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show recorded sync attempts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "item", Usage: "Only attempts for this item"},
			&cli.IntFlag{Name: "limit", Usage: "Number of entries", Value: 20},
			&cli.IntFlag{Name: "offset", Usage: "Entries to skip"},
		},
		Action: logsAction,
	}
}

func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if token, _ := application.Settings.Token(c.Context); token == "" {
		utils.PrintWarning("Not signed in; use 'obrasync login --token <token>' first")
	}

	if id := c.String("item"); id != "" {
		return syncItemAction(c, application, id)
	}

	if c.Bool("progress") {
		return syncWithProgress(c.Context, application)
	}

	loggy.Info("Starting manual sync")
	result, err := application.Engine.SyncAll(c.Context)
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}
	printResult(result)
	return nil
}

func syncItemAction(c *cli.Context, application *app.App, id string) error {
	itemID := parseItemID(id)
	ok, err := application.Engine.SyncItem(c.Context, itemID, func(p photo.Progress) {
		loggy.Debug("Photo progress", "item_id", itemID, "completed", p.Completed, "total", p.Total)
	})
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}
	if ok {
		utils.PrintSuccess(fmt.Sprintf("%s delivered", itemID))
		return nil
	}

	if p, err := application.Queue.Get(c.Context, itemID); err == nil && p.ErrorMessage != "" {
		utils.PrintError(p.ErrorMessage)
	} else {
		utils.PrintWarning(fmt.Sprintf("%s was not synced", itemID))
	}
	return nil
}

func syncWithProgress(ctx context.Context, application *app.App) error {
	loggy.Info("Starting manual sync", "progress", true)
	result, err := syncui.Run(ctx, application.Engine.SyncAllWithProgress)
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}
	loggy.Debug("Manual sync finished", "status", result.Status, "success", result.Success, "failed", result.Failed)
	return nil
}

func printResult(result sync.Result) {
	if result.Success == 0 && result.Failed == 0 {
		utils.PrintInfo("Nothing to sync")
		return
	}
	if result.Success > 0 {
		utils.PrintSuccess(fmt.Sprintf("%d item(s) delivered", result.Success))
	}
	if result.Failed > 0 {
		utils.PrintWarning(fmt.Sprintf("%d item(s) failed, they will be retried on the next sync", result.Failed))
	}
}

func logsAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	logs, err := application.SyncLogs.GetSyncLogs(c.Context, parseItemID(c.String("item")), c.Int("limit"), c.Int("offset"))
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		utils.PrintInfo("No sync attempts recorded")
		return nil
	}

	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		outcome := color.GreenString("ok")
		if !l.Success {
			outcome = color.RedString("%s", l.ErrorType)
		}
		rows = append(rows, []string{
			utils.FormatTime(l.CompletedAt),
			string(l.SyncType),
			l.ItemID.String(),
			l.ServerID.String(),
			outcome,
			strconv.Itoa(l.PhotosUploaded) + "/" + strconv.Itoa(l.PhotosUploaded+l.PhotosFailed),
			l.Duration().Round(time.Millisecond).String(),
			utils.Truncate(l.ErrorMessage, 40),
		})
	}
	utils.PrintTable(
		[]string{"When", "Type", "Item", "Server ID", "Result", "Photos", "Took", "Message"},
		rows,
		utils.TableOptions{Title: "Sync log"},
	)
	return nil
}
