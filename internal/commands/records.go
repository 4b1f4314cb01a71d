package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tildaslashalef/obrasync/internal/app"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/localcache"
	"github.com/tildaslashalef/obrasync/internal/loggy"
	"github.com/tildaslashalef/obrasync/internal/utils"
	"github.com/urfave/cli/v2"
)

// RecordsCommand groups the commands that reconcile local and server records
func RecordsCommand() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "List and repair work records across server, cache and queue",
		Subcommands: []*cli.Command{
			{
				Name:    "merged",
				Aliases: []string{"list"},
				Usage:   "Show the merged list of server, cached and queued records",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "equipe", Usage: "Only records of this crew"},
					&cli.IntFlag{Name: "limit", Usage: "Server rows to fetch", Value: 100},
					&cli.BoolFlag{Name: "offline", Usage: "Skip the server and show local records only"},
				},
				Action: recordsListAction,
			},
			{
				Name:      "repair",
				Usage:     "Repair one cached record, or every cached record when no id is given",
				ArgsUsage: "[id]",
				Action:    recordsRepairAction,
			},
			{
				Name:   "dedupe",
				Usage:  "Remove duplicate cached copies of the same site and crew",
				Action: recordsDedupeAction,
			},
			{
				Name:      "recover",
				Usage:     "Attach the photos owned by an item back to it",
				ArgsUsage: "<id>",
				Action:    recordsRecoverAction,
			},
		},
	}
}

func recordsListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	var server []item.Record
	if !c.Bool("offline") && application.Checker.IsOnline(c.Context) {
		server, err = application.Lister.ListRecords(c.Context, c.String("equipe"), c.Int("limit"))
		if err != nil {
			loggy.Warn("Failed to list server records", "error", err)
			utils.PrintWarning("Could not reach the server, showing local records only")
			server = nil
		}
	}

	entries, err := application.Reconcile.Merged(c.Context, server)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		utils.PrintInfo("No records")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Record.ID.String(),
			e.Record.SiteID,
			e.Record.Crew,
			e.Record.Date,
			utils.StatusLabel(string(e.Record.WorkStatus)),
			utils.StatusLabel(string(e.Origin)),
			string(e.Source),
		})
	}
	utils.PrintTable(
		[]string{"ID", "Obra", "Equipe", "Data", "Status", "Origem", "Fonte"},
		rows,
		utils.TableOptions{Title: "Records", Footer: fmt.Sprintf("%d record(s)", len(entries))},
	)
	return nil
}

func recordsRepairAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.NArg() == 1 {
		id := parseItemID(c.Args().First())
		repaired, err := application.Reconcile.RepairRecord(c.Context, id)
		if errors.Is(err, localcache.ErrRecordNotFound) {
			utils.PrintError(fmt.Sprintf("No cached record %s", id))
			return err
		}
		if err != nil {
			return err
		}
		if repaired {
			utils.PrintSuccess(fmt.Sprintf("%s refreshed from the server", id))
		} else {
			utils.PrintInfo(fmt.Sprintf("%s did not need repair or is not on the server", id))
		}
		return nil
	}

	report, err := application.Reconcile.RepairAll(c.Context)
	if err != nil {
		return err
	}

	utils.PrintHeading("Repair")
	utils.PrintKeyValue("Checked", strconv.Itoa(report.Checked))
	utils.PrintKeyValue("Refreshed from server", strconv.Itoa(report.Repaired))
	utils.PrintKeyValue("Fixed locally", strconv.Itoa(report.FixedLocally))
	utils.PrintKeyValue("Not on server", strconv.Itoa(report.NotFound))
	if report.Failed > 0 {
		utils.PrintWarning(fmt.Sprintf("%d record(s) could not be checked", report.Failed))
	}
	return nil
}

func recordsDedupeAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	removed, err := application.Reconcile.RemoveDuplicates(c.Context)
	if err != nil {
		return err
	}
	utils.PrintSuccess(fmt.Sprintf("Removed %d duplicate record(s)", removed))
	return nil
}

func recordsRecoverAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one item id")
	}

	id := parseItemID(c.Args().First())
	n, err := application.Reconcile.RecoverPhotos(c.Context, id)
	if errors.Is(err, localcache.ErrRecordNotFound) {
		utils.PrintError(fmt.Sprintf("%s is neither queued nor cached", id))
		return err
	}
	if err != nil {
		return err
	}
	utils.PrintSuccess(fmt.Sprintf("Attached %d photo(s) to %s", n, id))
	return nil
}
