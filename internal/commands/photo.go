package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tildaslashalef/obrasync/internal/app"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/photo"
	"github.com/tildaslashalef/obrasync/internal/queue"
	"github.com/tildaslashalef/obrasync/internal/utils"
	"github.com/urfave/cli/v2"
)

// PhotoCommand groups photo inspection and maintenance commands
func PhotoCommand() *cli.Command {
	return &cli.Command{
		Name:  "photo",
		Usage: "Inspect and maintain captured photos",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Attach photo files to a queued item",
				ArgsUsage: "<item-id>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "photo", Aliases: []string{"p"}, Usage: "Photo as group=path, repeatable", Required: true},
					&cli.Float64Flag{Name: "lat", Usage: "Latitude applied to every photo"},
					&cli.Float64Flag{Name: "lon", Usage: "Longitude applied to every photo"},
					&cli.StringFlag{Name: "utm-zone", Usage: "UTM zone applied to every photo"},
				},
				Action: photoAddAction,
			},
			{
				Name:      "list",
				Usage:     "List the photos owned by an item",
				ArgsUsage: "<item-id>",
				Action:    photoListAction,
			},
			{
				Name:   "orphans",
				Usage:  "List unuploaded photos whose owner is no longer queued",
				Action: photoOrphansAction,
			},
			{
				Name:   "cleanup",
				Usage:  "Delete local files of photos already uploaded",
				Action: photoCleanupAction,
			},
		},
	}
}

func photoAddAction(c *cli.Context) error {
	application, p, err := queuedItemFromArgs(c)
	if err != nil {
		return err
	}
	if p.SyncStatus == item.StatusSyncing {
		return fmt.Errorf("item %s is syncing", p.ID)
	}

	specs, err := parsePhotoSpecs(c.StringSlice("photo"))
	if err != nil {
		return err
	}

	groups := make(map[item.GroupName][]string, len(p.PhotoGroups))
	for name, ids := range p.PhotoGroups {
		groups[name] = append([]string(nil), ids...)
	}

	template := photo.CaptureRequest{Owner: p.ID}
	if c.IsSet("lat") && c.IsSet("lon") {
		lat, lon := c.Float64("lat"), c.Float64("lon")
		template.Latitude, template.Longitude = &lat, &lon
	}
	if zone := c.String("utm-zone"); zone != "" {
		template.UTMZone = &zone
	}

	for _, spec := range specs {
		req := template
		req.Group = spec.Group
		req.Index = len(groups[spec.Group])
		req.Source = spec.Path
		ph, err := photo.Capture(c.Context, application.Photos, application.Config.Storage.PhotoDir, req)
		if err != nil {
			utils.PrintError(fmt.Sprintf("Failed to capture %s: %s", spec.Path, err))
			return err
		}
		groups[spec.Group] = append(groups[spec.Group], ph.ID)
	}

	_, err = application.Queue.Enqueue(c.Context, queue.EnqueueRequest{
		Fields:      p.Fields,
		PhotoGroups: groups,
		DraftID:     p.ID,
		ServerID:    p.ServerID,
	})
	if errors.Is(err, queue.ErrItemSyncing) {
		utils.PrintError(fmt.Sprintf("%s started syncing, the new photos stay unattached; run 'obrasync records recover %s' afterwards", p.ID, p.ID))
		return err
	}
	if err != nil {
		return fmt.Errorf("attaching photos: %w", err)
	}

	utils.PrintSuccess(fmt.Sprintf("Attached %d photo(s) to %s", len(specs), p.ID))
	return nil
}

func photoListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one item id")
	}

	photos, err := application.Photos.OwnedBy(c.Context, parseItemID(c.Args().First()))
	if err != nil {
		return err
	}
	if len(photos) == 0 {
		utils.PrintInfo("No photos for this item")
		return nil
	}
	printPhotos(photos)
	return nil
}

func photoOrphansAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	queued, err := application.Queue.List(c.Context)
	if err != nil {
		return err
	}
	ids := make([]item.ItemID, 0, len(queued))
	for _, p := range queued {
		ids = append(ids, p.ID)
	}

	orphans, err := application.Pipeline.Orphans(c.Context, ids)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		utils.PrintSuccess("No orphaned photos")
		return nil
	}

	utils.PrintWarning(fmt.Sprintf("%d photo(s) never reached storage and belong to no queued item", len(orphans)))
	printPhotos(orphans)
	utils.PrintInfo("Use 'obrasync records recover <id>' to attach them again")
	return nil
}

func photoCleanupAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	removed, err := application.Pipeline.CleanupUploaded(c.Context)
	if err != nil {
		return err
	}
	utils.PrintSuccess(fmt.Sprintf("Removed %d local photo file(s)", removed))
	return nil
}

func printPhotos(photos []*photo.Photo) {
	rows := make([][]string, 0, len(photos))
	for _, ph := range photos {
		state := "pending"
		if !ph.NeedsUpload() {
			state = "synced"
		} else if ph.LastError != "" {
			state = "failed"
		}
		rows = append(rows, []string{
			ph.ID,
			ph.OwnerItemID.String(),
			string(ph.Group),
			strconv.Itoa(ph.Index),
			utils.StatusLabel(state),
			strconv.Itoa(ph.Retries),
			utils.Truncate(ph.UploadURL, 48),
		})
	}
	utils.PrintTable(
		[]string{"ID", "Owner", "Group", "#", "Upload", "Retries", "URL"},
		rows,
		utils.TableOptions{Title: "Photos"},
	)
}
