package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/tildaslashalef/obrasync/internal/app"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/photo"
	"github.com/tildaslashalef/obrasync/internal/queue"
	"github.com/tildaslashalef/obrasync/internal/utils"
	"github.com/urfave/cli/v2"
)

// photoSpec is one --photo flag value
type photoSpec struct {
	Group item.GroupName
	Path  string
}

// EnqueueCommand adds a work record and its photos to the pending queue
func EnqueueCommand() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "Queue a work record for delivery",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "obra", Usage: "Site identifier", Required: true},
			&cli.StringFlag{Name: "equipe", Usage: "Crew code", Required: true},
			&cli.StringFlag{Name: "data", Usage: "Work date (YYYY-MM-DD)", Value: time.Now().Format("2006-01-02")},
			&cli.StringFlag{Name: "responsavel", Usage: "Person in charge"},
			&cli.StringFlag{Name: "tipo-servico", Usage: "Service type"},
			&cli.StringFlag{Name: "status", Usage: "Work status (em_aberto, rascunho, finalizada)"},
			&cli.StringFlag{Name: "transformador-status", Usage: "Transformer status"},
			&cli.StringFlag{Name: "observacoes", Usage: "Free text notes"},
			&cli.StringFlag{Name: "creator-role", Usage: "Role of the record creator"},
			&cli.StringSliceFlag{Name: "photo", Aliases: []string{"p"}, Usage: "Photo as group=path, repeatable"},
			&cli.Float64Flag{Name: "lat", Usage: "Latitude applied to every photo"},
			&cli.Float64Flag{Name: "lon", Usage: "Longitude applied to every photo"},
			&cli.StringFlag{Name: "server-id", Usage: "Server id of the record being edited"},
			&cli.StringFlag{Name: "draft", Usage: "Queue id of a draft to replace in place"},
		},
		Action: enqueueAction,
	}
}

// QueueCommand groups the queue inspection commands
func QueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and manage the pending queue",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List queued items",
				Action: queueListAction,
			},
			{
				Name:      "show",
				Usage:     "Show one queued item",
				ArgsUsage: "<id>",
				Action:    queueShowAction,
			},
			{
				Name:      "remove",
				Usage:     "Remove an item from the queue",
				ArgsUsage: "<id>",
				Action:    queueRemoveAction,
			},
			{
				Name:      "retry",
				Usage:     "Return a failed item to pending",
				ArgsUsage: "<id>",
				Action:    queueRetryAction,
			},
		},
		Action: queueListAction,
	}
}

// StatusCommand prints the aggregate sync status
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show pending and failed counts and the last sync time",
		Action: statusAction,
	}
}

func enqueueAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	specs, err := parsePhotoSpecs(c.StringSlice("photo"))
	if err != nil {
		return err
	}

	req := queue.EnqueueRequest{
		Fields: item.CoreFields{
			Date:              c.String("data"),
			SiteID:            c.String("obra"),
			Crew:              c.String("equipe"),
			Responsible:       c.String("responsavel"),
			ServiceType:       c.String("tipo-servico"),
			WorkStatus:        item.WorkStatus(c.String("status")),
			TransformerStatus: c.String("transformador-status"),
			Notes:             c.String("observacoes"),
			CreatorRole:       c.String("creator-role"),
		},
		DraftID: parseItemID(c.String("draft")),
	}
	if v := c.String("server-id"); v != "" {
		req.ServerID = item.Remote(v)
	}

	id, err := application.Queue.Enqueue(c.Context, req)
	if errors.Is(err, queue.ErrItemSyncing) {
		utils.PrintError(fmt.Sprintf("%s is being synced, edit it after the attempt finishes", req.DraftID))
		return err
	}
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}

	if len(specs) > 0 {
		var lat, lon *float64
		if c.IsSet("lat") && c.IsSet("lon") {
			la, lo := c.Float64("lat"), c.Float64("lon")
			lat, lon = &la, &lo
		}

		groups := make(map[item.GroupName][]string)
		for _, spec := range specs {
			ph, err := photo.Capture(c.Context, application.Photos, application.Config.Storage.PhotoDir, photo.CaptureRequest{
				Owner:     id,
				Group:     spec.Group,
				Index:     len(groups[spec.Group]),
				Source:    spec.Path,
				Latitude:  lat,
				Longitude: lon,
			})
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to capture %s: %s", spec.Path, err))
				return err
			}
			groups[spec.Group] = append(groups[spec.Group], ph.ID)
		}

		req.DraftID = id
		req.PhotoGroups = groups
		if _, err := application.Queue.Enqueue(c.Context, req); err != nil {
			return fmt.Errorf("attaching photos: %w", err)
		}
	}

	utils.PrintSuccess(fmt.Sprintf("Queued %s with %d photo(s)", color.CyanString(id.String()), len(specs)))
	return nil
}

func queueListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	items, err := application.Queue.List(c.Context)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		utils.PrintInfo("The queue is empty")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, p := range items {
		rows = append(rows, []string{
			p.ID.String(),
			p.Fields.SiteID,
			p.Fields.Crew,
			strconv.Itoa(p.PhotoCount()),
			utils.StatusLabel(string(p.SyncStatus)),
			utils.FormatTime(p.CreatedAt),
			utils.Truncate(p.ErrorMessage, 40),
		})
	}
	utils.PrintTable(
		[]string{"ID", "Obra", "Equipe", "Fotos", "Status", "Criado", "Erro"},
		rows,
		utils.TableOptions{Title: "Queue", Footer: fmt.Sprintf("%d item(s)", len(items))},
	)
	return nil
}

func queueShowAction(c *cli.Context) error {
	application, p, err := queuedItemFromArgs(c)
	if err != nil {
		return err
	}

	utils.PrintHeading(p.DisplayName())
	utils.PrintKeyValue("ID", p.ID.String())
	if !p.ServerID.IsZero() {
		utils.PrintKeyValue("Server ID", p.ServerID.String())
	}
	utils.PrintKeyValue("Status", utils.StatusLabel(string(p.SyncStatus)))
	if p.ErrorMessage != "" {
		utils.PrintKeyValue("Error", p.ErrorMessage)
	}
	utils.PrintKeyValue("Data", p.Fields.Date)
	utils.PrintKeyValue("Work status", utils.StatusLabel(string(p.Fields.WorkStatus)))
	utils.PrintKeyValue("Photos uploaded", strconv.FormatBool(p.PhotosUploaded))

	photos, err := application.Photos.ByIDs(c.Context, p.AllPhotoIDs())
	if err != nil {
		return err
	}
	printPhotos(photos)

	if latest, err := application.SyncLogs.GetLatestSyncLog(c.Context, p.ID); err == nil && latest != nil {
		utils.PrintKeyValue("Last attempt", utils.FormatAgo(latest.CompletedAt, time.Now()))
	}
	return nil
}

func queueRemoveAction(c *cli.Context) error {
	application, p, err := queuedItemFromArgs(c)
	if err != nil {
		return err
	}
	if p.SyncStatus == item.StatusSyncing {
		return fmt.Errorf("item %s is syncing", p.ID)
	}
	if err := application.Queue.Remove(c.Context, p.ID); err != nil {
		return err
	}
	utils.PrintSuccess(fmt.Sprintf("Removed %s from the queue", p.ID))
	return nil
}

func queueRetryAction(c *cli.Context) error {
	application, p, err := queuedItemFromArgs(c)
	if err != nil {
		return err
	}
	if p.SyncStatus != item.StatusFailed {
		utils.PrintInfo(fmt.Sprintf("%s is %s, nothing to retry", p.ID, p.SyncStatus))
		return nil
	}
	if err := application.Queue.SetStatus(c.Context, p.ID, item.StatusPending, ""); err != nil {
		return err
	}
	utils.PrintSuccess(fmt.Sprintf("%s will be retried on the next sync", p.ID))
	return nil
}

func statusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	status, err := application.Queue.GetAggregateStatus(c.Context)
	if err != nil {
		return err
	}

	utils.PrintHeading("Sync status")
	utils.PrintKeyValue("Pending", color.YellowString("%d", status.PendingCount))
	utils.PrintKeyValue("Failed", color.RedString("%d", status.FailedCount))
	last := time.Time{}
	if status.LastSyncAt != nil {
		last = *status.LastSyncAt
	}
	utils.PrintKeyValue("Last sync", utils.FormatAgo(last, time.Now()))

	online := application.Checker.IsOnline(c.Context)
	if online {
		utils.PrintKeyValue("Network", color.GreenString("online"))
	} else {
		utils.PrintKeyValue("Network", color.RedString("offline"))
	}
	return nil
}

func queuedItemFromArgs(c *cli.Context) (*app.App, *item.PendingItem, error) {
	application, err := app.FromContext(c)
	if err != nil {
		return nil, nil, err
	}
	if c.NArg() != 1 {
		return nil, nil, fmt.Errorf("expected exactly one item id")
	}

	p, err := application.Queue.Get(c.Context, parseItemID(c.Args().First()))
	if errors.Is(err, queue.ErrItemNotFound) {
		utils.PrintError(fmt.Sprintf("No queued item %s", c.Args().First()))
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, err
	}
	return application, p, nil
}

// parseItemID decodes an id typed by the user
func parseItemID(s string) item.ItemID {
	return item.ParseID(strings.TrimSpace(s))
}

// parsePhotoSpecs decodes --photo values of the form group=path
func parsePhotoSpecs(values []string) ([]photoSpec, error) {
	specs := make([]photoSpec, 0, len(values))
	for _, v := range values {
		group, path, ok := strings.Cut(v, "=")
		if !ok || group == "" || path == "" {
			return nil, fmt.Errorf("invalid photo %q, expected group=path", v)
		}
		name := item.GroupName(strings.TrimSpace(group))
		if _, ok := item.LookupGroup(name); !ok {
			return nil, fmt.Errorf("%w: %q", item.ErrUnknownGroup, name)
		}
		specs = append(specs, photoSpec{Group: name, Path: strings.TrimSpace(path)})
	}
	return specs, nil
}
