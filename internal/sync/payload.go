package sync

import (
	"context"
	"fmt"

	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/photo"
	"github.com/tildaslashalef/obrasync/internal/remote"
)

// buildPayload assembles the server row for a queued item. Every configured group column is
// present; a group holds only photos that are uploaded and have a URL, in reference order.
func buildPayload(ctx context.Context, photos photo.Repository, p *item.PendingItem) (remote.Payload, int, error) {
	payload := coreColumns(p.Fields)

	attached := 0
	for _, g := range item.Groups {
		entries := []item.PhotoEntry{}
		if ids := p.PhotoGroups[g.Name]; len(ids) > 0 {
			fresh, err := photos.ByIDs(ctx, ids)
			if err != nil {
				return nil, 0, fmt.Errorf("reading photos of group %s: %w", g.Name, err)
			}
			for _, ph := range fresh {
				if ph.Uploaded && ph.UploadURL != "" {
					entries = append(entries, ph.Entry())
				}
			}
		}
		attached += len(entries)
		payload[g.Column] = entries
	}
	return payload, attached, nil
}

func coreColumns(f item.CoreFields) remote.Payload {
	status := f.WorkStatus
	if status == "" {
		status = item.WorkOpen
	}
	return remote.Payload{
		"data":                 f.Date,
		"obra":                 f.SiteID,
		"equipe":               f.Crew,
		"responsavel":          f.Responsible,
		"tipo_servico":         f.ServiceType,
		"status":               string(status),
		"transformador_status": nullable(f.TransformerStatus),
		"observacoes":          nullable(f.Notes),
		"creator_role":         nullable(f.CreatorRole),
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// mergeExisting fills an update payload from the server copy. Empty core fields keep the
// server value and empty photo groups keep the server photos.
func mergeExisting(payload remote.Payload, existing *item.Record) {
	current := coreColumns(existing.CoreFields)
	for col, v := range payload {
		if isEmpty(v) {
			if old, ok := current[col]; ok {
				payload[col] = old
			}
		}
	}

	for _, g := range item.Groups {
		entries, _ := payload[g.Column].([]item.PhotoEntry)
		if len(entries) > 0 {
			continue
		}
		if kept := existing.Photos[g.Name]; len(kept) > 0 {
			payload[g.Column] = kept
		}
	}
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}
	return false
}
