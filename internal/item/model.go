// Package item defines the work records ("obras") exchanged between the device queue,
// the local cache and the server.
package item

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the sync state of a queued item
type Status string

// Queue statuses
const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known queue status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusFailed:
		return true
	}
	return false
}

// WorkStatus is the lifecycle state of the work itself
type WorkStatus string

// Work statuses
const (
	WorkOpen     WorkStatus = "em_aberto"
	WorkDraft    WorkStatus = "rascunho"
	WorkFinished WorkStatus = "finalizada"
)

// Origin tells where a record was first created
type Origin string

// Record origins
const (
	OriginOnline  Origin = "online"
	OriginOffline Origin = "offline"
)

// CoreFields are the non-photo columns of a work record
type CoreFields struct {
	Date              string     `json:"data"`
	SiteID            string     `json:"obra"`
	Crew              string     `json:"equipe"`
	Responsible       string     `json:"responsavel"`
	ServiceType       string     `json:"tipo_servico"`
	WorkStatus        WorkStatus `json:"status,omitempty"`
	TransformerStatus string     `json:"transformador_status,omitempty"`
	Notes             string     `json:"observacoes,omitempty"`
	CreatorRole       string     `json:"creator_role,omitempty"`
}

// PendingItem is a work record waiting in the queue to be delivered
type PendingItem struct {
	ID             ItemID
	ServerID       ItemID
	Fields         CoreFields
	PhotoGroups    map[GroupName][]string
	SyncStatus     Status
	ErrorMessage   string
	PhotosUploaded bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayName is the label used in progress reports
func (p *PendingItem) DisplayName() string {
	if p.Fields.SiteID == "" {
		return p.ID.String()
	}
	if p.Fields.Crew == "" {
		return p.Fields.SiteID
	}
	return fmt.Sprintf("%s (%s)", p.Fields.SiteID, p.Fields.Crew)
}

// PhotoCount returns the number of photo references across all groups
func (p *PendingItem) PhotoCount() int {
	n := 0
	for _, ids := range p.PhotoGroups {
		n += len(ids)
	}
	return n
}

// AllPhotoIDs returns every referenced photo id in group table order
func (p *PendingItem) AllPhotoIDs() []string {
	var ids []string
	for _, name := range SortedGroupNames(p.PhotoGroups) {
		ids = append(ids, p.PhotoGroups[name]...)
	}
	return ids
}

// AsRecord projects the queued item into a record as list screens show it
func (p *PendingItem) AsRecord() Record {
	return Record{
		ID:              p.ID,
		CoreFields:      p.Fields,
		Origin:          OriginOffline,
		Synced:          false,
		LocallyModified: true,
		ServerID:        p.ServerID,
		CreatedAt:       p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// PhotoEntry is one photo as stored in a server photo column
type PhotoEntry struct {
	URL       string   `json:"url"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	UTMX      *float64 `json:"utm_x"`
	UTMY      *float64 `json:"utm_y"`
	UTMZone   *string  `json:"utm_zone"`
}

// Record is a work record as seen by list screens: a server row, a local cache entry or a
// queued item. Its JSON form is the server row layout with one array per photo column.
type Record struct {
	ID ItemID
	CoreFields
	Origin          Origin
	Synced          bool
	LocallyModified bool
	ServerID        ItemID
	CreatedAt       string
	UpdatedAt       string
	Photos          map[GroupName][]PhotoEntry
}

// NaturalKey identifies a record independently of its id
func (r *Record) NaturalKey() string {
	return r.SiteID + "\x00" + r.Crew
}

// NeedsRepair reports whether the record lacks origin or work status
func (r *Record) NeedsRepair() bool {
	return r.Origin == "" || r.WorkStatus == ""
}

// CreatedTime parses created_at, falling back to the work date. Unparsable values yield
// the zero time.
func (r *Record) CreatedTime() time.Time {
	for _, v := range []string{r.CreatedAt, r.Date} {
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

type recordMeta struct {
	ID              ItemID `json:"id"`
	Origin          Origin `json:"origem,omitempty"`
	Synced          bool   `json:"synced,omitempty"`
	LocallyModified bool   `json:"locallyModified,omitempty"`
	ServerID        ItemID `json:"serverId,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// MarshalJSON flattens photo groups into their server columns
func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{})
	if err := mergeInto(doc, r.CoreFields); err != nil {
		return nil, err
	}

	meta := recordMeta{
		ID:              r.ID,
		Origin:          r.Origin,
		Synced:          r.Synced,
		LocallyModified: r.LocallyModified,
		ServerID:        r.ServerID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := mergeInto(doc, meta); err != nil {
		return nil, err
	}
	if r.ServerID.IsZero() {
		delete(doc, "serverId")
	}

	for name, entries := range r.Photos {
		g, ok := LookupGroup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
		}
		doc[g.Column] = entries
	}

	return json.Marshal(doc)
}

// UnmarshalJSON reads a server row or cache document. Unknown columns are ignored.
func (r *Record) UnmarshalJSON(data []byte) error {
	var core CoreFields
	if err := json.Unmarshal(data, &core); err != nil {
		return fmt.Errorf("decoding record fields: %w", err)
	}
	var meta recordMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("decoding record metadata: %w", err)
	}
	var columns map[string]json.RawMessage
	if err := json.Unmarshal(data, &columns); err != nil {
		return err
	}

	*r = Record{
		ID:              meta.ID,
		CoreFields:      core,
		Origin:          meta.Origin,
		Synced:          meta.Synced,
		LocallyModified: meta.LocallyModified,
		ServerID:        meta.ServerID,
		CreatedAt:       meta.CreatedAt,
		UpdatedAt:       meta.UpdatedAt,
	}

	for _, g := range Groups {
		raw, ok := columns[g.Column]
		if !ok || string(raw) == "null" {
			continue
		}
		var entries []PhotoEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("decoding column %s: %w", g.Column, err)
		}
		if len(entries) == 0 {
			continue
		}
		if r.Photos == nil {
			r.Photos = make(map[GroupName][]PhotoEntry)
		}
		r.Photos[g.Name] = entries
	}

	return nil
}

func mergeInto(doc map[string]interface{}, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &doc)
}
