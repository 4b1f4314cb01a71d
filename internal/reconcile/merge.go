// Package reconcile merges the server, local cache and queue views of work records and
// repairs cache entries that drifted from the server.
package reconcile

import (
	"sort"

	"github.com/tildaslashalef/obrasync/internal/item"
)

// Source names the view a merged record was taken from
type Source string

// Record sources, lowest precedence first
const (
	SourceServer  Source = "server"
	SourceLocal   Source = "local"
	SourcePending Source = "pending"
)

// MergedListEntry is one row of the merged list
type MergedListEntry struct {
	Record item.Record
	Origin item.Origin
	Source Source
}

// Resolve picks the copy of one record to show. A queued edit beats the local cache, which
// beats the server. Nil arguments are absent copies.
func Resolve(server, local, pending *item.Record) (*item.Record, Source) {
	switch {
	case pending != nil:
		return pending, SourcePending
	case local != nil:
		return local, SourceLocal
	case server != nil:
		return server, SourceServer
	}
	return nil, ""
}

type candidates struct {
	server, local, pending *item.Record
}

// MergeViews combines the three views into one list, newest first. Copies of the same
// record are matched by id, or by the server id a local copy was synced to.
func MergeViews(server, local, pending []item.Record) []MergedListEntry {
	var order []string
	byKey := make(map[string]*candidates)

	slot := func(rec *item.Record) *candidates {
		key := mergeKey(rec)
		c, ok := byKey[key]
		if !ok {
			c = &candidates{}
			byKey[key] = c
			order = append(order, key)
		}
		return c
	}

	for i := range server {
		slot(&server[i]).server = &server[i]
	}
	for i := range local {
		slot(&local[i]).local = &local[i]
	}
	for i := range pending {
		rec := pending[i]
		rec.Origin = item.OriginOffline
		slot(&pending[i]).pending = &rec
	}

	merged := make([]MergedListEntry, 0, len(order))
	for _, key := range order {
		c := byKey[key]
		winner, source := Resolve(c.server, c.local, c.pending)
		origin := item.OriginOnline
		if winner.Origin == item.OriginOffline {
			origin = item.OriginOffline
		}
		merged = append(merged, MergedListEntry{
			Record: *winner,
			Origin: origin,
			Source: source,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Record.CreatedTime().After(merged[j].Record.CreatedTime())
	})
	return merged
}

func mergeKey(rec *item.Record) string {
	if !rec.ServerID.IsZero() {
		return rec.ServerID.String()
	}
	return rec.ID.String()
}
