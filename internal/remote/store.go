package remote

import (
	"context"

	"github.com/tildaslashalef/obrasync/internal/item"
)

// Payload is a server row: core columns plus one array per photo column
type Payload map[string]interface{}

// Store is the server side of the sync
type Store interface {
	InsertRecord(ctx context.Context, payload Payload) (item.ItemID, error)
	UpdateRecord(ctx context.Context, id item.ItemID, payload Payload) error
	FetchRecordByID(ctx context.Context, id item.ItemID) (*item.Record, error)
	FetchRecordByNaturalKey(ctx context.Context, siteID, crew string) (*item.Record, error)
}

// Lister is implemented by stores that can page through recent records
type Lister interface {
	ListRecords(ctx context.Context, crew string, limit int) ([]item.Record, error)
}
