package parallel

import (
	"context"

	"github.com/replimux/replimux/internal/meta"
)

// Sinker is the capability interface every backend writer implements
// (spec.md §9's "closed variant types + capability interface" note). Batch
// hints let a sinker choose a bulk query shape or fall back to per-row
// serial application.
type Sinker interface {
	SinkDml(ctx context.Context, rows []meta.RowData, batch bool) error
	SinkDdl(ctx context.Context, ddls []meta.DdlData, batch bool) error
	SinkDcl(ctx context.Context, dcls []meta.DclData, batch bool) error
	SinkStruct(ctx context.Context, structs []meta.StructData) error
	RefreshMeta(ctx context.Context, ddls []meta.DdlData) error
	Close(ctx context.Context) error
}
