package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/pkg"
)

// Snapshot holds the staged state of rows by collection and primary key
// (builder.Table.KeyOf). A nil row marks a key as deleted, which also makes
// it available to a create.
type Snapshot map[string]map[string]builder.Row

func (s Snapshot) Clone() Snapshot {
	res := make(Snapshot, len(s))
	for collection, rows := range s {
		c := make(map[string]builder.Row, len(rows))
		for key, row := range rows {
			c[key] = builder.CloneRow(row)
		}
		res[collection] = c
	}
	return res
}

// Lookup reports the staged row for key and whether the snapshot knows the
// key at all.
func (s Snapshot) Lookup(collection, key string) (builder.Row, bool) {
	row, ok := s[collection][key]
	return row, ok
}

func (s Snapshot) Set(collection, key string, row builder.Row) {
	if s[collection] == nil {
		s[collection] = map[string]builder.Row{}
	}
	s[collection][key] = row
}

// Keys returns the keys staged for collection in sorted order.
func (s Snapshot) Keys(collection string) []string {
	return pkg.SortedKeys(s[collection])
}

// TransactionCtx is one frame of the cache's stack.
type TransactionCtx struct {
	Snapshot Snapshot
	id       uuid.UUID

	startTime time.Time
}

// NewTransactionCtx starts a frame on a copy of base.
func NewTransactionCtx(base Snapshot) *TransactionCtx {
	return &TransactionCtx{base.Clone(), uuid.Must(uuid.NewV7()), time.Now()}
}

func (ctx *TransactionCtx) Id() uuid.UUID { return ctx.id }

func (ctx *TransactionCtx) Age() time.Duration { return time.Since(ctx.startTime) }
