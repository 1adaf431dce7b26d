package store

import (
	"context"
	"fmt"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
)

type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpUpsert OpKind = "upsert"
	OpDelete OpKind = "delete"
)

// Op is one staged write. Which payload fields are set depends on Kind.
type Op struct {
	Kind       OpKind        `json:"kind"`
	Collection string        `json:"table"`
	Doc        builder.Row   `json:"data,omitempty"`
	Where      query.Where   `json:"where,omitempty"`
	Update     builder.Row   `json:"update,omitempty"`
	Create     builder.Row   `json:"create,omitempty"`
	OrderBy    query.OrderBy `json:"order_by,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

func CreateOp(collection string, doc builder.Row) Op {
	return Op{Kind: OpCreate, Collection: collection, Doc: doc}
}

func UpdateOp(collection string, args UpdateArgs) Op {
	return Op{Kind: OpUpdate, Collection: collection, Where: args.Where, Update: args.Update}
}

func UpsertOp(collection string, args UpsertArgs) Op {
	return Op{Kind: OpUpsert, Collection: collection, Where: args.Where, Update: args.Update, Create: args.Create}
}

func DeleteOp(collection string, args DeleteArgs) Op {
	return Op{Kind: OpDelete, Collection: collection, Where: args.Where, OrderBy: args.OrderBy, Limit: args.Limit}
}

// Prepare validates op against schema and returns it with defaults applied
// and every value normalized. No I/O happens here.
func (op Op) Prepare(schema *builder.Schema) (Op, error) {
	table, err := schema.Table(op.Collection)
	if err != nil {
		return op, err
	}

	res := Op{Kind: op.Kind, Collection: op.Collection, Limit: op.Limit, OrderBy: op.OrderBy}
	if op.Kind != OpCreate {
		res.Where, err = query.Validate(table, op.Where)
		if err != nil {
			return op, err
		}
	}

	switch op.Kind {
	case OpCreate:
		res.Doc, err = table.PrepareCreate(op.Doc)
	case OpUpdate:
		res.Update, err = table.PrepareUpdate(op.Update)
	case OpUpsert:
		res.Update, err = table.PrepareUpdate(op.Update)
		if err == nil {
			res.Create, err = table.PrepareCreate(op.Create)
		}
	case OpDelete:
		err = op.OrderBy.Validate(table)
	default:
		err = fmt.Errorf("Invalid operation kind %q", op.Kind)
	}
	if err != nil {
		return op, err
	}
	return res, nil
}

// Run replays op against w and returns what the Writer method returned: the
// created row, the affected row count or the *UpsertResult.
func (op Op) Run(ctx context.Context, w Writer) (any, error) {
	switch op.Kind {
	case OpCreate:
		return w.Create(ctx, op.Collection, op.Doc)
	case OpUpdate:
		return w.Update(ctx, op.Collection, UpdateArgs{Where: op.Where, Update: op.Update})
	case OpUpsert:
		return w.Upsert(ctx, op.Collection, UpsertArgs{Where: op.Where, Update: op.Update, Create: op.Create})
	case OpDelete:
		return w.Delete(ctx, op.Collection, DeleteArgs{Where: op.Where, OrderBy: op.OrderBy, Limit: op.Limit})
	}
	return nil, fmt.Errorf("Invalid operation kind %q", op.Kind)
}

func (op Op) Apply(ctx context.Context, w Writer) error {
	_, err := op.Run(ctx, w)
	return err
}

// Filter returns the clause selecting every existing row op may touch. A
// create only touches the row sharing its primary key.
func (op Op) Filter(table *builder.Table) query.Where {
	if op.Kind != OpCreate {
		if op.Where == nil {
			return query.Where{}
		}
		return op.Where
	}
	where := query.Where{}
	for _, name := range table.PrimaryKey {
		where[name] = op.Doc[name]
	}
	return where
}

// Creates reports whether op can add rows beyond those matched by Filter.
func (op Op) Creates() bool { return op.Kind == OpCreate || op.Kind == OpUpsert }

// ApplyAll replays ops in order, stopping at the first error.
func ApplyAll(ctx context.Context, w Writer, ops []Op) error {
	for _, op := range ops {
		if err := op.Apply(ctx, w); err != nil {
			return err
		}
	}
	return nil
}
