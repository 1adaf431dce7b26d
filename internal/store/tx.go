package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/pkg"
)

type TxState int

const (
	TxStaging TxState = iota
	TxApplying
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxStaging:
		return "staging"
	case TxApplying:
		return "applying"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	}
	return fmt.Sprintf("TxState(%d)", int(s))
}

// Tx collects writes while a transaction closure runs. Nothing touches the
// backend until the closure returns.
type Tx struct {
	schema *builder.Schema
	state  TxState
	ops    []Op

	on_commit   []func()
	on_error    []func(error)
	on_complete []func(error)
}

func NewTx(schema *builder.Schema) *Tx {
	return &Tx{schema: schema, state: TxStaging}
}

func (tx *Tx) State() TxState { return tx.state }

// Ops returns the staged operations in submission order.
func (tx *Tx) Ops() []Op { return tx.ops }

// Push validates op and appends it to the staged operations.
func (tx *Tx) Push(op Op) error {
	if tx.state != TxStaging {
		return fmt.Errorf("transaction is %s, can't stage %s on %s", tx.state, op.Kind, op.Collection)
	}
	prepared, err := op.Prepare(tx.schema)
	if err != nil {
		return err
	}
	tx.ops = append(tx.ops, prepared)
	return nil
}

func (tx *Tx) Create(collection string, doc builder.Row) error {
	return tx.Push(CreateOp(collection, doc))
}

func (tx *Tx) CreateMany(collection string, docs []builder.Row) error {
	for _, doc := range docs {
		if err := tx.Create(collection, doc); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) Update(collection string, args UpdateArgs) error {
	return tx.Push(UpdateOp(collection, args))
}

func (tx *Tx) Upsert(collection string, args UpsertArgs) error {
	return tx.Push(UpsertOp(collection, args))
}

func (tx *Tx) Delete(collection string, args DeleteArgs) error {
	return tx.Push(DeleteOp(collection, args))
}

func (tx *Tx) OnCommit(fn func()) { tx.on_commit = append(tx.on_commit, fn) }
func (tx *Tx) OnError(fn func(error)) { tx.on_error = append(tx.on_error, fn) }
func (tx *Tx) OnComplete(fn func(error)) { tx.on_complete = append(tx.on_complete, fn) }

// RunTransaction stages fn's writes and hands them to apply, which must land
// all of them or none. Hooks run after the outcome is known, in registration
// order. The error returned is the one from fn or apply.
func RunTransaction(ctx context.Context, schema *builder.Schema, fn func(*Tx) error, apply func(context.Context, []Op) error) error {
	tx := NewTx(schema)
	err := fn(tx)
	if err == nil {
		tx.state = TxApplying
		err = apply(ctx, tx.ops)
	}

	if err != nil {
		tx.state = TxRolledBack
		for _, hook := range tx.on_error {
			runHook("onError", func() { hook(err) })
		}
		for _, hook := range tx.on_complete {
			runHook("onComplete", func() { hook(err) })
		}
		return err
	}

	tx.state = TxCommitted
	for _, hook := range tx.on_commit {
		runHook("onCommit", hook)
	}
	for _, hook := range tx.on_complete {
		runHook("onComplete", func() { hook(nil) })
	}
	return nil
}

func runHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			pkg.WithFields(logrus.Fields{"hook": name}).Errorf("transaction hook panicked: %v", r)
		}
	}()
	fn()
}
