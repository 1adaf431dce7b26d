package types

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUnknownCollection
	KindUnknownRow
	KindTypeMismatch
	KindMissingRequiredField
	KindDuplicateKey
	KindInvalidOperator
	KindInvalidSchema
)

var kindStatus = map[ErrorKind]int{
	KindUnknown:              http.StatusInternalServerError,
	KindUnknownCollection:    http.StatusNotFound,
	KindUnknownRow:           http.StatusBadRequest,
	KindTypeMismatch:         http.StatusBadRequest,
	KindMissingRequiredField: http.StatusBadRequest,
	KindDuplicateKey:         http.StatusConflict,
	KindInvalidOperator:      http.StatusBadRequest,
	KindInvalidSchema:        http.StatusBadRequest,
}

// QueryError is returned for every validation and constraint failure.
// Compare with errors.Is against the Err* sentinels below.
type QueryError struct {
	kind ErrorKind
	msg  string
}

func NewQueryError(kind ErrorKind, msg string) *QueryError {
	return &QueryError{kind: kind, msg: msg}
}

func (e *QueryError) Error() string   { return e.msg }
func (e *QueryError) Kind() ErrorKind { return e.kind }
func (e *QueryError) Status() int     { return kindStatus[e.kind] }

func (e *QueryError) Is(target error) bool {
	t, ok := target.(*QueryError)
	return ok && t.kind == e.kind
}

var (
	ErrUnknownCollection    = &QueryError{kind: KindUnknownCollection, msg: "unknown collection"}
	ErrUnknownRow           = &QueryError{kind: KindUnknownRow, msg: "unknown row"}
	ErrTypeMismatch         = &QueryError{kind: KindTypeMismatch, msg: "type mismatch"}
	ErrMissingRequiredField = &QueryError{kind: KindMissingRequiredField, msg: "missing required field"}
	ErrDuplicateKey         = &QueryError{kind: KindDuplicateKey, msg: "duplicate key"}
	ErrInvalidOperator      = &QueryError{kind: KindInvalidOperator, msg: "invalid operator"}
	ErrInvalidSchema        = &QueryError{kind: KindInvalidSchema, msg: "invalid schema"}
)

func UnknownCollectionError(name string) error {
	return NewQueryError(KindUnknownCollection, fmt.Sprintf("Table %s not found", name))
}

func UnknownRowError(table, field string) error {
	return NewQueryError(KindUnknownRow, fmt.Sprintf("Table %s has no row %s", table, field))
}

func TypeMismatchError(field string, t FieldType, input any) error {
	return NewQueryError(KindTypeMismatch,
		fmt.Sprintf("Invalid field type for %s: expected %s, got %T", field, t, input))
}

func MissingRequiredFieldError(table, field string) error {
	return NewQueryError(KindMissingRequiredField,
		fmt.Sprintf("Missing required field %s in table %s", field, table))
}

func DuplicateKeyError(table, detail string) error {
	return NewQueryError(KindDuplicateKey,
		fmt.Sprintf("Duplicate key in table %s: %s", table, detail))
}

func InvalidOperatorError(field, op, reason string) error {
	return NewQueryError(KindInvalidOperator,
		fmt.Sprintf("Invalid operator %s on %s: %s", op, field, reason))
}

func InvalidSchemaError(format string, args ...any) error {
	return NewQueryError(KindInvalidSchema, fmt.Sprintf(format, args...))
}

// StatusOf returns the http status associated with err, 500 for foreign errors.
func StatusOf(err error) int {
	var q *QueryError
	if errors.As(err, &q) {
		return q.Status()
	}
	return http.StatusInternalServerError
}
