package props

import "slices"

type FieldProp string

var VALID_BUILTIN_PROPS = []FieldProp{
	FieldPropOptional, FieldPropDefault, FieldPropRelation,
	FieldPropUnique, FieldPropIndex,
}

const (
	FieldPropOptional FieldProp = "optional" // optional | optional(true/false)
	FieldPropDefault  FieldProp = "default"  // default(value) | default(uuid()) | default(now())
	FieldPropRelation FieldProp = "relation" // relation(localField, table.field)
	FieldPropUnique   FieldProp = "unique"   // unique | unique(true/false)
	FieldPropIndex    FieldProp = "index"
)

func (p FieldProp) IsValid() bool {
	return slices.Contains(VALID_BUILTIN_PROPS, p)
}

// Options is the parsed third element of a row tuple.
type Options struct {
	Unique   bool
	Optional bool
	Index    bool

	HasDefault bool
	Default    any

	Relation *RelationProp
}

type RelationProp struct {
	LocalField   string `json:"localField"`
	ForeignField string `json:"foreignField"`
	ForeignTable string `json:"foreignTable"`
}
