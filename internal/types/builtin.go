package types

import "slices"

var VALID_BUILTIN_TYPES = []FieldType{
	FieldTypeInt, FieldTypeBool, FieldTypeString, FieldTypeObject,
}

type FieldType string

const (
	FieldTypeInt    FieldType = "Int"
	FieldTypeBool   FieldType = "Bool"
	FieldTypeString FieldType = "String"
	// json encoded in backends without a native document type
	FieldTypeObject FieldType = "Object"
)

func (t FieldType) IsValid() bool { return slices.Contains(VALID_BUILTIN_TYPES, t) }

// Ordered reports whether lt/lte/gt/gte are defined for the type.
func (t FieldType) Ordered() bool { return t == FieldTypeInt || t == FieldTypeString }
