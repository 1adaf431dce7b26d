package builder

import (
	"encoding/json"
	"fmt"

	"github.com/tobsdb/chainstore/internal/types"
	"github.com/tobsdb/chainstore/pkg"
)

// DefaultFunc is a generator default, evaluated once per inserted row.
type DefaultFunc func() any

// Relation describes a virtual row joining LocalField of the owning table to
// ForeignField of ForeignTable.
type Relation struct {
	LocalField   string `json:"localField"`
	ForeignField string `json:"foreignField"`
	ForeignTable string `json:"foreignTable"`
}

type Field struct {
	Name        string          `json:"name"`
	BuiltinType types.FieldType `json:"type"`
	Unique      bool            `json:"unique,omitempty"`
	Optional    bool            `json:"optional,omitempty"`
	Index       bool            `json:"index,omitempty"`
	// a literal value or a DefaultFunc
	Default  any       `json:"-"`
	Relation *Relation `json:"relation,omitempty"`

	Table *Table `json:"-"`
}

func (field *Field) IsRelation() bool { return field.Relation != nil }

func (field *Field) HasDefault() bool { return field.Default != nil }

func (field *Field) DefaultValue() any {
	if gen, ok := field.Default.(DefaultFunc); ok {
		return gen()
	}
	if gen, ok := field.Default.(func() any); ok {
		return gen()
	}
	return pkg.CloneValue(field.Default)
}

type IndexLevel int

const (
	IndexLevelNone IndexLevel = iota
	IndexLevelIndexed
	IndexLevelUnique
	IndexLevelPrimary
)

func (field *Field) IndexLevel() IndexLevel {
	if field.Table != nil && field.Table.IsPrimaryKey(field.Name) {
		return IndexLevelPrimary
	}
	if field.Unique {
		return IndexLevelUnique
	}
	if field.Index {
		return IndexLevelIndexed
	}
	return IndexLevelNone
}

// ValidateType checks input against the declared type and returns its
// normalized form. nil passes through untouched, callers decide whether the
// field may be empty.
func (field *Field) ValidateType(input any) (any, error) {
	if input == nil {
		return nil, nil
	}

	switch field.BuiltinType {
	case types.FieldTypeInt:
		if _, is_bool := input.(bool); !is_bool {
			if v, ok := pkg.ToInt64(input); ok {
				return v, nil
			}
		}
		if n, ok := input.(json.Number); ok {
			if v, err := n.Int64(); err == nil {
				return v, nil
			}
		}
	case types.FieldTypeBool:
		if v, ok := input.(bool); ok {
			return v, nil
		}
	case types.FieldTypeString:
		if v, ok := input.(string); ok {
			return v, nil
		}
	case types.FieldTypeObject:
		if _, err := json.Marshal(input); err != nil {
			return nil, types.TypeMismatchError(field.Name, field.BuiltinType, input)
		}
		return pkg.CloneValue(input), nil
	default:
		return nil, unsupportedFieldTypeError(string(field.BuiltinType), field.Name)
	}
	return nil, types.TypeMismatchError(field.Name, field.BuiltinType, input)
}

// if schema validation is working properly this error should never occur
func unsupportedFieldTypeError(invalid_type, field_name string) error {
	return fmt.Errorf("Unsupported field type for %s: %s", field_name, invalid_type)
}

// field local rules:
// - relation rows only describe a join, they can't carry storage props
// - primary key fields can't be optional or Object typed
// - literal defaults must match the field type
func CheckFieldRules(field *Field) error {
	if field.IsRelation() {
		if field.Unique || field.Index || field.HasDefault() {
			return types.InvalidSchemaError("field(%s relation) cannot have unique, index or default props", field.Name)
		}
		return nil
	}

	if !field.BuiltinType.IsValid() {
		return types.InvalidSchemaError("field(%s) has invalid type %s", field.Name, field.BuiltinType)
	}

	if field.Table != nil && field.Table.IsPrimaryKey(field.Name) {
		if field.Optional {
			return types.InvalidSchemaError("field(%s %s primary key) cannot be optional", field.Name, field.BuiltinType)
		}
		if field.BuiltinType == types.FieldTypeObject {
			return types.InvalidSchemaError("field(%s %s primary key) cannot be an Object", field.Name, field.BuiltinType)
		}
	}

	switch field.Default.(type) {
	case nil, DefaultFunc, func() any:
	default:
		v, err := field.ValidateType(field.Default)
		if err != nil {
			return types.InvalidSchemaError("field(%s %s) has invalid default: %s", field.Name, field.BuiltinType, err.Error())
		}
		field.Default = v
	}

	return nil
}
