package builder

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/tobsdb/chainstore/pkg"
)

func CompareSchemas(old_schema, new_schema *Schema) bool {
	if old_schema.Tables.Len() != new_schema.Tables.Len() {
		pkg.WarnLog(fmt.Sprintf("table count mismatch %d vs %d",
			old_schema.Tables.Len(), new_schema.Tables.Len()))
		return false
	}

	for key, new_table := range new_schema.Tables.Idx {
		if !old_schema.Tables.Has(key) {
			pkg.WarnLog("table in new schema but not in old schema:", key)
			return false
		}
		if !CompareTables(old_schema.Tables.Get(key), new_table) {
			return false
		}
	}
	return true
}

func CompareTables(old_table, new_table *Table) bool {
	if old_table.Name != new_table.Name {
		pkg.WarnLog("table name mismatch", old_table.Name, new_table.Name)
		return false
	}

	if !slices.Equal(old_table.PrimaryKey, new_table.PrimaryKey) {
		pkg.WarnLog("table primary key mismatch", old_table.PrimaryKey, new_table.PrimaryKey)
		return false
	}

	if old_table.Fields.Len() != new_table.Fields.Len() {
		pkg.WarnLog(fmt.Sprintf("field count mismatch on table %s: %d vs %d",
			old_table.Name, old_table.Fields.Len(), new_table.Fields.Len()))
		return false
	}

	for key, new_field := range new_table.Fields.Idx {
		if !old_table.Fields.Has(key) {
			pkg.WarnLog(fmt.Sprintf("field in %s table in new schema but not in old schema:", old_table.Name), key)
			return false
		}
		if !CompareFields(old_table.Name, old_table.Fields.Get(key), new_field) {
			return false
		}
	}

	return true
}

func CompareFields(table_name string, old_field, new_field *Field) bool {
	if old_field.Name != new_field.Name {
		pkg.WarnLog("field name mismatch", old_field.Name, new_field.Name)
		return false
	}

	if old_field.BuiltinType != new_field.BuiltinType {
		pkg.WarnLog("field type mismatch", old_field.BuiltinType, new_field.BuiltinType)
		return false
	}

	if old_field.Unique != new_field.Unique ||
		old_field.Optional != new_field.Optional ||
		old_field.Index != new_field.Index {
		pkg.WarnLog(fmt.Sprintf("field property mismatch on %s field in %s table", old_field.Name, table_name))
		return false
	}

	if !reflect.DeepEqual(old_field.Relation, new_field.Relation) {
		pkg.WarnLog("field relation mismatch", old_field.Relation, new_field.Relation)
		return false
	}

	if !compareDefaults(old_field.Default, new_field.Default) {
		pkg.WarnLog(fmt.Sprintf("field default mismatch on %s field in %s table", old_field.Name, table_name))
		return false
	}

	return true
}

// generators can't be compared, only whether both sides have one
func compareDefaults(a, b any) bool {
	a_gen, b_gen := isGenerator(a), isGenerator(b)
	if a_gen || b_gen {
		return a_gen == b_gen
	}
	a_buf, a_err := json.Marshal(a)
	b_buf, b_err := json.Marshal(b)
	return a_err == nil && b_err == nil && string(a_buf) == string(b_buf)
}

func isGenerator(v any) bool {
	switch v.(type) {
	case DefaultFunc, func() any:
		return true
	}
	return false
}
