package sqlgen

import (
	"fmt"
	"strings"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/types"
)

var columnTypes = map[types.FieldType]string{
	types.FieldTypeInt:    "INTEGER",
	types.FieldTypeBool:   "BOOLEAN",
	types.FieldTypeString: "TEXT",
	types.FieldTypeObject: "TEXT",
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = Ident(name)
	}
	return strings.Join(quoted, ", ")
}

// CreateTable renders the table definition. Relation rows only contribute a
// FOREIGN KEY clause.
func CreateTable(table *builder.Table) string {
	defs := []string{}
	for _, field := range table.Columns() {
		def := Ident(field.Name) + " " + columnTypes[field.BuiltinType]
		if !field.Optional {
			def += " NOT NULL"
		}
		if field.Unique {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}

	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", identList(table.PrimaryKey)))

	for _, field := range table.Fields.Values() {
		if !field.IsRelation() {
			continue
		}
		rel := field.Relation
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			Ident(rel.LocalField), Ident(rel.ForeignTable), Ident(rel.ForeignField)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", Ident(table.Name), strings.Join(defs, ", "))
}

func CreateIndex(table *builder.Table, name string, keys []string) (string, error) {
	if !builder.ValidIdentifier(name) {
		return "", types.InvalidSchemaError("index name %q is not a valid identifier", name)
	}
	if len(keys) == 0 {
		return "", types.InvalidSchemaError("index %s has no keys", name)
	}
	for _, key := range keys {
		field, err := table.Field(key)
		if err != nil {
			return "", err
		}
		if field.IsRelation() {
			return "", types.UnknownRowError(table.Name, key)
		}
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		Ident(name), Ident(table.Name), identList(keys)), nil
}

// Insert renders the insertion of a prepared row.
func Insert(table *builder.Table, row builder.Row) (string, error) {
	cols, values := []string{}, []string{}
	for _, field := range table.Columns() {
		v, ok := row[field.Name]
		if !ok || v == nil {
			continue
		}
		rendered, err := Value(field, v)
		if err != nil {
			return "", err
		}
		cols = append(cols, Ident(field.Name))
		values = append(values, rendered)
	}
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", Ident(table.Name)), nil
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		Ident(table.Name), strings.Join(cols, ", "), strings.Join(values, ", ")), nil
}

func columnNames(table *builder.Table) []string {
	names := []string{}
	for _, field := range table.Columns() {
		names = append(names, field.Name)
	}
	return names
}

// orderClause appends the primary key so ties resolve like query.Sort.
func orderClause(table *builder.Table, orderBy query.OrderBy) (string, error) {
	if err := orderBy.Validate(table); err != nil {
		return "", err
	}
	terms := []string{}
	for _, order := range orderBy {
		dir := "ASC"
		if order.Desc {
			dir = "DESC"
		}
		terms = append(terms, Ident(order.Field)+" "+dir)
	}
	for _, name := range table.PrimaryKey {
		terms = append(terms, Ident(name)+" ASC")
	}
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// Select renders a query for the persisted columns of table, in declaration
// order.
func Select(table *builder.Table, where query.Where, orderBy query.OrderBy, limit int) (string, error) {
	cond, err := Where(table, where)
	if err != nil {
		return "", err
	}
	order, err := orderClause(table, orderBy)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s%s%s",
		identList(columnNames(table)), Ident(table.Name), cond, order, limitClause(limit)), nil
}

func Count(table *builder.Table, where query.Where) (string, error) {
	cond, err := Where(table, where)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", Ident(table.Name), cond), nil
}

// Update renders a prepared update, nil values clear the column.
func Update(table *builder.Table, where query.Where, update builder.Row) (string, error) {
	if len(update) == 0 {
		return "", fmt.Errorf("empty update on table %s", table.Name)
	}
	cond, err := Where(table, where)
	if err != nil {
		return "", err
	}

	sets := []string{}
	for _, field := range table.Columns() {
		v, ok := update[field.Name]
		if !ok {
			continue
		}
		rendered, err := Value(field, v)
		if err != nil {
			return "", err
		}
		sets = append(sets, Ident(field.Name)+" = "+rendered)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", Ident(table.Name), strings.Join(sets, ", "), cond), nil
}

// Delete renders a delete. With a limit the matching rows are picked through a
// rowid sub-select so ordering applies.
func Delete(table *builder.Table, where query.Where, orderBy query.OrderBy, limit int) (string, error) {
	cond, err := Where(table, where)
	if err != nil {
		return "", err
	}
	if limit <= 0 {
		return fmt.Sprintf("DELETE FROM %s WHERE %s", Ident(table.Name), cond), nil
	}
	order, err := orderClause(table, orderBy)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s WHERE %s%s%s)",
		Ident(table.Name), Ident(table.Name), cond, order, limitClause(limit)), nil
}
