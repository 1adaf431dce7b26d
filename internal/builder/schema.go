package builder

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tobsdb/chainstore/internal/types"
	"github.com/tobsdb/chainstore/pkg"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func ValidIdentifier(name string) bool { return identifierPattern.MatchString(name) }

type Schema struct {
	Tables *pkg.InsertSortMap[string, *Table]
	// table name -> relation row name -> relation
	Relations pkg.Map[string, pkg.Map[string, *Relation]]
}

func NewSchema() *Schema {
	return &Schema{
		Tables:    pkg.NewInsertSortMap[string, *Table](),
		Relations: pkg.Map[string, pkg.Map[string, *Relation]]{},
	}
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Tables.Values())
}

func (s *Schema) Table(name string) (*Table, error) {
	if !s.Tables.Has(name) {
		return nil, types.UnknownCollectionError(name)
	}
	return s.Tables.Get(name), nil
}

// Relation returns the relation declared by the row rel_name of table_name.
func (s *Schema) Relation(table_name, rel_name string) (*Relation, error) {
	rels, ok := s.Relations[table_name]
	if !ok || !rels.Has(rel_name) {
		return nil, types.UnknownRowError(table_name, rel_name)
	}
	return rels.Get(rel_name), nil
}

// ConstructSchema validates tables and links them into a schema.
func ConstructSchema(tables []*Table) (*Schema, error) {
	schema := NewSchema()
	for _, table := range tables {
		if err := schema.addTable(table); err != nil {
			return nil, err
		}
	}
	if err := schema.validateRelations(); err != nil {
		return nil, err
	}
	return schema, nil
}

func (s *Schema) addTable(table *Table) error {
	if !ValidIdentifier(table.Name) {
		return types.InvalidSchemaError("table name %q is not a valid identifier", table.Name)
	}
	if s.Tables.Has(table.Name) {
		return types.InvalidSchemaError("table %s is declared more than once", table.Name)
	}
	if len(table.PrimaryKey) == 0 {
		return types.InvalidSchemaError("table %s has no primary key", table.Name)
	}

	fields := []*Field{}
	if table.Fields != nil {
		fields = table.Fields.Values()
	}
	table.Fields = pkg.NewInsertSortMap[string, *Field]()
	table.Indexes = []string{}
	for _, field := range fields {
		if !ValidIdentifier(field.Name) {
			return types.InvalidSchemaError("field name %q in table %s is not a valid identifier", field.Name, table.Name)
		}
		if table.Fields.Has(field.Name) {
			return types.InvalidSchemaError("field %s is declared more than once in table %s", field.Name, table.Name)
		}
		field.Table = table
		table.Fields.Push(field.Name, field)
	}

	seen_pk := map[string]bool{}
	for _, name := range table.PrimaryKey {
		if seen_pk[name] {
			return types.InvalidSchemaError("primary key field %s is repeated in table %s", name, table.Name)
		}
		seen_pk[name] = true
		if !table.Fields.Has(name) || table.Fields.Get(name).IsRelation() {
			return types.InvalidSchemaError("primary key field %s does not exist in table %s", name, table.Name)
		}
	}

	for _, field := range table.Fields.Values() {
		if err := CheckFieldRules(field); err != nil {
			return err
		}
		if !field.IsRelation() && field.IndexLevel() > IndexLevelNone {
			table.Indexes = append(table.Indexes, field.Name)
		}
	}

	table.Schema = s
	s.Tables.Push(table.Name, table)
	return nil
}

func (s *Schema) validateRelations() error {
	relations := pkg.Map[string, pkg.Map[string, *Relation]]{}
	for _, table := range s.Tables.Values() {
		rels := pkg.Map[string, *Relation]{}
		for _, field := range table.Fields.Values() {
			if !field.IsRelation() {
				continue
			}
			if err := s.validateRelation(table, field); err != nil {
				return err
			}
			rels.Set(field.Name, field.Relation)
		}
		relations.Set(table.Name, rels)
	}
	s.Relations = relations
	return nil
}

func (s *Schema) validateRelation(table *Table, field *Field) error {
	rel := field.Relation
	invalidRelationError := throwInvalidRelationError(table.Name, rel.ForeignTable, field.Name)

	local, ok := table.Fields.Idx[rel.LocalField]
	if !ok || local.IsRelation() {
		return invalidRelationError(fmt.Sprintf("%q is not a valid field on table %s", rel.LocalField, table.Name))
	}

	rel_table, ok := s.Tables.Idx[rel.ForeignTable]
	if !ok {
		return invalidRelationError(fmt.Sprintf("%q is not a valid table", rel.ForeignTable))
	}

	foreign, ok := rel_table.Fields.Idx[rel.ForeignField]
	if !ok || foreign.IsRelation() {
		return invalidRelationError(fmt.Sprintf("%q is not a valid field on table %s", rel.ForeignField, rel.ForeignTable))
	}

	if local.BuiltinType != foreign.BuiltinType {
		return invalidRelationError("field types must match")
	}
	return nil
}

func throwInvalidRelationError(table_name, rel_table_name, field_name string) func(string) error {
	return func(reason string) error {
		return types.InvalidSchemaError(
			"Invalid relation between %s and %s in field %s; %s",
			table_name, rel_table_name, field_name, reason,
		)
	}
}

// AddTables extends the schema in place. A table that already exists must be
// declared identically, otherwise nothing is added.
func (s *Schema) AddTables(tables []*Table) ([]*Table, error) {
	all := make([]*Table, 0, s.Tables.Len()+len(tables))
	all = append(all, s.Tables.Values()...)

	added := []*Table{}
	for _, table := range tables {
		if existing, ok := s.Tables.Idx[table.Name]; ok {
			if !CompareTables(existing, table) {
				return nil, types.InvalidSchemaError("table %s already exists with a different definition", table.Name)
			}
			continue
		}
		all = append(all, table)
		added = append(added, table)
	}

	next, err := ConstructSchema(all)
	if err != nil {
		for _, table := range s.Tables.Values() {
			table.Schema = s
		}
		return nil, err
	}
	for _, table := range next.Tables.Values() {
		table.Schema = s
	}
	s.Tables = next.Tables
	s.Relations = next.Relations
	return added, nil
}
