package store

import (
	"context"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/pkg"
)

// ValidateInclude checks that every relation named by include, at any depth,
// is declared.
func ValidateInclude(schema *builder.Schema, table *builder.Table, include query.Include) error {
	for name, nested := range include {
		rel, err := schema.Relation(table.Name, name)
		if err != nil {
			return err
		}
		if len(nested) == 0 {
			continue
		}
		foreign, err := schema.Table(rel.ForeignTable)
		if err != nil {
			return err
		}
		if err := ValidateInclude(schema, foreign, nested); err != nil {
			return err
		}
	}
	return nil
}

// LoadRelations attaches the relations named by include to rows. Each
// relation costs one FindMany on finder; nested includes are loaded by that
// query. Rows with no related row get an explicit nil.
func LoadRelations(ctx context.Context, finder Finder, table *builder.Table, rows []builder.Row, include query.Include) error {
	if len(include) == 0 || len(rows) == 0 {
		return nil
	}

	for _, name := range pkg.SortedKeys(include) {
		rel, err := table.Schema.Relation(table.Name, name)
		if err != nil {
			return err
		}

		seen := map[string]bool{}
		values := []any{}
		for _, row := range rows {
			v := row[rel.LocalField]
			if v == nil {
				continue
			}
			key := query.Canonical(v)
			if !seen[key] {
				seen[key] = true
				values = append(values, v)
			}
		}

		matches := map[string]builder.Row{}
		if len(values) > 0 {
			related, err := finder.FindMany(ctx, rel.ForeignTable, FindArgs{
				Where:   query.Where{rel.ForeignField: values},
				Include: include[name],
			})
			if err != nil {
				return err
			}
			for _, r := range related {
				key := query.Canonical(r[rel.ForeignField])
				if _, ok := matches[key]; !ok {
					matches[key] = r
				}
			}
		}

		for _, row := range rows {
			v := row[rel.LocalField]
			if v == nil {
				row[name] = nil
				continue
			}
			if match, ok := matches[query.Canonical(v)]; ok {
				row[name] = builder.CloneRow(match)
			} else {
				row[name] = nil
			}
		}
	}
	return nil
}
