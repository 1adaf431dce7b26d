package main

import (
	"fmt"
	"os"
	"path"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/sqlgen"
)

// Checks a JSON schema declaration and prints the SQL it maps to.
func main() {
	args := os.Args
	var schema_path string

	if len(args) > 1 {
		schema_path = args[1]
	} else {
		schema_path = "./schema.json"
	}

	if !path.IsAbs(schema_path) {
		cwd, _ := os.Getwd()
		schema_path = path.Join(cwd, schema_path)
	}

	fmt.Printf("Checking %s for errors\n", schema_path)

	schema_data, err := os.ReadFile(schema_path)
	if err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}

	tables, err := builder.ParseDeclaration(schema_data)
	if err == nil {
		_, err = builder.ConstructSchema(tables)
	}
	if err != nil {
		fmt.Printf("Invalid schema; %s\n", err.Error())
		os.Exit(1)
	}

	for _, table := range tables {
		fmt.Println(sqlgen.CreateTable(table) + ";")
	}
	fmt.Println("Schema checks successful: Schema is valid")
}
