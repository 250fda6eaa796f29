//go:build ignore

// Generates the typed ent client for the job and recipe schemas into
// gen/ent. Run from the repo root: go run db/ent/generate.go
package main

import (
	"log"

	"entgo.io/ent/entc"
	"entgo.io/ent/entc/gen"
)

func main() {
	err := entc.Generate(
		"./db/ent/schema",
		&gen.Config{
			Target:  "gen/ent",
			Package: "ent",
			Schema:  "ent/schema",
		},
	)
	if err != nil {
		log.Fatalf("ent codegen: %v", err)
	}
}
