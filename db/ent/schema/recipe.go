package schema

import (
	"encoding/json"
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"
)

// Recipe stores one extracted recipe. The normalized payload is kept as
// JSON; title and locale are lifted out for listing and search.
type Recipe struct{ ent.Schema }

func (Recipe) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "recipe"},
	}
}

func (Recipe) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("user_id", uuid.UUID{}),
		field.String("title").NotEmpty(),
		field.String("locale").Default("en-US"),
		field.JSON("data", json.RawMessage{}).
			SchemaType(map[string]string{dialect.Postgres: "jsonb"}),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (Recipe) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("pages", PageExtractionJob.Type),
	}
}

func (Recipe) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("user_id", "created_at"),
	}
}
