package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"

	"github.com/habitsapp/recipe-extractor/constants"
	"github.com/habitsapp/recipe-extractor/db/ent/schema/utils"
)

// PageExtractionJob is the child job: one row per page of the parent's
// document, settled independently.
type PageExtractionJob struct{ ent.Schema }

func (PageExtractionJob) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "pdf_page_extraction_job"},
	}
}

func (PageExtractionJob) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		// explicit FK
		field.UUID("job_id", uuid.UUID{}),
		field.String("scheduler_ref").NotEmpty().Unique(),
		field.Int("page_number").Positive(),
		field.String("status").NotEmpty().
			Default(string(constants.PageStatusPending)).
			Validate(utils.EnumValidator(constants.PageStatuses...)),
		// Set only on completed pages; a completed page always has one.
		field.UUID("recipe_id", uuid.UUID{}).Optional().Nillable(),
		field.String("recipe_title").Optional().Nillable(),
		field.Int("attempts").Default(0),
		field.String("last_error").Optional().Nillable(),
		field.Time("completed_at").Optional().Nillable(),
	}
}

func (PageExtractionJob) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("job", ExtractionJob.Type).
			Ref("pages").
			Field("job_id").
			Unique().
			Required(),
		edge.From("recipe", Recipe.Type).
			Ref("pages").
			Field("recipe_id").
			Unique(),
	}
}

func (PageExtractionJob) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("job_id", "page_number").Unique(),
		index.Fields("job_id", "status"),
	}
}
