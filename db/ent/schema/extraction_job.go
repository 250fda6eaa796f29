package schema

import (
	"time"

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

// ExtractionJob is the parent job: one row per accepted PDF document.
type ExtractionJob struct{ ent.Schema }

func (ExtractionJob) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "pdf_extraction_job"},
	}
}

func (ExtractionJob) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("user_id", uuid.UUID{}),
		field.String("scheduler_ref").NotEmpty().Unique(),
		// Unknown until the document metadata has been read.
		field.Int("total_pages").Optional().Nillable(),
		field.Int("pages_processed").Default(0),
		field.Int("recipes_extracted").Default(0),
		field.String("status").NotEmpty().
			Default(string(constants.JobStatusPending)).
			Validate(utils.EnumValidator(constants.JobStatuses...)),
		// Document-level failures only; page errors live on the child.
		field.String("error_message").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("started_at").Optional().Nillable(),
		field.Time("completed_at").Optional().Nillable(),
	}
}

func (ExtractionJob) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("pages", PageExtractionJob.Type),
	}
}

func (ExtractionJob) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("user_id", "status", "created_at"),
	}
}
