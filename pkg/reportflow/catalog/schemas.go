package catalog

import (
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
)

// Rating is the concept evaluation scale.
var Rating = schema.NewEnum("MODERATE", "STRONG", "MODERATE", "WEAK").WithSynonyms(map[string]string{
	"HIGH":      "STRONG",
	"PROMISING": "STRONG",
	"MEDIUM":    "MODERATE",
	"MIXED":     "MODERATE",
	"LOW":       "WEAK",
	"POOR":      "WEAK",
})

// Confidence grades a piece of evidence.
var Confidence = schema.NewEnum("MEDIUM", "HIGH", "MEDIUM", "LOW").WithSynonyms(map[string]string{
	"STRONG":   "HIGH",
	"MODERATE": "MEDIUM",
	"WEAK":     "LOW",
})

var framingSchema = schema.New("an0_framing", 1,
	schema.String("problem_statement").AsRequired().WithAliases("problem", "statement"),
	schema.String("title"),
	schema.String("domain"),
	schema.Strings("constraints"),
	schema.Strings("success_metrics").WithAliases("metrics"),
	schema.Objects("key_parameters",
		schema.String("name"),
		schema.Any("value"),
		schema.String("unit"),
	),
	schema.Bool(stage.FieldNeedsClarification),
	schema.String(stage.FieldClarificationQuestion).WithAliases("question"),
)

var retrievalSchema = schema.New("an1_retrieval", 1,
	schema.Strings("search_queries").WithAliases("queries"),
	schema.Objects("prior_art",
		schema.String("title"),
		schema.String("source"),
		schema.String("summary"),
		schema.Number("relevance", 0, 1, 0.5),
	),
	schema.Strings("knowledge_gaps"),
)

var evidenceSchema = schema.New("an1_5_augmentation", 1,
	schema.Objects("evidence",
		schema.String("claim"),
		schema.String("source"),
		schema.Enum("confidence", Confidence),
	),
	schema.String("summary"),
)

var analogySchema = schema.New("an1_7_analogies", 1,
	schema.Objects("analogies",
		schema.String("domain"),
		schema.String("mechanism"),
		schema.String("transfer_idea").WithAliases("transfer"),
	),
)

var innovationSchema = schema.New("an2_innovation", 1,
	schema.Objects("contradictions",
		schema.String("improving"),
		schema.String("worsening"),
		schema.String("description"),
	),
	schema.Objects("principles",
		schema.Integer("id", 1, 40, 1),
		schema.String("name"),
		schema.String("application"),
	),
)

var conceptSchema = schema.New("an3_concepts", 1,
	schema.Objects("concepts",
		schema.String("id"),
		schema.String("name").WithAliases("title"),
		schema.String("description"),
		schema.String("mechanism"),
		schema.Strings("principles"),
	).AsRequired().WithAliases("ideas", "solutions"),
)

var evaluationSchema = schema.New("an4_evaluation", 1,
	schema.Objects("evaluations",
		schema.String("concept_id"),
		schema.Enum("rating", Rating),
		schema.Integer("score", 0, 100, 50),
		schema.Number("feasibility", 0, 100, 50),
		schema.Strings("risks"),
	),
	schema.String("recommended_concept_id").WithAliases("recommended"),
)

var reportSchema = schema.New("an5_report", 1,
	schema.String("title"),
	schema.String("headline"),
	schema.String("executive_summary").WithAliases("summary"),
	schema.String("report").AsRequired().WithAliases("narrative", "body"),
	schema.Strings("recommendations"),
	schema.Strings("next_steps"),
)
