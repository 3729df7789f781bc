// Package catalog defines the default report stages: framing, retrieval,
// two optional augmentation passes, contradiction analysis, concept
// generation, evaluation, and the final report.
package catalog

import (
	"fmt"

	"github.com/randalmurphal/reportflow/pkg/reportflow/prompt"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// Stage names.
const (
	Framing     = "an0"
	Retrieval   = "an1"
	Evidence    = "an1_5"
	Analogies   = "an1_7"
	Innovation  = "an2"
	Concepts    = "an3"
	Evaluation  = "an4"
	FinalReport = "an5"
)

// Progress fields read from stage outputs.
const (
	TitlePath        = FinalReport + ".title"
	HeadlinePath     = FinalReport + ".headline"
	FramingTitlePath = Framing + ".title"
	ReportBodyPath   = FinalReport + ".report"
)

// Option configures the catalog.
type Option func(*options)

type options struct {
	tiers       []int
	reportTiers []int
}

// WithTokenTiers sets the tiers for stages that do not need a larger budget.
func WithTokenTiers(tiers []int) Option {
	return func(o *options) { o.tiers = append([]int(nil), tiers...) }
}

// WithReportTokenTiers sets the tiers for the final report stage.
func WithReportTokenTiers(tiers []int) Option {
	return func(o *options) { o.reportTiers = append([]int(nil), tiers...) }
}

// Default returns all stages in execution order.
func Default(opts ...Option) []stage.Definition {
	o := options{
		tiers:       stage.DefaultTokenTiers,
		reportTiers: []int{8192, 16384, 32000},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return []stage.Definition{
		{
			Name: Framing, Phase: "framing", Label: "Framing the problem",
			Schema: framingSchema, Prompt: render(framingPrompt),
			TokenTiers: o.tiers, Clarifies: true,
		},
		{
			Name: Retrieval, Phase: "retrieval", Label: "Surveying prior art",
			Schema: retrievalSchema, Prompt: render(retrievalPrompt),
			TokenTiers: o.tiers,
		},
		{
			Name: Evidence, Phase: "augmentation", Label: "Weighing evidence",
			Schema: evidenceSchema, Prompt: render(evidencePrompt),
			TokenTiers: o.tiers, Optional: true,
			Fallback: func(*state.ChainState) schema.Record {
				return schema.Record{"evidence": []any{}, "summary": ""}
			},
		},
		{
			Name: Analogies, Phase: "augmentation", Label: "Finding cross-domain analogies",
			Schema: analogySchema, Prompt: render(analogyPrompt),
			TokenTiers: o.tiers, Optional: true,
			Fallback: func(*state.ChainState) schema.Record {
				return schema.Record{"analogies": []any{}}
			},
		},
		{
			Name: Innovation, Phase: "innovation", Label: "Resolving contradictions",
			Schema: innovationSchema, Prompt: render(innovationPrompt),
			TokenTiers: o.tiers,
		},
		{
			Name: Concepts, Phase: "concepts", Label: "Generating concepts",
			Schema: conceptSchema, Prompt: render(conceptPrompt),
			TokenTiers: o.tiers, Temperature: 0.7,
		},
		{
			Name: Evaluation, Phase: "evaluation", Label: "Evaluating concepts",
			Schema: evaluationSchema, Prompt: render(evaluationPrompt),
			TokenTiers: o.tiers,
		},
		{
			Name: FinalReport, Phase: "report", Label: "Writing the report",
			Schema: reportSchema, Prompt: render(reportPrompt),
			TokenTiers: o.reportTiers,
		},
	}
}

// Core returns the six required stages, without the optional augmentation
// passes.
func Core(opts ...Option) []stage.Definition {
	var out []stage.Definition
	for _, d := range Default(opts...) {
		if !d.Optional {
			out = append(out, d)
		}
	}
	return out
}

// Templates returns the prompt template of every stage by name.
func Templates() map[string]prompt.Template {
	return map[string]prompt.Template{
		Framing:     framingPrompt,
		Retrieval:   retrievalPrompt,
		Evidence:    evidencePrompt,
		Analogies:   analogyPrompt,
		Innovation:  innovationPrompt,
		Concepts:    conceptPrompt,
		Evaluation:  evaluationPrompt,
		FinalReport: reportPrompt,
	}
}

// Variables returns what prompt templates may reference for s: the state
// view plus a rendered clarification block once the user has answered.
func Variables(s *state.ChainState) map[string]any {
	vars := s.View()
	if s.ClarificationAnswer != "" {
		vars["clarification_block"] = fmt.Sprintf(
			"\nYou previously asked: %s\nThe user answered: %s\nUse the answer. Ask again only if the problem is still unanalysable.",
			s.ClarificationQuestion, s.ClarificationAnswer)
	}
	return vars
}

func render(t prompt.Template) func(*state.ChainState) (prompt.Message, error) {
	return func(s *state.ChainState) (prompt.Message, error) {
		return t.Render(Variables(s))
	}
}
