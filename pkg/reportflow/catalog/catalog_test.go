package catalog_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

func newState(t *testing.T) *state.ChainState {
	t.Helper()
	s, err := state.New(state.Identity{ReportID: uuid.NewString()},
		"reduce thermal resistance in heat exchangers under high pressure", time.Now())
	require.NoError(t, err)
	return s
}

func TestDefault_Definitions(t *testing.T) {
	defs := catalog.Default()
	require.Len(t, defs, 8)

	seen := map[string]bool{}
	clarifying := 0
	for _, d := range defs {
		require.NoError(t, d.Validate(), d.Name)
		assert.False(t, seen[d.Name], "duplicate %s", d.Name)
		seen[d.Name] = true
		if d.Clarifies {
			clarifying++
			assert.Equal(t, catalog.Framing, d.Name)
		}
		if d.Optional {
			assert.NotNil(t, d.Fallback, d.Name)
		}
		assert.NotEmpty(t, d.Label)
		assert.NotEmpty(t, d.Phase)
	}
	assert.Equal(t, 1, clarifying)
	assert.Equal(t, catalog.Framing, defs[0].Name)
	assert.Equal(t, catalog.FinalReport, defs[len(defs)-1].Name)
}

func TestCore(t *testing.T) {
	var names []string
	for _, d := range catalog.Core() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"an0", "an1", "an2", "an3", "an4", "an5"}, names)
}

func TestTokenTierOptions(t *testing.T) {
	defs := catalog.Default(
		catalog.WithTokenTiers([]int{1000, 2000}),
		catalog.WithReportTokenTiers([]int{5000}),
	)
	for _, d := range defs {
		if d.Name == catalog.FinalReport {
			assert.Equal(t, []int{5000}, d.TokenTiers)
		} else {
			assert.Equal(t, []int{1000, 2000}, d.TokenTiers, d.Name)
		}
	}
}

func TestPrompts_RenderWithPriorOutputs(t *testing.T) {
	s := newState(t)
	outputs := map[string]schema.Record{
		catalog.Framing:    {"problem_statement": "lower thermal resistance", "title": "HX", "domain": "thermal", "success_metrics": []any{"R < 0.1 K/W"}},
		catalog.Retrieval:  {"prior_art": []any{}},
		catalog.Evidence:   {"evidence": []any{}},
		catalog.Analogies:  {"analogies": []any{}},
		catalog.Innovation: {"principles": []any{}},
		catalog.Concepts:   {"concepts": []any{map[string]any{"id": "c1", "name": "Microchannels"}}},
		catalog.Evaluation: {"evaluations": []any{}},
	}

	for _, d := range catalog.Default() {
		msg, err := d.Prompt(s)
		require.NoError(t, err, d.Name)
		assert.NotEmpty(t, msg.User, d.Name)
		assert.NotEmpty(t, msg.Prefix, d.Name)
		assert.NotContains(t, msg.User, "${", d.Name)

		if out, ok := outputs[d.Name]; ok {
			require.NoError(t, s.Append(state.StageOutput{Stage: d.Name, Payload: out}))
		}
	}
}

func TestPrompts_SharedPrefix(t *testing.T) {
	tmpls := catalog.Templates()
	require.Len(t, tmpls, 8)
	prefix := tmpls[catalog.Framing].Prefix
	for name, tmpl := range tmpls {
		assert.Equal(t, prefix, tmpl.Prefix, name)
		assert.Equal(t, name, tmpl.Name)
	}
}

func TestFramingPrompt_UsesClarificationAnswer(t *testing.T) {
	s := newState(t)
	framing := catalog.Default()[0]

	before, err := framing.Prompt(s)
	require.NoError(t, err)
	assert.Contains(t, before.User, "heat exchangers")
	assert.NotContains(t, before.User, "answered")

	s.ClarificationQuestion = "Which working fluid?"
	s.ClarificationAnswer = "Supercritical CO2"
	after, err := framing.Prompt(s)
	require.NoError(t, err)
	assert.Contains(t, after.User, "Which working fluid?")
	assert.Contains(t, after.User, "Supercritical CO2")
}

func TestPrompt_MissingRequiredInput(t *testing.T) {
	s := newState(t)
	concepts := catalog.Default()[5]
	require.Equal(t, catalog.Concepts, concepts.Name)

	_, err := concepts.Prompt(s)
	assert.ErrorContains(t, err, "an0.problem_statement")
}

func TestSchemas(t *testing.T) {
	defs := map[string]stage.Definition{}
	for _, d := range catalog.Default() {
		defs[d.Name] = d
	}

	t.Run("framing requires problem statement", func(t *testing.T) {
		_, err := defs[catalog.Framing].Schema.Validate(map[string]any{"title": "x"})
		var ve *rferrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Fields, "problem_statement")
	})

	t.Run("framing defaults", func(t *testing.T) {
		rec, err := defs[catalog.Framing].Schema.Validate(map[string]any{"problem": "heat"})
		require.NoError(t, err)
		assert.Equal(t, "heat", rec.String("problem_statement"))
		assert.False(t, rec.Bool(stage.FieldNeedsClarification))
		assert.Empty(t, rec.Slice("constraints"))
	})

	t.Run("evaluation enum and score", func(t *testing.T) {
		rec, err := defs[catalog.Evaluation].Schema.Validate(map[string]any{
			"evaluations": []any{
				map[string]any{"concept_id": "c1", "rating": "strong - clear winner", "score": "85/100"},
				map[string]any{"concept_id": "c2", "rating": "Medium", "score": 140},
			},
		})
		require.NoError(t, err)
		evals := rec.Slice("evaluations")
		require.Len(t, evals, 2)
		first, second := asRecord(t, evals[0]), asRecord(t, evals[1])
		assert.Equal(t, "STRONG", first.String("rating"))
		assert.Equal(t, 85, first.Int("score"))
		assert.Equal(t, "MODERATE", second.String("rating"))
		assert.Equal(t, 100, second.Int("score"))
	})

	t.Run("concepts alias", func(t *testing.T) {
		rec, err := defs[catalog.Concepts].Schema.Validate(map[string]any{
			"ideas": []any{map[string]any{"title": "Vapor chamber"}},
		})
		require.NoError(t, err)
		concepts := rec.Slice("concepts")
		require.Len(t, concepts, 1)
		assert.Equal(t, "Vapor chamber", asRecord(t, concepts[0]).String("name"))
	})

	t.Run("report requires body", func(t *testing.T) {
		_, err := defs[catalog.FinalReport].Schema.Validate(map[string]any{"title": "T", "report": ""})
		var ve *rferrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Fields, "report")
	})
}

func TestFallbacks(t *testing.T) {
	s := newState(t)
	for _, d := range catalog.Default() {
		if !d.Optional {
			continue
		}
		rec := d.Fallback(s)
		_, err := d.Schema.Validate(map[string]any(rec))
		assert.NoError(t, err, d.Name)
	}
}

func asRecord(t *testing.T, v any) schema.Record {
	t.Helper()
	switch r := v.(type) {
	case schema.Record:
		return r
	case map[string]any:
		return r
	}
	t.Fatalf("expected an object, got %T", v)
	return nil
}

func TestSamples_ValidateAgainstSchemas(t *testing.T) {
	samples := catalog.Samples()
	for _, d := range catalog.Default() {
		t.Run(d.Name, func(t *testing.T) {
			text, ok := samples[d.Name]
			require.True(t, ok)
			var raw map[string]any
			require.NoError(t, json.Unmarshal([]byte(text), &raw))
			_, err := d.Schema.Validate(raw)
			assert.NoError(t, err)
		})
	}
}
