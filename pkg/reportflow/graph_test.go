package reportflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportflow/pkg/reportflow"
	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
)

func TestCompile_Valid(t *testing.T) {
	graph, err := reportflow.NewGraph().AddStages(catalog.Default()...).Compile()
	require.NoError(t, err)

	assert.Equal(t, 8, graph.Len())
	assert.Equal(t, catalog.Framing, graph.First())
	assert.Equal(t, catalog.Framing, graph.Clarifying())
	assert.Equal(t, 0, graph.Index(catalog.Framing))
	assert.Equal(t, 7, graph.Index(catalog.FinalReport))
	assert.Equal(t, -1, graph.Index("missing"))

	next, ok := graph.Next(catalog.Framing)
	assert.True(t, ok)
	assert.Equal(t, catalog.Retrieval, next)

	_, ok = graph.Next(catalog.FinalReport)
	assert.False(t, ok)
	_, ok = graph.Next("missing")
	assert.False(t, ok)

	def, ok := graph.Stage(catalog.Concepts)
	require.True(t, ok)
	assert.Equal(t, catalog.Concepts, def.Name)

	assert.Equal(t, []string{catalog.Evidence, catalog.Analogies}, graph.Phase(catalog.Evidence))
	assert.Nil(t, graph.Phase("missing"))
}

func TestCompile_Errors(t *testing.T) {
	clarifying := func(name string) stage.Definition {
		d := simpleDef(name)
		d.Clarifies = true
		return d
	}
	invalid := simpleDef("broken")
	invalid.Schema = nil

	tests := []struct {
		name string
		defs []stage.Definition
		want []error
	}{
		{
			name: "empty",
			want: []error{reportflow.ErrEmptyGraph},
		},
		{
			name: "duplicate",
			defs: []stage.Definition{simpleDef("a"), simpleDef("a")},
			want: []error{reportflow.ErrDuplicateStage},
		},
		{
			name: "invalid definition",
			defs: []stage.Definition{simpleDef("a"), invalid},
			want: []error{reportflow.ErrInvalidStage},
		},
		{
			name: "two clarifying stages",
			defs: []stage.Definition{clarifying("a"), clarifying("b")},
			want: []error{reportflow.ErrMultipleClarifying},
		},
		{
			name: "errors are joined",
			defs: []stage.Definition{clarifying("a"), clarifying("a"), invalid},
			want: []error{reportflow.ErrDuplicateStage, reportflow.ErrInvalidStage, reportflow.ErrMultipleClarifying},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := reportflow.NewGraph().AddStages(tt.defs...).Compile()
			require.Error(t, err)
			assert.Nil(t, graph)
			for _, want := range tt.want {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestAddStage_Panics(t *testing.T) {
	for _, name := range []string{"", "has space", "a/b", "a#1"} {
		t.Run(name, func(t *testing.T) {
			assert.Panics(t, func() {
				reportflow.NewGraph().AddStage(simpleDef(name))
			})
		})
	}
}

func TestPending(t *testing.T) {
	graph, err := reportflow.NewGraph().AddStages(simpleDef("a"), simpleDef("b"), simpleDef("c")).Compile()
	require.NoError(t, err)

	tests := []struct {
		name      string
		completed []string
		want      string
		ok        bool
		err       error
	}{
		{name: "none", completed: nil, want: "a", ok: true},
		{name: "prefix", completed: []string{"a", "b"}, want: "c", ok: true},
		{name: "all", completed: []string{"a", "b", "c"}, ok: false},
		{name: "out of order", completed: []string{"b"}, err: reportflow.ErrUnexpectedStep},
		{name: "too many", completed: []string{"a", "b", "c", "d"}, err: reportflow.ErrUnexpectedStep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := graph.Pending(tt.completed)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompiledGraph_IsImmutable(t *testing.T) {
	g := reportflow.NewGraph().AddStages(simpleDef("a"), simpleDef("b"))
	graph, err := g.Compile()
	require.NoError(t, err)

	g.AddStage(simpleDef("c"))
	stages := graph.Stages()
	stages[0].Name = "mutated"

	assert.Equal(t, []string{"a", "b"}, graph.Names())
}

func TestMode_EventNames(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range reportflow.Modes() {
		name := m.EventName()
		assert.NotEmpty(t, name)
		assert.False(t, seen[name], "duplicate event name %s", name)
		seen[name] = true
		assert.Equal(t, name, m.String())
	}
	assert.Len(t, seen, 3)

	assert.Equal(t, "Mode(99)", reportflow.Mode(99).String())
	assert.Panics(t, func() { _ = reportflow.Mode(-1).EventName() })
}
