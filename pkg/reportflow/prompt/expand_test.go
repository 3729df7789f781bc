package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportflow/pkg/reportflow/prompt"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
)

func vars() map[string]any {
	return map[string]any{
		"user_input": "cool a battery pack",
		"count":      2,
		"an0": map[string]any{
			"problem_statement": "Passive cooling under 40mm",
			"constraints":       []any{"no fans", "IP67"},
		},
		"an3": schema.Record{
			"concepts": []any{map[string]any{"name": "heat pipe"}},
		},
	}
}

func TestExpand(t *testing.T) {
	exp := prompt.NewExpander()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Input: ${user_input}", "Input: cool a battery pack"},
		{"number", "n=${count}", "n=2"},
		{"dotted", "${an0.problem_statement}", "Passive cooling under 40mm"},
		{"record and index", "${an3.concepts.0.name}", "heat pipe"},
		{"array as json", "${an0.constraints}", "[\n  \"no fans\",\n  \"IP67\"\n]"},
		{"fallback used", "${an1_7.analogies|none}", "none"},
		{"fallback ignored", "${user_input|x}", "cool a battery pack"},
		{"empty fallback", "[${missing|}]", "[]"},
		{"missing kept", "${missing.path}", "${missing.path}"},
		{"no placeholders", "plain $5 text", "plain $5 text"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exp.Expand(tt.in, vars())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpand_MissingActions(t *testing.T) {
	empty := prompt.NewExpander(prompt.WithMissingAction(prompt.MissingEmpty))
	got, err := empty.Expand("a${x}b", nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", got)

	strict := prompt.NewExpander(prompt.WithMissingAction(prompt.MissingError))
	_, err = strict.Expand("${x} ${an0.nope}", vars())
	var undef *prompt.UndefinedVariableError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, []string{"x", "an0.nope"}, undef.Names)
	assert.Equal(t, "undefined variables: x, an0.nope", err.Error())
}

func TestExpand_Formatting(t *testing.T) {
	compact := prompt.NewExpander(prompt.WithCompactJSON())
	got, err := compact.Expand("${an0.constraints}", vars())
	require.NoError(t, err)
	assert.Equal(t, `["no fans","IP67"]`, got)

	short := prompt.NewExpander(prompt.WithMaxValueLen(7))
	got, err = short.Expand("${an0.problem_statement}", vars())
	require.NoError(t, err)
	assert.Equal(t, "Passive…", got)
}

func TestPackageExpand(t *testing.T) {
	assert.Equal(t, "hi ${who}", prompt.Expand("hi ${who}", nil))
}

func TestVariables(t *testing.T) {
	got := prompt.Variables("${a} ${b.c|d} ${a} $e")
	assert.Equal(t, []string{"a", "b.c"}, got)
}
