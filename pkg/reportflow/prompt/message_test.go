package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportflow/pkg/reportflow/prompt"
)

func TestTemplate_Render(t *testing.T) {
	tmpl := prompt.Template{
		Name:   "an1",
		Prefix: "You are an engineering analyst.",
		System: "Stage: retrieval.",
		User:   "Problem: ${an0.problem_statement}\nAnswer: ${clarification_answer|none}",
	}

	msg, err := tmpl.Render(vars())
	require.NoError(t, err)
	assert.Equal(t, "You are an engineering analyst.", msg.Prefix)
	assert.Equal(t, "Stage: retrieval.", msg.System)
	assert.Equal(t, "Problem: Passive cooling under 40mm\nAnswer: none", msg.User)
}

func TestTemplate_RenderErrors(t *testing.T) {
	_, err := prompt.Template{Name: "an2", User: "${an1.plan}"}.Render(vars())
	assert.ErrorContains(t, err, "render prompt an2")
	assert.ErrorContains(t, err, "an1.plan")

	_, err = prompt.Template{Name: "an2", System: "only system"}.Render(vars())
	assert.ErrorContains(t, err, "user message is empty")
}
