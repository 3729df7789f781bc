package stage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
	"github.com/randalmurphal/reportflow/pkg/reportflow/jsonrepair"
	"github.com/randalmurphal/reportflow/pkg/reportflow/prompt"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const validReport = `{"title": "Heat", "report": "Use a vapor chamber."}`

func reportDef() stage.Definition {
	return stage.Definition{
		Name:  "an5",
		Phase: "report",
		Schema: schema.New("an5", 1,
			schema.String("title").AsRequired(),
			schema.String("report").AsRequired(),
		),
		Prompt: func(s *state.ChainState) (prompt.Message, error) {
			return prompt.Message{System: "write the report", User: s.UserInput}, nil
		},
		TokenTiers: []int{1000, 2000, 4000},
	}
}

func newChain(t *testing.T) *state.ChainState {
	t.Helper()
	s, err := state.New(state.Identity{ReportID: uuid.NewString()}, "cool a battery", time.Now())
	require.NoError(t, err)
	return s
}

func newExecutor(mock *gateway.Mock, opts ...stage.Option) *stage.Executor {
	gw := gateway.New(mock, gateway.DefaultConfig(), gateway.WithLogger(quiet))
	opts = append([]stage.Option{stage.WithLogger(quiet), stage.WithRetry(rferrors.NoBackoff)}, opts...)
	return stage.NewExecutor(gw, opts...)
}

func maxTokensOf(calls []gateway.TransportRequest) []int {
	out := make([]int, len(calls))
	for i, c := range calls {
		out[i] = c.MaxTokens
	}
	return out
}

func TestRun_FirstAttempt(t *testing.T) {
	mock := gateway.NewMock("").WithStage("an5", gateway.MockResponse{Text: validReport})
	res, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	require.NoError(t, err)
	assert.Equal(t, "Heat", res.Record.String("title"))
	assert.Equal(t, jsonrepair.StrategyDirect, res.Strategy)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, res.Usage.Calls)
	assert.False(t, res.Truncated)

	call := mock.LastCall()
	assert.Equal(t, "write the report", call.System)
	assert.Equal(t, "cool a battery", call.User)
	assert.Equal(t, 1000, call.MaxTokens)
}

func TestRun_RetriesDecodeFailureAtNextTier(t *testing.T) {
	mock := gateway.NewMock("").WithStage("an5",
		gateway.MockResponse{Text: "Sorry, here is prose instead of JSON."},
		gateway.MockResponse{Text: validReport},
	)
	res, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, res.Usage.Calls)
	assert.Equal(t, []int{1000, 2000}, maxTokensOf(mock.Calls()))
}

func TestRun_RetriesValidationFailure(t *testing.T) {
	mock := gateway.NewMock("").WithStage("an5",
		gateway.MockResponse{Text: `{"title": "Heat"}`},
		gateway.MockResponse{Text: validReport},
	)
	res, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestRun_RefusalIsNotRetried(t *testing.T) {
	mock := gateway.NewMock("").WithStage("an5", gateway.MockResponse{Text: "I can't.", StopReason: "refusal"})
	res, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	var refusal *rferrors.RefusalError
	require.ErrorAs(t, err, &refusal)
	assert.Equal(t, "an5", refusal.Stage)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, res.Usage.Calls)
}

func TestRun_ExhaustsAttempts(t *testing.T) {
	mock := gateway.NewMock("").WithError(&gateway.HTTPError{StatusCode: 529, Body: "overloaded"})
	res, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	var failure *rferrors.StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "an5", failure.Stage)
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, rferrors.KindTransient, rferrors.KindOf(err))
	assert.NotNil(t, res)
	assert.Equal(t, 3, res.Usage.Calls)
	assert.Equal(t, []int{1000, 2000, 4000}, maxTokensOf(mock.Calls()))
}

func TestRun_ExhaustedDecodeFailureKind(t *testing.T) {
	mock := gateway.NewMock("no json here")
	_, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	var failure *rferrors.StageFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, rferrors.KindDecode, rferrors.KindOf(err))
}

func TestRun_LastTierRepeats(t *testing.T) {
	def := reportDef()
	def.TokenTiers = []int{100, 200}
	def.MaxAttempts = 4

	mock := gateway.NewMock("nope")
	_, err := newExecutor(mock).Run(context.Background(), def, newChain(t))

	require.Error(t, err)
	assert.Equal(t, []int{100, 200, 200, 200}, maxTokensOf(mock.Calls()))
}

func TestRun_TruncatedOutputAcceptedWhenItRepairs(t *testing.T) {
	mock := gateway.NewMock("").WithStage("an5", gateway.MockResponse{
		Text:       `{"title": "Heat", "report": "Use a vapor chamber.", "appendix": "The measured resis`,
		StopReason: "max_tokens",
	})
	res, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, res.Strategy.Repaired())
	assert.Equal(t, "Use a vapor chamber.", res.Record.String("report"))
	assert.Equal(t, 1, mock.CallCount())
}

func TestRun_TruncatedOutputThatFailsValidationRetries(t *testing.T) {
	mock := gateway.NewMock("").WithStage("an5",
		gateway.MockResponse{Text: `{"title": "Heat", "report": "Use a vap`, StopReason: "max_tokens"},
		gateway.MockResponse{Text: validReport},
	)
	res, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.False(t, res.Truncated)
	assert.Equal(t, "Use a vapor chamber.", res.Record.String("report"))
}

func TestRun_RetryOnTruncation(t *testing.T) {
	mock := gateway.NewMock("").WithStage("an5",
		gateway.MockResponse{Text: `{"title": "Heat", "report": "short", "x": "cu`, StopReason: "max_tokens"},
		gateway.MockResponse{Text: validReport},
	)
	res, err := newExecutor(mock, stage.WithRetryOnTruncation(true)).Run(context.Background(), reportDef(), newChain(t))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "Use a vapor chamber.", res.Record.String("report"))
}

func TestRun_Clarification(t *testing.T) {
	def := reportDef()
	def.Name = "an0"
	def.Clarifies = true
	def.Schema = schema.New("an0", 1,
		schema.String("problem_statement").AsRequired(),
		schema.Bool(stage.FieldNeedsClarification),
		schema.String(stage.FieldClarificationQuestion),
	)

	tests := []struct {
		name     string
		text     string
		needs    bool
		question string
	}{
		{"asks", `{"problem_statement": "p", "needs_clarification": true, "clarification_question": "What size?"}`, true, "What size?"},
		{"string flag", `{"problem_statement": "p", "needs_clarification": "yes", "clarification_question": "Budget?"}`, true, "Budget?"},
		{"flag without question", `{"problem_statement": "p", "needs_clarification": true}`, false, ""},
		{"no flag", `{"problem_statement": "p"}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := gateway.NewMock("").WithStage("an0", gateway.MockResponse{Text: tt.text})
			res, err := newExecutor(mock).Run(context.Background(), def, newChain(t))

			require.NoError(t, err)
			assert.Equal(t, tt.needs, res.NeedsClarification)
			assert.Equal(t, tt.question, res.ClarificationQuestion)
		})
	}
}

func TestRun_NonClarifyingStageIgnoresQuestion(t *testing.T) {
	mock := gateway.NewMock("").WithStage("an5", gateway.MockResponse{
		Text: `{"title": "T", "report": "R", "needs_clarification": true, "clarification_question": "?"}`,
	})
	res, err := newExecutor(mock).Run(context.Background(), reportDef(), newChain(t))

	require.NoError(t, err)
	assert.False(t, res.NeedsClarification)
}

func TestRun_CancelledBeforeCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := gateway.NewMock(validReport)
	res, err := newExecutor(mock).Run(ctx, reportDef(), newChain(t))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.CallCount())
	assert.True(t, res.Usage.IsZero())
}

func TestRun_CancelledDuringCallKeepsUsage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := gateway.NewMock("").WithSendFunc(func(_ context.Context, req gateway.TransportRequest) (gateway.TransportResponse, error) {
		cancel()
		return gateway.TransportResponse{Text: validReport, StopReason: "end_turn", Usage: gateway.Usage{InputTokens: 50, OutputTokens: 10}}, nil
	})

	res, err := newExecutor(mock).Run(ctx, reportDef(), newChain(t))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 50, res.Usage.InputTokens)
	assert.Equal(t, 1, res.Usage.Calls)
}

func TestRun_PromptError(t *testing.T) {
	def := reportDef()
	def.Prompt = func(*state.ChainState) (prompt.Message, error) { return prompt.Message{}, errors.New("missing an0") }

	mock := gateway.NewMock(validReport)
	_, err := newExecutor(mock).Run(context.Background(), def, newChain(t))

	assert.ErrorContains(t, err, "missing an0")
	assert.Equal(t, 0, mock.CallCount())
}

func TestRun_DoesNotModifyState(t *testing.T) {
	s := newChain(t)
	def := reportDef()
	def.Prompt = func(cs *state.ChainState) (prompt.Message, error) {
		cs.UserInput = "changed"
		return prompt.Message{User: "u"}, nil
	}

	_, err := newExecutor(gateway.NewMock(validReport)).Run(context.Background(), def, s)
	require.NoError(t, err)
	assert.Equal(t, "cool a battery", s.UserInput)
	assert.Empty(t, s.CompletedSteps())
}

func TestDefinition_Validate(t *testing.T) {
	assert.NoError(t, reportDef().Validate())

	err := stage.Definition{TokenTiers: []int{0}, MaxAttempts: -1}.Validate()
	require.Error(t, err)
	for _, want := range []string{"name is required", "schema is required", "prompt is required", "token tier 0", "max attempts"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDefinition_Tiers(t *testing.T) {
	def := stage.Definition{}
	assert.Equal(t, stage.DefaultTokenTiers, def.Tiers())
	assert.Equal(t, 3, def.Attempts())
	assert.Equal(t, 16384, def.TierFor(7))
}
