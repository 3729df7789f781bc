package reportflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportflow/pkg/reportflow"
	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	"github.com/randalmurphal/reportflow/pkg/reportflow/checkpoint"
	"github.com/randalmurphal/reportflow/pkg/reportflow/durable"
	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
	"github.com/randalmurphal/reportflow/pkg/reportflow/prompt"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
	"github.com/randalmurphal/reportflow/pkg/reportflow/signal"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
	"github.com/randalmurphal/reportflow/pkg/reportflow/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const userInput = "reduce thermal resistance in heat exchangers under high pressure"

// coreResponses answers every core stage on the first attempt.
var coreResponses = map[string]string{
	catalog.Framing:     `{"problem_statement": "Lower the thermal resistance of a heat exchanger rated for 300 bar", "title": "High-pressure heat exchanger", "domain": "thermal"}`,
	catalog.Retrieval:   `{"search_queries": ["microchannel heat exchanger high pressure"], "prior_art": [{"title": "Printed circuit heat exchangers", "relevance": 0.9}]}`,
	catalog.Innovation:  `{"contradictions": [{"improving": "heat transfer", "worsening": "pressure rating"}], "principles": [{"id": 35, "name": "Parameter changes"}]}`,
	catalog.Concepts:    `{"concepts": [{"id": "c1", "name": "Diffusion-bonded microchannel plates"}]}`,
	catalog.Evaluation:  `{"evaluations": [{"concept_id": "c1", "rating": "strong", "score": 82}], "recommended_concept_id": "c1"}`,
	catalog.FinalReport: `{"title": "Microchannel plates for 300 bar service", "headline": "Thermal resistance down 40%", "report": "Adopt diffusion-bonded microchannel plates."}`,
}

// scriptCore scripts every core stage with a valid first answer.
func scriptCore(mock *gateway.Mock) *gateway.Mock {
	for name, text := range coreResponses {
		mock.WithStage(name, gateway.MockResponse{Text: text})
	}
	return mock
}

type harness struct {
	svc     *reportflow.Service
	mock    *gateway.Mock
	store   store.Store
	journal checkpoint.Store
	events  signal.Store
}

func newHarness(t *testing.T, mock *gateway.Mock, defs []stage.Definition, opts ...reportflow.Option) *harness {
	t.Helper()
	h := &harness{
		mock:    mock,
		store:   store.NewMemoryStore(),
		journal: checkpoint.NewMemoryStore(),
		events:  signal.NewMemoryStore(),
	}
	h.svc = newService(t, mock, defs, h.journal, h.events, h.store, opts...)
	return h
}

func newService(t *testing.T, transport gateway.Transport, defs []stage.Definition, journal checkpoint.Store, events signal.Store, st store.Store, opts ...reportflow.Option) *reportflow.Service {
	t.Helper()
	graph, err := reportflow.NewGraph().AddStages(defs...).Compile()
	require.NoError(t, err)

	gw := gateway.New(transport, gateway.DefaultConfig(), gateway.WithLogger(quiet))
	exec := stage.NewExecutor(gw, stage.WithLogger(quiet), stage.WithRetry(rferrors.NoBackoff))
	engine := durable.New(journal, events, durable.WithLogger(quiet))

	opts = append([]reportflow.Option{reportflow.WithLogger(quiet)}, opts...)
	svc := reportflow.New(graph, exec, engine, st, opts...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// start starts a chain and waits for its driver to stop.
func (h *harness) start(t *testing.T) string {
	t.Helper()
	id, err := h.svc.StartChain(context.Background(), reportflow.StartRequest{
		UserInput: userInput,
		AccountID: "acct-1",
		UserID:    "user-1",
	})
	require.NoError(t, err)
	h.svc.Wait()
	return id
}

func (h *harness) state(t *testing.T, id string) *state.ChainState {
	t.Helper()
	st, err := h.svc.GetState(context.Background(), id)
	require.NoError(t, err)
	return st
}

func coreNames() []string {
	var names []string
	for _, d := range catalog.Core() {
		names = append(names, d.Name)
	}
	return names
}

// recordingStore remembers the completed steps of every saved state and can
// fail one save to simulate a crash.
type recordingStore struct {
	store.Store

	mu     sync.Mutex
	saved  [][]string
	failOn func(*state.ChainState) bool
}

func (r *recordingStore) SaveChainState(ctx context.Context, s *state.ChainState) error {
	r.mu.Lock()
	if r.failOn != nil && r.failOn(s) {
		r.failOn = nil
		r.mu.Unlock()
		return errors.New("disk full")
	}
	r.saved = append(r.saved, s.CompletedSteps())
	r.mu.Unlock()
	return r.Store.SaveChainState(ctx, s)
}

func (r *recordingStore) history() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.saved...)
}

// simpleDef returns a stage with a single required field.
func simpleDef(name string) stage.Definition {
	return stage.Definition{
		Name:   name,
		Phase:  "test",
		Schema: schema.New(name, 1, schema.String("value").AsRequired()),
		Prompt: func(s *state.ChainState) (prompt.Message, error) {
			return prompt.Message{System: name, User: s.UserInput}, nil
		},
		TokenTiers: []int{100},
	}
}

// panicRunner is a StageRunner that panics.
type panicRunner struct{}

func (panicRunner) Run(context.Context, stage.Definition, *state.ChainState) (*stage.Result, error) {
	panic("boom")
}
