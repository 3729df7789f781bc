package reportflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/reportflow/pkg/reportflow/checkpoint"
	"github.com/randalmurphal/reportflow/pkg/reportflow/durable"
	"github.com/randalmurphal/reportflow/pkg/reportflow/signal"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
	"github.com/randalmurphal/reportflow/pkg/reportflow/store"
)

// StageRunner executes one stage. *stage.Executor implements it.
type StageRunner interface {
	Run(ctx context.Context, def stage.Definition, s *state.ChainState) (*stage.Result, error)
}

var _ StageRunner = (*stage.Executor)(nil)

// StartRequest describes a new report.
type StartRequest struct {
	// ReportID must be a UUID. Empty generates one.
	ReportID       string
	UserInput      string
	AccountID      string
	UserID         string
	ConversationID string
}

// Service runs report chains. Every public method is safe for concurrent use.
//
// Chains run asynchronously: StartChain, AnswerClarification, Cancel and
// Resume return once their input is durable, and a background driver advances
// the chain. Use Wait to block until every driver has stopped.
type Service struct {
	graph  *CompiledGraph
	runner StageRunner
	engine *durable.Engine
	store  store.Store
	cfg    config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	drivers map[string]*driver
	locks   map[string]*reportLock
}

// driver tracks the background goroutine for one report. again queues one
// more pass when input arrives while it is running.
type driver struct {
	again bool
}

type reportLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Service. The stores behind engine and st are owned by the
// caller and are not closed by Close.
func New(graph *CompiledGraph, runner StageRunner, engine *durable.Engine, st store.Store, opts ...Option) *Service {
	if graph == nil || runner == nil || engine == nil || st == nil {
		panic("reportflow: graph, runner, engine and store are required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		graph:   graph,
		runner:  runner,
		engine:  engine,
		store:   st,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		drivers: make(map[string]*driver),
		locks:   make(map[string]*reportLock),
	}
}

// Graph returns the compiled stage graph.
func (s *Service) Graph() *CompiledGraph {
	return s.graph
}

// StartChain persists a new chain in the created state and starts driving it.
// It returns the report ID.
func (s *Service) StartChain(ctx context.Context, req StartRequest) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	id := req.ReportID
	if id == "" {
		id = s.cfg.newID()
	}
	st, err := state.New(state.Identity{
		ReportID:       id,
		ConversationID: req.ConversationID,
		AccountID:      req.AccountID,
		UserID:         req.UserID,
	}, req.UserInput, s.cfg.now())
	if err != nil {
		return "", err
	}

	switch _, err := s.store.LoadChainState(ctx, id); {
	case err == nil:
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	case !errors.Is(err, store.ErrNotFound):
		return "", &StepError{ReportID: id, Op: "load", Err: err}
	}

	if err := s.persist(ctx, st); err != nil {
		return "", err
	}
	s.cfg.logger.Info("chain created",
		slog.String("report_id", id),
		slog.String("account_id", req.AccountID),
	)

	s.launch(id)
	return id, nil
}

// AnswerClarification delivers an answer to a chain waiting in the
// clarifying state. The clarifying stage runs again with the answer in its
// prompt.
func (s *Service) AnswerClarification(ctx context.Context, reportID, answer string) error {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return ErrEmptyAnswer
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	st, err := s.load(ctx, reportID)
	if err != nil {
		return err
	}
	if st.Status != state.StatusClarifying {
		return fmt.Errorf("%w: report %s is %s", ErrNotClarifying, reportID, st.Status)
	}
	cancelling, err := s.engine.HasPending(ctx, reportID, ModeCancel)
	if err != nil {
		return &StepError{ReportID: reportID, Op: "events", Err: err}
	}
	if cancelling {
		return fmt.Errorf("%w: report %s is being cancelled", ErrNotClarifying, reportID)
	}

	if _, err := s.engine.SendEvent(ctx, ModeClarificationAnswered, reportID, map[string]any{
		eventAnswer: answer,
	}); err != nil {
		return &StepError{ReportID: reportID, Op: "events", Err: err}
	}
	s.launch(reportID)
	return nil
}

// Cancel requests cancellation. A chain waiting for clarification is
// cancelled before Cancel returns. A running chain stops at its next stage
// boundary; the model call in flight finishes and its cost is recorded.
// Cancelling a terminal chain is a no-op.
func (s *Service) Cancel(ctx context.Context, reportID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	st, err := s.load(ctx, reportID)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return nil
	}

	if _, err := s.engine.SendEvent(ctx, ModeCancel, reportID, nil); err != nil {
		return &StepError{ReportID: reportID, Op: "events", Err: err}
	}
	if st.Status == state.StatusClarifying {
		return s.Drive(ctx, reportID)
	}
	s.launch(reportID)
	return nil
}

// GetProgress returns the latest progress record.
func (s *Service) GetProgress(ctx context.Context, reportID string) (state.ProgressRecord, error) {
	p, err := s.store.LoadProgress(ctx, reportID)
	if err != nil {
		return state.ProgressRecord{}, fmt.Errorf("load progress %s: %w", reportID, err)
	}
	return p, nil
}

// GetState returns the persisted chain state.
func (s *Service) GetState(ctx context.Context, reportID string) (*state.ChainState, error) {
	return s.load(ctx, reportID)
}

// Resume restarts the driver for a non-terminal chain, for example after a
// crash interrupted it. Resuming a terminal chain is a no-op.
func (s *Service) Resume(ctx context.Context, reportID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	st, err := s.load(ctx, reportID)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return nil
	}
	if _, err := s.engine.SendEvent(ctx, ModeResume, reportID, nil); err != nil {
		return &StepError{ReportID: reportID, Op: "events", Err: err}
	}
	s.launch(reportID)
	return nil
}

// RecoverAll drives every non-terminal chain, a bounded number at a time, and
// returns how many it drove. Chains waiting for clarification park again
// immediately unless an answer or cancellation arrived while no process was
// running. Per-chain errors are logged and joined.
func (s *Service) RecoverAll(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	ids, err := s.store.ListByStatus(ctx, state.StatusCreated, state.StatusRunning, state.StatusClarifying)
	if err != nil {
		return 0, fmt.Errorf("list recoverable chains: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	s.cfg.logger.Info("recovering chains", slog.Int("count", len(ids)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.recoveryConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.Drive(gctx, id); err != nil {
				s.cfg.logger.Error("recovery failed", slog.String("report_id", id), slog.Any("error", err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(ids), errors.Join(errs...)
}

// Steps lists a chain's journaled steps.
func (s *Service) Steps(reportID string) ([]checkpoint.Info, error) {
	return s.engine.Steps(reportID)
}

// Events lists every event sent to a chain.
func (s *Service) Events(ctx context.Context, reportID string) ([]*signal.Event, error) {
	return s.engine.Events(ctx, reportID)
}

// Wait blocks until no background driver is running.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close stops accepting input, cancels running drivers, and waits for them.
// A chain interrupted mid-stage stays running and is picked up by RecoverAll.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Service) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// launch starts a background driver for reportID, or queues one more pass
// if one is already running.
func (s *Service) launch(reportID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if d, ok := s.drivers[reportID]; ok {
		d.again = true
		return
	}
	d := &driver{}
	s.drivers[reportID] = d
	s.wg.Add(1)
	go s.run(reportID, d)
}

func (s *Service) run(reportID string, d *driver) {
	defer s.wg.Done()
	for {
		if err := s.Drive(s.ctx, reportID); err != nil && !errors.Is(err, context.Canceled) {
			s.cfg.logger.Error("drive failed", slog.String("report_id", reportID), slog.Any("error", err))
		}

		s.mu.Lock()
		if d.again && !s.closed {
			d.again = false
			s.mu.Unlock()
			continue
		}
		delete(s.drivers, reportID)
		s.mu.Unlock()
		return
	}
}

// lockReport serializes drivers for one report and returns the unlock func.
func (s *Service) lockReport(reportID string) func() {
	s.mu.Lock()
	l, ok := s.locks[reportID]
	if !ok {
		l = &reportLock{}
		s.locks[reportID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, reportID)
		}
		s.mu.Unlock()
	}
}

func (s *Service) load(ctx context.Context, reportID string) (*state.ChainState, error) {
	st, err := s.store.LoadChainState(ctx, reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, reportID)
		}
		return nil, &StepError{ReportID: reportID, Op: "load", Err: err}
	}
	return st, nil
}
