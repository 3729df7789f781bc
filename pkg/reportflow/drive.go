package reportflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
	"github.com/randalmurphal/reportflow/pkg/reportflow/durable"
	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
	"github.com/randalmurphal/reportflow/pkg/reportflow/observability"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
	"github.com/randalmurphal/reportflow/pkg/reportflow/signal"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

const (
	// eventAnswer is the payload key of a clarification answer.
	eventAnswer = "answer"

	// FieldClarificationSkipped is set on a clarifying stage's output when it
	// asked again after the question budget was spent.
	FieldClarificationSkipped = "clarification_skipped"
)

// Event rejection reasons.
var (
	errChainTerminal = errors.New("chain already finished")
	errSuperseded    = errors.New("superseded by an earlier answer")
	errCancelled     = errors.New("chain cancelled")
)

// stepRecord is the journaled payload of one stage run.
type stepRecord struct {
	Record                schema.Record `json:"record"`
	Usage                 gateway.Usage `json:"usage"`
	Strategy              string        `json:"strategy,omitempty"`
	Attempts              int           `json:"attempts,omitempty"`
	Truncated             bool          `json:"truncated,omitempty"`
	Fallback              bool          `json:"fallback,omitempty"`
	NeedsClarification    bool          `json:"needs_clarification,omitempty"`
	ClarificationQuestion string        `json:"clarification_question,omitempty"`
}

// stepName names the journal entry for a stage. A clarifying stage run after
// its nth answer gets its own entry so the journal does not replay the
// question it already asked.
func stepName(stageName string, round int) string {
	if round == 0 {
		return stageName
	}
	return stageName + "#" + strconv.Itoa(round)
}

// Drive advances a chain as far as it can go: through every remaining stage,
// or until it parks waiting for a clarification answer, fails, or is
// cancelled. Calls for the same report are serialized, and a stage already in
// CompletedSteps never runs again, so Drive is safe to repeat.
//
// A chain failure is recorded in the chain's state and is not returned. Drive
// returns an error only when the chain could not be loaded, persisted, or
// journaled, or when ctx ends mid-stage; the chain then stays resumable.
func (s *Service) Drive(ctx context.Context, reportID string) error {
	unlock := s.lockReport(reportID)
	defer unlock()

	st, err := s.load(ctx, reportID)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return s.rejectAll(ctx, st.ReportID, errChainTerminal)
	}

	ctx, span := s.cfg.spans.StartChainSpan(ctx, reportID, string(st.Status))
	err = s.drive(ctx, st)
	s.cfg.spans.EndSpanWithError(span, err)
	return err
}

func (s *Service) drive(ctx context.Context, st *state.ChainState) error {
	logger := s.cfg.logger.With(slog.String("report_id", st.ReportID))

	for {
		if err := s.applyEvents(ctx, st); err != nil {
			return err
		}
		if st.Status.Terminal() || st.Status == state.StatusClarifying {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		next, ok, err := s.graph.Pending(st.CompletedSteps())
		if err != nil {
			return s.fail(ctx, st, st.CurrentStep, err)
		}
		if !ok {
			return s.complete(ctx, st)
		}

		if st.Status == state.StatusCreated {
			observability.LogChainStart(logger, st.ReportID, next)
		}
		if st.Status != state.StatusRunning || st.CurrentStep != next {
			st.Status = state.StatusRunning
			st.CurrentStep = next
			if err := s.persist(ctx, st); err != nil {
				return err
			}
		}

		def, _ := s.graph.Stage(next)
		if err := s.runStage(ctx, st, def); err != nil {
			return err
		}
	}
}

// runStage runs def through the step journal and merges its output. Chain
// outcomes (failure, clarification) are applied to st and persisted; the
// returned error is reserved for infrastructure failures and ctx ending.
func (s *Service) runStage(ctx context.Context, st *state.ChainState, def stage.Definition) error {
	round := 0
	if def.Clarifies {
		round = st.ClarificationCount
	}
	key := durable.StepKey{RunID: st.ReportID, Step: stepName(def.Name, round)}

	var (
		usage  gateway.Usage
		ran    bool
		runErr error
	)
	payload, replayed, err := s.engine.RunStep(ctx, key, func(ctx context.Context) ([]byte, error) {
		res, err := s.execute(ctx, def, st)
		usage, ran = res.Usage, true
		if err != nil {
			if def.Optional && ctx.Err() == nil && isStageFailure(err) {
				s.cfg.logger.Warn("optional stage failed, using fallback",
					slog.String("report_id", st.ReportID),
					slog.String("stage", def.Name),
					slog.Any("error", err),
				)
				return json.Marshal(fallbackStep(def, st, res))
			}
			runErr = err
			return nil, err
		}
		return json.Marshal(stepFromResult(res))
	})

	if err != nil {
		st.AddUsage(usage)
		switch {
		case runErr == nil:
			return &StepError{ReportID: st.ReportID, Stage: def.Name, Op: "journal", Err: err}
		case ctx.Err() != nil:
			// Interrupted, not failed: keep the spend and leave the chain resumable.
			if perr := s.persist(context.WithoutCancel(ctx), st); perr != nil {
				return errors.Join(ctx.Err(), perr)
			}
			return ctx.Err()
		default:
			return s.fail(ctx, st, def.Name, runErr)
		}
	}

	var rec stepRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return s.fail(ctx, st, def.Name, fmt.Errorf("decode journaled step %s: %w", key, err))
	}
	if replayed {
		s.cfg.logger.Info("stage replayed from journal",
			slog.String("report_id", st.ReportID),
			slog.String("stage", def.Name),
		)
	}
	st.AddUsage(rec.Usage)
	if replayed && ran {
		// Another driver journaled the step first; this run's calls were still spent.
		st.AddUsage(usage)
	}

	// Cancellation is observed after the call and before the merge.
	cancelling, err := s.engine.HasPending(ctx, st.ReportID, ModeCancel)
	if err != nil {
		return &StepError{ReportID: st.ReportID, Stage: def.Name, Op: "events", Err: err}
	}
	if cancelling {
		return s.applyEvents(ctx, st)
	}

	if def.Clarifies && rec.NeedsClarification {
		if st.ClarificationCount < s.cfg.maxClarifications {
			return s.clarify(ctx, st, def.Name, rec.ClarificationQuestion)
		}
		s.cfg.logger.Warn("clarification limit reached, continuing without asking",
			slog.String("report_id", st.ReportID),
			slog.String("stage", def.Name),
			slog.Int("clarifications", st.ClarificationCount),
		)
		if rec.Record == nil {
			rec.Record = schema.Record{}
		}
		rec.Record[FieldClarificationSkipped] = true
	}

	if err := st.Append(state.StageOutput{
		Stage:       def.Name,
		Payload:     rec.Record,
		Usage:       rec.Usage,
		Strategy:    rec.Strategy,
		Attempts:    rec.Attempts,
		Truncated:   rec.Truncated,
		Fallback:    rec.Fallback,
		CompletedAt: s.cfg.now(),
	}); err != nil {
		return s.fail(ctx, st, def.Name, err)
	}
	st.NeedsClarification = false
	st.ClarificationQuestion = ""
	return s.persist(ctx, st)
}

// execute runs one stage, converting a panic into a PanicError. The result
// is never nil.
func (s *Service) execute(ctx context.Context, def stage.Definition, st *state.ChainState) (res *stage.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = &stage.Result{}
			err = &PanicError{Stage: def.Name, Value: r, Stack: string(debug.Stack())}
		}
	}()
	res, err = s.runner.Run(ctx, def, st.Clone())
	if res == nil {
		res = &stage.Result{}
	}
	return res, err
}

func isStageFailure(err error) bool {
	var failure *rferrors.StageFailure
	return errors.As(err, &failure)
}

func stepFromResult(res *stage.Result) stepRecord {
	return stepRecord{
		Record:                res.Record,
		Usage:                 res.Usage,
		Strategy:              res.Strategy.String(),
		Attempts:              res.Attempts,
		Truncated:             res.Truncated,
		NeedsClarification:    res.NeedsClarification,
		ClarificationQuestion: res.ClarificationQuestion,
	}
}

func fallbackStep(def stage.Definition, st *state.ChainState, res *stage.Result) stepRecord {
	rec := schema.Record{}
	if def.Fallback != nil {
		if fb := def.Fallback(st.Clone()); fb != nil {
			rec = fb
		}
	}
	return stepRecord{
		Record:   rec,
		Usage:    res.Usage,
		Attempts: res.Attempts,
		Fallback: true,
	}
}

// applyEvents consumes pending input for the chain. A cancellation wins over
// everything else. A clarifying chain takes the oldest answer; any other
// answers are rejected.
func (s *Service) applyEvents(ctx context.Context, st *state.ChainState) error {
	ev, err := s.engine.WaitForEvent(ctx, st.ReportID, ModeCancel, nil)
	switch {
	case err == nil:
		if err := s.cancelled(ctx, st); err != nil {
			return err
		}
		if err := s.engine.Ack(ctx, ev); err != nil {
			return &StepError{ReportID: st.ReportID, Op: "events", Err: err}
		}
		return s.rejectAll(ctx, st.ReportID, errCancelled)
	case !errors.Is(err, durable.ErrSuspended):
		return &StepError{ReportID: st.ReportID, Op: "events", Err: err}
	}

	if err := s.drain(ctx, st.ReportID, ModeResume, nil); err != nil {
		return err
	}

	if st.Status != state.StatusClarifying {
		return s.drain(ctx, st.ReportID, ModeClarificationAnswered, ErrNotClarifying)
	}

	ev, err = s.engine.WaitForEvent(ctx, st.ReportID, ModeClarificationAnswered, func(e *signal.Event) bool {
		return e.String(eventAnswer) != ""
	})
	switch {
	case errors.Is(err, durable.ErrSuspended):
		return nil
	case err != nil:
		return &StepError{ReportID: st.ReportID, Op: "events", Err: err}
	}

	// The question stays set so the re-run stage's prompt can quote it.
	st.ClarificationAnswer = ev.String(eventAnswer)
	st.NeedsClarification = false
	st.Status = state.StatusRunning
	if err := s.persist(ctx, st); err != nil {
		return err
	}
	if err := s.engine.Ack(ctx, ev); err != nil {
		return &StepError{ReportID: st.ReportID, Op: "events", Err: err}
	}
	s.cfg.logger.Info("clarification answered",
		slog.String("report_id", st.ReportID),
		slog.Int("round", st.ClarificationCount),
	)
	return s.drain(ctx, st.ReportID, ModeClarificationAnswered, errSuperseded)
}

// drain consumes every pending event for mode: acknowledged when reason is
// nil, rejected with reason otherwise.
func (s *Service) drain(ctx context.Context, reportID string, mode Mode, reason error) error {
	for {
		ev, err := s.engine.WaitForEvent(ctx, reportID, mode, nil)
		switch {
		case errors.Is(err, durable.ErrSuspended):
			return nil
		case err != nil:
			return &StepError{ReportID: reportID, Op: "events", Err: err}
		}
		if reason == nil {
			err = s.engine.Ack(ctx, ev)
		} else {
			err = s.engine.Reject(ctx, ev, reason)
		}
		if err != nil {
			return &StepError{ReportID: reportID, Op: "events", Err: err}
		}
	}
}

func (s *Service) rejectAll(ctx context.Context, reportID string, reason error) error {
	for _, m := range Modes() {
		if err := s.drain(ctx, reportID, m, reason); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clarify(ctx context.Context, st *state.ChainState, stageName, question string) error {
	st.ClarificationCount++
	st.NeedsClarification = true
	st.ClarificationQuestion = question
	st.ClarificationAnswer = ""
	st.Status = state.StatusClarifying
	st.CurrentStep = stageName
	if err := s.persist(ctx, st); err != nil {
		return err
	}
	observability.LogClarification(s.cfg.logger, st.ReportID, stageName, st.ClarificationCount)
	s.cfg.metrics.RecordChainOutcome(ctx, string(state.StatusClarifying), st.UpdatedAt.Sub(st.StartedAt))
	return nil
}

func (s *Service) cancelled(ctx context.Context, st *state.ChainState) error {
	st.Status = state.StatusCancelled
	st.NeedsClarification = false
	s.finish(st)
	if err := s.persist(ctx, st); err != nil {
		return err
	}
	observability.LogChainCancelled(s.cfg.logger, st.ReportID, st.CurrentStep)
	s.cfg.metrics.RecordChainOutcome(ctx, string(state.StatusCancelled), st.UpdatedAt.Sub(st.StartedAt))
	return nil
}

// fail moves the chain to failed. The failure is recorded, not returned.
func (s *Service) fail(ctx context.Context, st *state.ChainState, stageName string, cause error) error {
	kind := rferrors.KindOf(cause)
	st.Status = state.StatusFailed
	st.Error = &state.ChainError{
		Kind:        kind.String(),
		Stage:       stageName,
		Message:     cause.Error(),
		UserMessage: kind.UserMessage(),
	}
	s.finish(st)
	if err := s.persist(ctx, st); err != nil {
		return err
	}
	observability.LogChainFailed(s.cfg.logger, st.ReportID, stageName, kind.String(), cause)
	s.cfg.metrics.RecordChainOutcome(ctx, string(state.StatusFailed), st.UpdatedAt.Sub(st.StartedAt))
	return nil
}

func (s *Service) complete(ctx context.Context, st *state.ChainState) error {
	st.Status = state.StatusComplete
	st.CurrentStep = ""
	s.finish(st)
	if err := s.persist(ctx, st); err != nil {
		return err
	}
	observability.LogChainComplete(s.cfg.logger, st.ReportID, len(st.CompletedSteps()), st.Usage.CostUSD)
	s.cfg.metrics.RecordChainOutcome(ctx, string(state.StatusComplete), st.UpdatedAt.Sub(st.StartedAt))
	return nil
}

func (s *Service) finish(st *state.ChainState) {
	now := s.cfg.now()
	st.CompletedAt = &now
}

// persist saves the state and then its progress record.
func (s *Service) persist(ctx context.Context, st *state.ChainState) error {
	st.UpdatedAt = s.cfg.now()
	if err := s.store.SaveChainState(ctx, st); err != nil {
		return &StepError{ReportID: st.ReportID, Stage: st.CurrentStep, Op: "save", Err: err}
	}
	if err := s.store.UpdateProgress(ctx, s.progress(st)); err != nil {
		return &StepError{ReportID: st.ReportID, Stage: st.CurrentStep, Op: "progress", Err: err}
	}
	return nil
}
