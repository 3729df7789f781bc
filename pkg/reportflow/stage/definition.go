// Package stage runs one report stage: prompt, model call, JSON recovery,
// and schema validation, retrying with larger token budgets.
package stage

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/reportflow/pkg/reportflow/prompt"
	"github.com/randalmurphal/reportflow/pkg/reportflow/schema"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// DefaultTokenTiers are the output budgets used when a definition sets none.
var DefaultTokenTiers = []int{4096, 8192, 16384}

// Field names a clarifying stage uses to ask a question.
const (
	FieldNeedsClarification    = "needs_clarification"
	FieldClarificationQuestion = "clarification_question"
)

// Definition describes a stage. Definitions are values and safe to share.
type Definition struct {
	// Name is the stable identifier, used in step keys and state.
	Name string

	// Phase groups stages for progress reporting. Label is shown to users.
	Phase string
	Label string

	Schema *schema.Schema

	// Prompt builds the stage's messages. It must be a pure function of the
	// state it is given.
	Prompt func(*state.ChainState) (prompt.Message, error)

	// TokenTiers is the output budget per attempt. Attempt i uses
	// TokenTiers[min(i, len-1)].
	TokenTiers []int

	// MaxAttempts defaults to len(TokenTiers).
	MaxAttempts int

	// Temperature overrides the gateway default when positive.
	Temperature float64

	// Clarifies marks the one stage that may ask the user a question.
	Clarifies bool

	// Optional stages do not fail the chain; Fallback supplies their output.
	Optional bool
	Fallback func(*state.ChainState) schema.Record
}

// Validate checks that the definition can run.
func (d Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.Schema == nil {
		errs = append(errs, errors.New("schema is required"))
	}
	if d.Prompt == nil {
		errs = append(errs, errors.New("prompt is required"))
	}
	for i, t := range d.TokenTiers {
		if t <= 0 {
			errs = append(errs, fmt.Errorf("token tier %d must be positive, got %d", i, t))
		}
	}
	if d.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max attempts must not be negative, got %d", d.MaxAttempts))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("stage %q: %w", d.Name, err)
	}
	return nil
}

// Tiers returns the token tiers, falling back to DefaultTokenTiers.
func (d Definition) Tiers() []int {
	if len(d.TokenTiers) == 0 {
		return DefaultTokenTiers
	}
	return d.TokenTiers
}

// Attempts returns the attempt budget.
func (d Definition) Attempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return len(d.Tiers())
}

// TierFor returns the output budget for a zero-based attempt index.
func (d Definition) TierFor(attempt int) int {
	tiers := d.Tiers()
	return tiers[min(attempt, len(tiers)-1)]
}
