package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil error", nil, KindInternal},
		{"refusal", &RefusalError{Stage: "an0", StopReason: "refusal"}, KindRefusal},
		{"gateway", &GatewayError{Stage: "an1", Op: "send", StatusCode: 503}, KindTransient},
		{"decode", &DecodeError{Context: "an2", Length: 10}, KindDecode},
		{"validation", &ValidationError{Schema: "an5", Fields: []string{"report"}}, KindValidation},
		{"wrapped validation", fmt.Errorf("outer: %w", &ValidationError{Schema: "an5"}), KindValidation},
		{"stage failure from gateway", &StageFailure{Stage: "an3", Attempts: 3, Last: &GatewayError{Op: "send"}}, KindTransient},
		{"stage failure from validation", &StageFailure{Stage: "an5", Attempts: 3, Last: &ValidationError{Schema: "an5"}}, KindValidation},
		{"stage failure without cause", &StageFailure{Stage: "an5", Attempts: 3}, KindStageFailure},
		{"stage failure unknown cause", &StageFailure{Stage: "an5", Attempts: 1, Last: errors.New("boom")}, KindStageFailure},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"cancelled", context.Canceled, KindCancelled},
		{"unknown", errors.New("unknown"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&GatewayError{Op: "send"}))
	assert.True(t, Retryable(&DecodeError{}))
	assert.True(t, Retryable(&ValidationError{}))
	assert.False(t, Retryable(&RefusalError{}))
	assert.False(t, Retryable(errors.New("disk full")))
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, IsRefusal(fmt.Errorf("wrap: %w", &RefusalError{Stage: "an0"})))
	assert.False(t, IsRefusal(&GatewayError{}))
}

func TestUserMessage_DistinguishesKinds(t *testing.T) {
	refusal := KindRefusal.UserMessage()
	transient := KindTransient.UserMessage()
	validation := KindValidation.UserMessage()

	assert.Contains(t, refusal, "rephrase")
	assert.Contains(t, transient, "try again later")
	assert.Contains(t, validation, "contact support")
	assert.NotEqual(t, refusal, transient)
}

func TestErrorMessages(t *testing.T) {
	t.Run("gateway includes status", func(t *testing.T) {
		err := &GatewayError{Stage: "an1", Op: "send", StatusCode: 529, Err: errors.New("overloaded")}
		assert.Equal(t, "stage an1: gateway send failed (HTTP 529): overloaded", err.Error())
		assert.Equal(t, "overloaded", errors.Unwrap(err).Error())
	})

	t.Run("decode lists strategies", func(t *testing.T) {
		err := &DecodeError{Context: "an4", Length: 42, Attempted: []string{"fence", "direct"}}
		assert.Contains(t, err.Error(), "fence, direct")
		assert.Contains(t, err.Error(), "42 bytes")
		assert.Contains(t, err.Error(), "decode an4: ")
	})

	t.Run("decode without context", func(t *testing.T) {
		err := &DecodeError{Length: 3, Attempted: []string{"direct"}}
		assert.Equal(t, "decode: no strategy recovered JSON from 3 bytes (tried direct)", err.Error())
	})

	t.Run("validation lists fields", func(t *testing.T) {
		err := &ValidationError{Schema: "an5", Fields: []string{"report", "title"}}
		assert.Equal(t, "validation error in an5: missing required report, title", err.Error())
	})

	t.Run("stage failure unwraps", func(t *testing.T) {
		last := &DecodeError{Context: "an3"}
		err := &StageFailure{Stage: "an3", Attempts: 3, Last: last}
		var dec *DecodeError
		require.True(t, errors.As(err, &dec))
		assert.Same(t, last, dec)
	})
}

func TestBackoff(t *testing.T) {
	t.Run("grows and caps", func(t *testing.T) {
		b := NewBackoff(RetryConfig{
			InitialBackoff: time.Millisecond,
			MaxBackoff:     4 * time.Millisecond,
			BackoffFactor:  2,
		})
		ctx := context.Background()
		require.NoError(t, b.Wait(ctx))
		assert.Equal(t, 2*time.Millisecond, b.next)
		require.NoError(t, b.Wait(ctx))
		require.NoError(t, b.Wait(ctx))
		assert.Equal(t, 4*time.Millisecond, b.next)
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		b := NewBackoff(RetryConfig{InitialBackoff: time.Hour})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
	})

	t.Run("zero config does not sleep", func(t *testing.T) {
		b := NewBackoff(NoBackoff)
		start := time.Now()
		require.NoError(t, b.Wait(context.Background()))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})
}

func TestJittered(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := jittered(base, 0.2)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
	assert.Equal(t, base, jittered(base, 0))
}
