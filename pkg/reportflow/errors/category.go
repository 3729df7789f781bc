// Package errors defines the failure taxonomy of a report chain.
//
// Every failure below the stage executor is one of four concrete types:
//   - RefusalError: the model declined to answer. Never retried.
//   - GatewayError: transport or API failure. Retried with backoff.
//   - DecodeError: no repair strategy produced JSON. Retried with a larger token tier.
//   - ValidationError: a required field is missing. Retried with a larger token tier.
//
// Exhausting retries yields a StageFailure, which is fatal for the chain.
// Kind tags an error for the API layer so it can tell a user to rephrase,
// to try again later, or to contact support.
package errors

import (
	"context"
	"errors"
)

// Kind tags an error with its place in the taxonomy.
type Kind string

const (
	// KindRefusal means the model's safety filter blocked generation.
	KindRefusal Kind = "refusal"

	// KindTransient means a transport or API failure that may clear on retry.
	KindTransient Kind = "transient"

	// KindDecode means the model output could not be parsed as JSON.
	KindDecode Kind = "decode"

	// KindValidation means the decoded output was missing required fields.
	KindValidation Kind = "validation"

	// KindStageFailure is a stage that exhausted its retries without a more
	// specific cause.
	KindStageFailure Kind = "stage_failure"

	// KindCancelled means the chain was cancelled by the caller.
	KindCancelled Kind = "cancelled"

	// KindInternal covers storage and programming errors.
	KindInternal Kind = "internal"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// UserMessage returns the message the API layer shows for a failure of this kind.
func (k Kind) UserMessage() string {
	switch k {
	case KindRefusal:
		return "The request could not be processed as written. Please rephrase your problem statement and try again."
	case KindTransient:
		return "The analysis service is temporarily unavailable. Please try again later."
	case KindDecode, KindValidation, KindStageFailure:
		return "The analysis could not be completed. Please contact support if this keeps happening."
	case KindCancelled:
		return "The analysis was cancelled."
	default:
		return "An unexpected error occurred. Please contact support."
	}
}

// KindOf classifies err. A StageFailure reports the kind of its last cause so
// the API layer sees why the retries ran out.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var refusal *RefusalError
	if errors.As(err, &refusal) {
		return KindRefusal
	}

	var failure *StageFailure
	if errors.As(err, &failure) {
		if failure.Last == nil {
			return KindStageFailure
		}
		if k := KindOf(failure.Last); k != KindInternal {
			return k
		}
		return KindStageFailure
	}

	var gw *GatewayError
	if errors.As(err, &gw) {
		return KindTransient
	}

	var dec *DecodeError
	if errors.As(err, &dec) {
		return KindDecode
	}

	var val *ValidationError
	if errors.As(err, &val) {
		return KindValidation
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	return KindInternal
}

// Retryable reports whether the stage executor should try the stage again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindDecode, KindValidation:
		return true
	default:
		return false
	}
}

// IsRefusal reports whether err is, or wraps, a RefusalError.
func IsRefusal(err error) bool {
	var refusal *RefusalError
	return errors.As(err, &refusal)
}
