package reportflow

import "fmt"

// Mode is an external input a chain can receive. Each mode is delivered as a
// durable event whose name comes from EventName.
type Mode int

const (
	// ModeClarificationAnswered carries the user's answer to a clarifying question.
	ModeClarificationAnswered Mode = iota

	// ModeCancel asks the chain to stop at its next transition.
	ModeCancel

	// ModeResume asks a stalled chain to continue.
	ModeResume

	modeCount
)

var eventNames = [...]string{
	ModeClarificationAnswered: "report.clarification_answered",
	ModeCancel:                "report.cancel",
	ModeResume:                "report.resume",
}

// Adding a Mode without an event name fails to compile here.
var _ = [1]int{}[int(modeCount)-len(eventNames)]

// EventName returns the durable event name for m.
func (m Mode) EventName() string {
	if m < 0 || m >= modeCount {
		panic(fmt.Sprintf("reportflow: unknown mode %d", int(m)))
	}
	return eventNames[m]
}

// String returns the event name.
func (m Mode) String() string {
	if m < 0 || m >= modeCount {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return eventNames[m]
}

// Modes returns every mode in declaration order.
func Modes() []Mode {
	out := make([]Mode, modeCount)
	for i := range out {
		out[i] = Mode(i)
	}
	return out
}
