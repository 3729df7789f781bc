package jsonrepair

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	rferrors "github.com/randalmurphal/reportflow/pkg/reportflow/errors"
)

// Strategy identifies the step of the cascade that produced a value.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyFence
	StrategySanitize
	StrategyDirect
	StrategyStructural
	StrategyAggressive
	StrategyWindow
	StrategyDefault
)

// String returns the strategy name used in logs and metrics.
func (s Strategy) String() string {
	switch s {
	case StrategyFence:
		return "fence"
	case StrategySanitize:
		return "sanitize"
	case StrategyDirect:
		return "direct"
	case StrategyStructural:
		return "structural"
	case StrategyAggressive:
		return "aggressive"
	case StrategyWindow:
		return "window"
	case StrategyDefault:
		return "default"
	default:
		return "none"
	}
}

// Repaired reports whether the value came from a strategy that may have
// dropped content.
func (s Strategy) Repaired() bool {
	return s >= StrategyStructural
}

// Result is a decoded value and how it was obtained.
type Result struct {
	Value     any
	Strategy  Strategy
	Truncated bool
}

const (
	previewLen        = 120
	defaultWindowStep = 128
	maxWindows        = 512
)

type options struct {
	truncated  bool
	hasDefault bool
	def        any
	context    string
	windowStep int
	logger     *slog.Logger
}

// Option configures Decode.
type Option func(*options)

// WithTruncated tells the decoder the text hit the token ceiling.
func WithTruncated(truncated bool) Option {
	return func(o *options) {
		o.truncated = truncated
	}
}

// WithDefault sets a value returned when every strategy fails.
func WithDefault(v any) Option {
	return func(o *options) {
		o.hasDefault = true
		o.def = v
	}
}

// WithContext labels the decode in logs and errors, usually with the stage name.
func WithContext(label string) Option {
	return func(o *options) {
		o.context = label
	}
}

// WithWindowStep sets how many bytes each progressive window drops.
func WithWindowStep(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.windowStep = n
		}
	}
}

// WithLogger sets the logger that records repairs.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Decode parses model text into a JSON value, repairing it if needed.
func Decode(raw string, opts ...Option) (Result, error) {
	o := options{
		windowStep: defaultWindowStep,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var attempted []string
	var lastErr error
	try := func(s Strategy, fn func() (any, error)) (Result, bool) {
		attempted = append(attempted, s.String())
		v, err := safely(fn)
		if err != nil {
			lastErr = err
			return Result{}, false
		}
		return Result{Value: v, Strategy: s, Truncated: o.truncated}, true
	}

	text, fenced := extractFence(raw)
	candidates := []string{text}
	if fenced {
		if res, ok := try(StrategyFence, func() (any, error) { return parseDirect(text) }); ok {
			return res, nil
		}
		// The fence may be a code block nested in the document.
		candidates = append(candidates, strings.TrimSpace(raw))
	}

	// Strategies 1-3 all end in a plain parse; the reported strategy is the
	// deepest transformation that was needed. Every candidate gets a plain
	// parse before any candidate is repaired.
	cleaned := make([]string, len(candidates))
	for i, c := range candidates {
		clean, sanitized := sanitize(c)
		cleaned[i] = clean
		if sanitized {
			if res, ok := try(StrategySanitize, func() (any, error) { return parseDirect(clean) }); ok {
				return o.logged(res, len(raw)), nil
			}
		}
		if res, ok := try(StrategyDirect, func() (any, error) { return parseDirect(clean) }); ok {
			return res, nil
		}
	}

	for _, clean := range cleaned {
		body := fromFirstBracket(clean)
		if res, ok := try(StrategyStructural, func() (any, error) { return repairStructural(body) }); ok {
			return o.logged(res, len(raw)), nil
		}
		if res, ok := try(StrategyAggressive, func() (any, error) { return repairAggressive(body) }); ok {
			return o.logged(res, len(raw)), nil
		}
		if res, ok := try(StrategyWindow, func() (any, error) { return repairWindowed(clean, o.windowStep) }); ok {
			return o.logged(res, len(raw)), nil
		}
	}

	if o.hasDefault {
		attempted = append(attempted, StrategyDefault.String())
		o.logger.Warn("json decode fell back to default",
			slog.String("context", o.context),
			slog.Int("length", len(raw)),
			slog.Bool("truncated", o.truncated),
		)
		return Result{Value: o.def, Strategy: StrategyDefault, Truncated: o.truncated}, nil
	}

	return Result{}, &rferrors.DecodeError{
		Context:   o.context,
		Length:    len(raw),
		Head:      head(raw, previewLen),
		Tail:      tail(raw, previewLen),
		Attempted: attempted,
		Err:       lastErr,
	}
}

// DecodeInto decodes raw and converts the value into T.
func DecodeInto[T any](raw string, opts ...Option) (T, Result, error) {
	var out T
	res, err := Decode(raw, opts...)
	if err != nil {
		return out, res, err
	}
	b, err := json.Marshal(res.Value)
	if err != nil {
		return out, res, fmt.Errorf("re-encode decoded value: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, res, fmt.Errorf("convert decoded value: %w", err)
	}
	return out, res, nil
}

func (o *options) logged(res Result, length int) Result {
	o.logger.Debug("json decode repaired output",
		slog.String("context", o.context),
		slog.String("strategy", res.Strategy.String()),
		slog.Int("length", length),
		slog.Bool("truncated", o.truncated),
	)
	return res
}

// safely runs fn and converts a panic into an error.
func safely(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("repair panicked: %v", r)
		}
	}()
	return fn()
}

// parseDirect parses s as a whole. When that fails and s has prose around
// an object or array, it parses the first value found from the first bracket.
func parseDirect(s string) (any, error) {
	var v any
	err := json.Unmarshal([]byte(s), &v)
	if err == nil {
		return v, nil
	}
	start := firstBracket(s)
	if start < 0 {
		return nil, err
	}
	return parseFirst(s[start:])
}

// parseFirst decodes the first JSON value in s, ignoring anything after it.
func parseFirst(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func firstBracket(s string) int {
	return strings.IndexAny(s, "{[")
}

func fromFirstBracket(s string) string {
	if i := firstBracket(s); i > 0 {
		return s[i:]
	}
	return s
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
