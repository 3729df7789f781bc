package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// Message is a rendered prompt ready for the gateway.
type Message struct {
	// Prefix is stable text shared across stages that providers may cache.
	Prefix string
	System string
	User   string
}

// Template is a stage's unrendered prompt.
type Template struct {
	Name   string
	Prefix string
	System string
	User   string
}

var strict = NewExpander(WithMissingAction(MissingError))

// Render expands the template against vars. Any unresolved placeholder
// without a fallback is an error.
func (t Template) Render(vars map[string]any) (Message, error) {
	var msg Message
	var errs []error

	for _, part := range []struct {
		dst *string
		src string
	}{
		{&msg.Prefix, t.Prefix},
		{&msg.System, t.System},
		{&msg.User, t.User},
	} {
		out, err := strict.Expand(part.src, vars)
		if err != nil {
			errs = append(errs, err)
		}
		*part.dst = strings.TrimSpace(out)
	}

	if err := errors.Join(errs...); err != nil {
		return Message{}, fmt.Errorf("render prompt %s: %w", t.Name, err)
	}
	if msg.User == "" {
		return Message{}, fmt.Errorf("render prompt %s: user message is empty", t.Name)
	}
	return msg, nil
}
