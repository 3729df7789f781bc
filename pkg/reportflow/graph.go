package reportflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
)

// Graph is a mutable builder for the fixed stage order of a report chain.
// Stages run in the order they are added.
//
// Graph is NOT thread-safe during building. Build it in one goroutine, then
// call Compile() to get an immutable CompiledGraph that can be shared.
//
// Example:
//
//	graph, err := reportflow.NewGraph().
//	    AddStage(framing).
//	    AddStage(retrieval).
//	    AddStage(report).
//	    Compile()
type Graph struct {
	stages []stage.Definition
}

// NewGraph creates an empty graph builder.
func NewGraph() *Graph {
	return &Graph{}
}

// AddStage appends a stage. Returns the graph for method chaining.
//
// Panics if the name is empty or contains whitespace or '/' or '#', since
// those characters delimit durable step keys. Everything else is checked by
// Compile.
func (g *Graph) AddStage(def stage.Definition) *Graph {
	if def.Name == "" {
		panic("reportflow: stage name cannot be empty")
	}
	if strings.ContainsAny(def.Name, " \t\n\r/#") {
		panic(fmt.Sprintf("reportflow: stage name %q cannot contain whitespace, '/' or '#'", def.Name))
	}
	g.stages = append(g.stages, def)
	return g
}

// AddStages appends each definition in order.
func (g *Graph) AddStages(defs ...stage.Definition) *Graph {
	for _, d := range defs {
		g.AddStage(d)
	}
	return g
}

// Compile validates the graph. Multiple errors are joined together.
//
// Validation checks:
//  1. At least one stage
//  2. Stage names are unique
//  3. Every definition validates
//  4. At most one stage clarifies
func (g *Graph) Compile() (*CompiledGraph, error) {
	if len(g.stages) == 0 {
		return nil, ErrEmptyGraph
	}

	var errs []error
	seen := make(map[string]bool, len(g.stages))
	var clarifying []string

	for _, def := range g.stages {
		if seen[def.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateStage, def.Name))
		}
		seen[def.Name] = true

		if err := def.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidStage, err))
		}
		if def.Clarifies {
			clarifying = append(clarifying, def.Name)
		}
	}
	if len(clarifying) > 1 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMultipleClarifying, strings.Join(clarifying, ", ")))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cg := &CompiledGraph{
		stages: append([]stage.Definition(nil), g.stages...),
		index:  make(map[string]int, len(g.stages)),
	}
	for i, def := range cg.stages {
		cg.index[def.Name] = i
	}
	return cg, nil
}

// CompiledGraph is an immutable, linear stage order. It is safe for
// concurrent use.
type CompiledGraph struct {
	stages []stage.Definition
	index  map[string]int
}

// Len returns the number of stages.
func (cg *CompiledGraph) Len() int {
	return len(cg.stages)
}

// Names returns the stage names in execution order.
func (cg *CompiledGraph) Names() []string {
	names := make([]string, len(cg.stages))
	for i, def := range cg.stages {
		names[i] = def.Name
	}
	return names
}

// Stages returns the definitions in execution order.
func (cg *CompiledGraph) Stages() []stage.Definition {
	return append([]stage.Definition(nil), cg.stages...)
}

// First returns the entry stage name.
func (cg *CompiledGraph) First() string {
	return cg.stages[0].Name
}

// Stage returns the definition for name.
func (cg *CompiledGraph) Stage(name string) (stage.Definition, bool) {
	i, ok := cg.index[name]
	if !ok {
		return stage.Definition{}, false
	}
	return cg.stages[i], true
}

// Index returns the position of name, or -1.
func (cg *CompiledGraph) Index(name string) int {
	i, ok := cg.index[name]
	if !ok {
		return -1
	}
	return i
}

// Next returns the stage after name. ok is false when name is the terminal
// stage or unknown.
func (cg *CompiledGraph) Next(name string) (string, bool) {
	i, ok := cg.index[name]
	if !ok || i+1 >= len(cg.stages) {
		return "", false
	}
	return cg.stages[i+1].Name, true
}

// Clarifying returns the name of the stage that may ask a question, or "".
func (cg *CompiledGraph) Clarifying() string {
	for _, def := range cg.stages {
		if def.Clarifies {
			return def.Name
		}
	}
	return ""
}

// Pending returns the first stage not yet in completed. It returns
// ErrUnexpectedStep when completed is not a prefix of the stage order, and
// ok=false when every stage has completed.
func (cg *CompiledGraph) Pending(completed []string) (name string, ok bool, err error) {
	if len(completed) > len(cg.stages) {
		return "", false, fmt.Errorf("%w: %d steps for %d stages", ErrUnexpectedStep, len(completed), len(cg.stages))
	}
	for i, step := range completed {
		if cg.stages[i].Name != step {
			return "", false, fmt.Errorf("%w: step %d is %q, want %q", ErrUnexpectedStep, i, step, cg.stages[i].Name)
		}
	}
	if len(completed) == len(cg.stages) {
		return "", false, nil
	}
	return cg.stages[len(completed)].Name, true, nil
}

// Phase returns the stages that share name's phase, in order.
func (cg *CompiledGraph) Phase(name string) []string {
	def, ok := cg.Stage(name)
	if !ok {
		return nil
	}
	var out []string
	for _, d := range cg.stages {
		if d.Phase == def.Phase {
			out = append(out, d.Name)
		}
	}
	return out
}
