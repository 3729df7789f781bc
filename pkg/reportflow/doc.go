/*
Package reportflow runs durable, multi-stage LLM report chains.

# Overview

A report chain is a fixed sequence of stages. Each stage reads everything
earlier stages produced, calls a language model through the gateway, repairs
and validates the JSON it gets back, and appends the result to the chain's
state. A chain can stop and wait, for minutes or days, for the user to answer
a clarifying question, and it survives process restarts at any point.

The chain's lifecycle:

	created -> running(stage) -> running(next) ... -> complete
	                          -> clarifying -> running(same stage)
	                          -> failed
	any non-terminal          -> cancelled

# Basic Usage

Compile a stage graph, wire the substrate, and start a chain:

	graph, err := reportflow.NewGraph().
	    AddStages(catalog.Core()...).
	    Compile()
	if err != nil {
	    log.Fatal(err)
	}

	engine := durable.New(checkpoint.NewMemoryStore(), signal.NewMemoryStore())
	exec := stage.NewExecutor(gateway.New(transport, gateway.DefaultConfig()))
	svc := reportflow.New(graph, exec, engine, store.NewMemoryStore())
	defer svc.Close()

	id, err := svc.StartChain(ctx, reportflow.StartRequest{
	    UserInput: "reduce thermal resistance in heat exchangers",
	})

# Durability

Every stage runs through durable.Engine.RunStep keyed by report and stage,
so a stage whose output was journaled is replayed rather than re-billed after
a crash. The chain state is saved after every transition, and Drive skips
stages already in CompletedSteps. RecoverAll drives every unfinished chain
at startup.

# Clarification

The stage marked Clarifies may ask a question. The chain saves itself in the
clarifying state and its driver returns; nothing waits in memory. When
AnswerClarification stores the answer, a new driver re-runs the same stage
with the answer in its prompt. A chain asks at most WithMaxClarifications
questions; past that, a further question is recorded as skipped and the
chain moves on.

# Cancellation

Cancel is cooperative. A clarifying chain is cancelled immediately. A running
chain finishes its in-flight model call, records its cost, and stops before
merging the result.
*/
package reportflow
