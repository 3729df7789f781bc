/*
Package prompt renders stage prompts from chain state.

# Overview

Prompts are plain strings with ${path} placeholders. A path is a variable
name optionally followed by dotted segments, so stage outputs can be
addressed directly:

	exp := prompt.NewExpander()
	out, _ := exp.Expand("Problem: ${an0.problem_statement}", vars)

Array elements use numeric segments (${an3.concepts.0.name}). Scalars are
inserted as text; objects and arrays are inserted as indented JSON.

# Defaults

A placeholder may carry a fallback after a pipe. It is used when the path
does not resolve, which suits optional stages:

	"Analogies: ${an1_7.analogies|none found}"

# Missing Variables

Without a fallback, missing variables follow the expander's MissingAction.
Templates render with MissingError so a prompt never silently loses context.

# Thread Safety

Expander and Template are safe for concurrent use after construction.
*/
package prompt
