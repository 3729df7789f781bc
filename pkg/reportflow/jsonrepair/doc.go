/*
Package jsonrepair decodes JSON produced by a language model.

Model output is often not valid JSON as returned. It may be wrapped in
prose or markdown fences, contain raw control characters inside strings,
or stop mid-structure because the token ceiling was reached. Decode tries
a cascade of strategies in order and returns the first value that parses:

 1. fence extraction: strip a ```json fence, or a leading fence with no close
 2. control-character sanitization inside string literals
 3. direct parse
 4. structural repair: cut at the last complete value and close open brackets
 5. aggressive truncation: cut at the last complete root or top-level member
 6. progressive windowing: retry structural repair on shorter windows
 7. the caller's default, or a *errors.DecodeError

# Basic Usage

	res, err := jsonrepair.Decode(text, jsonrepair.WithTruncated(truncated), jsonrepair.WithContext("an3"))
	if err != nil {
	    return err
	}
	obj, _ := res.Value.(map[string]any)

Result.Strategy reports which strategy produced the value. Strategies from
structural repair onward may return a partial value; string literals in a
repaired value are always complete.

Decode never panics. A strategy that panics counts as failed.
*/
package jsonrepair
