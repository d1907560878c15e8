// Package repair recovers structured tool arguments from the slightly
// malformed JSON that models sometimes emit.
//
// Repair is a fixed, ordered pipeline of text rewrites. The input is parsed
// strictly first; after each rewrite the text is parsed again and the first
// successful parse wins. When nothing parses, callers get an empty argument
// set together with a *DecodeError so the tool can fail with a descriptive
// message the model sees on its next turn.
package repair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DecodeError reports arguments that stayed invalid after every repair step.
type DecodeError struct {
	Raw      string
	Repaired string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tool arguments could not be decoded: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type step struct {
	name  string
	apply func(string) string
}

var (
	fenceOpenRe     = regexp.MustCompile("^\\s*```[A-Za-z0-9_+-]*[ \\t]*\\r?\\n?")
	fenceCloseRe    = regexp.MustCompile("\\r?\\n?[ \\t]*```\\s*$")
	newlineRe       = regexp.MustCompile(`\r?\n`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	noneRe          = regexp.MustCompile(`\bNone\b`)
	trueRe          = regexp.MustCompile(`\bTrue\b`)
	falseRe         = regexp.MustCompile(`\bFalse\b`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*):`)
)

// steps run in order; each one sees the output of the previous.
var steps = []step{
	{"strip_fence", func(s string) string {
		s = fenceOpenRe.ReplaceAllString(s, "")
		return fenceCloseRe.ReplaceAllString(s, "")
	}},
	{"collapse_newlines", func(s string) string {
		return newlineRe.ReplaceAllString(s, " ")
	}},
	{"trailing_commas", func(s string) string {
		return trailingCommaRe.ReplaceAllString(s, "$1")
	}},
	{"python_literals", func(s string) string {
		s = noneRe.ReplaceAllString(s, "null")
		s = trueRe.ReplaceAllString(s, "true")
		return falseRe.ReplaceAllString(s, "false")
	}},
	// Lossy for values containing apostrophes; accepted.
	{"single_quotes", func(s string) string {
		return strings.ReplaceAll(s, "'", `"`)
	}},
	{"bare_keys", func(s string) string {
		return bareKeyRe.ReplaceAllString(s, `$1"$2"$3:`)
	}},
}

// Arguments decodes raw into an argument map, repairing it if needed. The
// returned map is never nil. A non-nil error is always a *DecodeError and
// is informational: the empty map is still meant to be used.
func Arguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	args, err := parse(trimmed)
	if err == nil {
		return args, nil
	}

	text := trimmed
	for _, st := range steps {
		text = strings.TrimSpace(st.apply(text))
		args, err = parse(text)
		if err == nil {
			return args, nil
		}
	}
	return map[string]any{}, &DecodeError{Raw: raw, Repaired: text, Err: err}
}

// Normalize returns raw after every repair step has been applied,
// regardless of whether the result parses.
func Normalize(raw string) string {
	text := strings.TrimSpace(raw)
	for _, st := range steps {
		text = strings.TrimSpace(st.apply(text))
	}
	return text
}

func parse(text string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(text), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
