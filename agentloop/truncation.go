package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/martinemde/puding/tools"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultToolCharLimits bounds the result text handed back to the model.
// Tools without an entry are not truncated; file reads are already capped
// by the file size ceiling.
var DefaultToolCharLimits = map[string]int{
	tools.RunCommand:          30000,
	tools.ListDirectory:       20000,
	tools.EditFile:            10000,
	tools.CreateFile:          2000,
	tools.CreateMultipleFiles: 10000,
}

// DefaultTruncationModes picks the mode per tool; the default is head_tail.
var DefaultTruncationModes = map[string]TruncationMode{
	tools.ListDirectory:       TruncateTail,
	tools.EditFile:            TruncateTail,
	tools.CreateFile:          TruncateTail,
	tools.CreateMultipleFiles: TruncateTail,
}

// DefaultToolLineLimits is applied after character truncation.
var DefaultToolLineLimits = map[string]int{
	tools.RunCommand: 256,
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || utf8.RuneCountInString(output) <= maxChars {
		return output
	}
	runes := []rune(output)
	removed := len(runes) - maxChars

	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed. "+
			"The full output is available in the event stream.]\n\n", removed) +
			string(runes[len(runes)-maxChars:])
	default:
		half := maxChars / 2
		return string(runes[:half]) +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"The full output is available in the event stream. "+
				"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n", removed) +
			string(runes[len(runes)-(maxChars-half):])
	}
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the character limit and then the line limit
// for a tool, with per-call overrides taking precedence over the defaults.
func TruncateToolOutput(output string, toolName string, charLimits map[string]int, lineLimits map[string]int) string {
	maxChars, ok := charLimits[toolName]
	if !ok {
		maxChars = DefaultToolCharLimits[toolName]
	}
	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)

	maxLines, ok := lineLimits[toolName]
	if !ok {
		maxLines = DefaultToolLineLimits[toolName]
	}
	return TruncateLines(result, maxLines)
}
