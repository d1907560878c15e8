// Package protocol translates the canonical conversation into the wire
// shapes of the supported backend families and back.
//
// OpenAI is the turn-based family: tool calls and tool results are separate
// messages correlated by id. Gemini is the inline family: calls are parts
// of a model turn and results are submitted by tool name under the
// "function" pseudo-role. Gollm carries either through a plain text prompt.
//
// Serialization never mutates the history it is given, and every transport
// failure is reported as a *TransportError.
package protocol
