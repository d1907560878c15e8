// Package agentloop drives a tool-calling conversation with a model backend.
//
// A Session owns the conversation history, the tool registry and the
// backend. Respond appends the user text, then alternates between calling
// the backend and executing the tool calls it returns, appending every
// result to the history in request order. The turn ends when the model
// replies without tool calls, when Config.MaxIterations model calls have
// been made, or when the backend fails.
//
// Tool failures never end a turn. They are returned to the model as
// structured results so it can correct itself on the next iteration.
//
// The host application observes a session through Events.
package agentloop
