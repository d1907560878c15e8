// Package tools is the fixed catalog of operations the model may invoke.
//
// Every tool takes decoded JSON arguments, touches the filesystem only
// through a sandbox.Sandbox and reports its outcome as a Result. Failures
// never escape as errors or panics; they are classified into one of the
// ErrorKind values so the model can read and react to them.
package tools
