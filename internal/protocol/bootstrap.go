package protocol

import _ "embed"

// Script is the interpreter program run on the remote side. It reads one
// JSON request per line from stdin and answers each with one JSON line on
// stdout carrying the same ticket. It keeps no state between requests, so
// restarting it after a dropped connection is safe.
//
//go:embed bootstrap.py
var Script string

// DefaultInterpreter runs Script when none is configured.
const DefaultInterpreter = "python3"

// Argv returns the remote command line that starts the interpreter.
func Argv(interpreter string) []string {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	return []string{interpreter, "-u", "-c", Script}
}
