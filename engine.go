// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

// Script is JavaScript source loaded into every engine before it serves calls.
type Script struct {
	Content  string // Script content
	FileName string // Script file name for debugging purposes
}

// ScriptCall invokes a global JavaScript function by name.
type ScriptCall struct {
	Id       string `json:"id"`       // Caller-chosen identifier echoed in the result
	Function string `json:"function"` // Name of the global function to call
	Args     []any  `json:"args"`     // Arguments passed to the function
	ThreadId uint32 `json:"-"`        // Pins the call to one engine thread when non-zero
}

// ScriptResult is the outcome of a ScriptCall.
type ScriptResult struct {
	Id     string // Id of the call
	Value  any    // Value returned by the function, with promises resolved
	Err    error  // Error raised by the engine, nil on success
	Thread string // Name of the engine thread that ran the call
}

// ScriptEngine is a JavaScript engine owned by a single engine thread.
// Implementations need not be safe for concurrent use.
type ScriptEngine interface {
	// Load evaluates the given scripts in order.
	Load(scripts []*Script) error

	// Call invokes a global function and returns its exported result. If the
	// function returns a promise, Call returns the settled value.
	Call(call *ScriptCall) (any, error)

	// Close releases the engine's resources.
	Close() error
}

// ScriptEngineFactory creates engines, one per engine thread.
type ScriptEngineFactory func() (ScriptEngine, error)
