// Package provider defines the pluggable contract phase execution uses to
// talk to an external LLM-backed CLI, plus the normalized model-event
// schema every concrete adapter must translate its own output into.
package provider

import "encoding/json"

// Command is what an Adapter wants run as a subprocess: a binary path,
// its arguments, and optional stdin content.
type Command struct {
	Path  string
	Args  []string
	Stdin string
	Env   []string
}

// Request carries everything an adapter needs to build a Command for one
// phase invocation.
type Request struct {
	Provider     string
	Phase        string
	Prompt       string
	OutputSchema json.RawMessage
	WorkingDir   string
}

// EventLevel mirrors task.EventLevel so provider packages don't need to
// import the domain package just for this.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// ModelEventKind classifies a normalized event for downstream envelope
// construction. Every model event becomes a type "event" envelope; the
// kind only selects the envelope payload's model_event_kind value.
type ModelEventKind string

const (
	KindToken        ModelEventKind = "token"
	KindToolCall     ModelEventKind = "tool_call"
	KindToolResult   ModelEventKind = "tool_result"
	KindStatus       ModelEventKind = "status"
	KindResult       ModelEventKind = "result"
	KindProviderNote ModelEventKind = "provider_note"
)

// ModelEvent is the normalized shape every adapter reduces its raw
// subprocess output lines to, so the Phase Runner never special-cases a
// specific provider's wire format.
type ModelEvent struct {
	Level         EventLevel
	Kind          ModelEventKind
	Type          string
	Message       string
	Summary       string
	ResultMessage string
	Data          json.RawMessage
}

// Adapter is the contract a concrete provider (claudecode, codex, ...)
// implements. BuildCommand turns a phase request into a subprocess
// invocation; HandleOutputLine normalizes one raw stdout line; IsTerminalStream
// reports whether a line is the final line of output the adapter expects;
// GetTerminalResultText extracts the adapter's best-effort final answer
// text once the stream is known to be complete.
type Adapter interface {
	Name() string
	BuildCommand(req Request) (Command, error)
	HandleOutputLine(line string) (ModelEvent, bool)
	IsTerminalStream(line string) bool
	GetTerminalResultText(lines []string) string
}

// Registry resolves a provider name to its Adapter.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}
