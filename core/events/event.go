package events

// Event is a structured record of a state change in the intent and
// settlement engines.
type Event interface {
	EventType() string
}

// Emitter delivers events to downstream subscribers such as the telemetry
// pipeline or an indexer.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards everything. Engines fall back to it when no emitter
// is configured.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}
