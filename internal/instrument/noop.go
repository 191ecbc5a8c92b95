package instrument

// Recorder receives domain events worth counting. The engine depends on this
// interface only, so tests run without a metrics registry.
type Recorder interface {
	FilterRejected(entity, field string)
	SerializationFailed(entity, field string)
	StoreFailed(entity, backend string)
}

// NoopRecorder discards all events.
type NoopRecorder struct{}

func (NoopRecorder) FilterRejected(entity, field string)      {}
func (NoopRecorder) SerializationFailed(entity, field string) {}
func (NoopRecorder) StoreFailed(entity, backend string)       {}
