package composite

import (
	"context"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// Sink 依次投递到每个下游，返回第一个错误
type Sink struct {
	sinks []port.NotificationSink
}

func New(sinks ...port.NotificationSink) *Sink {
	// nil sinks are allowed; filter in constructor
	out := make([]port.NotificationSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Sink{sinks: out}
}

func (s *Sink) Send(ctx context.Context, ev model.Event) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Sink) Len() int { return len(s.sinks) }

var _ port.NotificationSink = (*Sink)(nil)
