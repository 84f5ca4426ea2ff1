package events

import "context"

// Publisher publishes extraction events to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, event *ExtractionEvent) error
	Close() error
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// Publish validates input and otherwise does nothing.
func (p *NopPublisher) Publish(_ context.Context, event *ExtractionEvent) error {
	if event == nil {
		return ErrNilEvent
	}
	return nil
}

func (p *NopPublisher) Close() error {
	return nil
}
