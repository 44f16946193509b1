// Package noop provides a publisher that drops events. It is the
// default when no Pub/Sub topic is configured.
package noop

import "context"

// Publisher discards every event.
type Publisher struct{}

// NewPublisher returns a Publisher that drops events.
func NewPublisher() Publisher {
	return Publisher{}
}

// Publish discards the payload and reports an empty message ID.
func (Publisher) Publish(context.Context, string, any) (string, error) {
	return "", nil
}

// Close is a no-op.
func (Publisher) Close() error {
	return nil
}
