package cloudlog

import "context"

// Event is a single line in a remote log stream.
type Event struct {
	// TimestampMillis is milliseconds since the Unix epoch, UTC.
	TimestampMillis int64
	Message         string
}

// Destination is an append-only, sequence-tokened remote log stream.
//
// PutEvents appends events in order. sequenceToken is empty only on the first
// put of a stream's life; the returned token must be passed to the next put.
type Destination interface {
	CreateStream(ctx context.Context, group, stream string) error
	PutEvents(ctx context.Context, group, stream string, events []Event, sequenceToken string) (nextSequenceToken string, err error)
}

// Discard is a Destination that accepts and drops every event. It is used
// when no log group is configured.
type Discard struct{}

func (Discard) CreateStream(context.Context, string, string) error { return nil }

func (Discard) PutEvents(context.Context, string, string, []Event, string) (string, error) {
	return "", nil
}
