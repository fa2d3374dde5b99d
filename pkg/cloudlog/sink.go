// Package cloudlog buffers operational trail lines and delivers them, in
// order, to a remote append-only log stream.
package cloudlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMinimumPutInterval throttles Log when Options leaves it unset.
	DefaultMinimumPutInterval = time.Second

	// Per-put limits imposed by the remote stream.
	maxBatchEvents   = 10000
	maxBatchBytes    = 1048576
	eventOverheadLen = 26

	streamTimeLayout = "2006/01/02T15/04/05"
)

// Options configures a Sink.
type Options struct {
	Group string
	App   string
	// MinimumPutInterval is the least time Log waits after a successful
	// flush before flushing again.
	MinimumPutInterval time.Duration
	// EnableErrorLogging includes the full error chain in the abnormal
	// termination message. Off by default since it may carry sensitive data.
	EnableErrorLogging bool
	Logger             *zap.Logger

	now   func() time.Time
	newID func() string
}

// Sink queues events and flushes them as ordered batches to one stream.
//
// The queue and the sequence token are shared by every caller, including
// copy progress callbacks running on client-owned goroutines. mu guards the
// queue; flushMu serializes flushes so that the token is never used twice.
type Sink struct {
	dest        Destination
	group       string
	stream      string
	interval    time.Duration
	errorDetail bool
	logger      *zap.Logger
	now         func() time.Time

	mu            sync.Mutex
	pending       []Event
	lastTimestamp int64
	lastFlush     time.Time

	flushMu sync.Mutex
	token   string
}

// StreamName derives a per-process stream name from the UTC start time, the
// application name and a fresh unique id.
func StreamName(start time.Time, app, id string) string {
	return start.UTC().Format(streamTimeLayout) + "/" + app + "/" + id
}

// Open creates the remote stream and returns a Sink that owns it.
func Open(ctx context.Context, dest Destination, opts Options) (*Sink, error) {
	if opts.App == "" {
		return nil, errors.New("cloudlog: app name is required")
	}
	if opts.MinimumPutInterval <= 0 {
		opts.MinimumPutInterval = DefaultMinimumPutInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newID == nil {
		opts.newID = uuid.NewString
	}

	s := &Sink{
		dest:        dest,
		group:       opts.Group,
		stream:      StreamName(opts.now(), opts.App, opts.newID()),
		interval:    opts.MinimumPutInterval,
		errorDetail: opts.EnableErrorLogging,
		logger:      opts.Logger,
		now:         opts.now,
	}
	if err := dest.CreateStream(ctx, s.group, s.stream); err != nil {
		return nil, err
	}
	s.logger.Info("log stream created", zap.String("group", s.group), zap.String("stream", s.stream))
	return s, nil
}

// Run opens a Sink, runs fn with it and closes it with fn's outcome. The
// error fn returns is passed back unchanged; a panic is recorded and
// re-raised.
func Run(ctx context.Context, dest Destination, opts Options, fn func(context.Context, *Sink) error) (err error) {
	s, err := Open(ctx, dest, opts)
	if err != nil {
		return err
	}
	if err := s.Log(ctx, "Logging started"); err != nil {
		s.logger.Warn("log sink flush failed", zap.Error(err))
	}

	defer func() {
		if r := recover(); r != nil {
			_ = s.Close(ctx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	return s.Close(ctx, fn(ctx, s))
}

// Group returns the log group the stream belongs to.
func (s *Sink) Group() string { return s.group }

// Stream returns the name of the owned stream.
func (s *Sink) Stream() string { return s.stream }

// AddEvent queues message stamped with the current time. It never performs
// network I/O and is safe for concurrent use.
func (s *Sink) AddEvent(message string) {
	s.AddEventAt(s.now(), message)
}

// AddEventAt queues message with an explicit timestamp. A timestamp earlier
// than one already queued or sent is moved forward to it, keeping delivery
// order non-decreasing.
func (s *Sink) AddEventAt(ts time.Time, message string) {
	millis := ts.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if millis < s.lastTimestamp {
		millis = s.lastTimestamp
	}
	s.lastTimestamp = millis
	s.pending = append(s.pending, Event{TimestampMillis: millis, Message: message})
}

// Log queues message and flushes if the minimum put interval has elapsed
// since the last successful flush.
func (s *Sink) Log(ctx context.Context, message string) error {
	return s.LogAt(ctx, s.now(), message)
}

// LogAt is Log with an explicit timestamp.
func (s *Sink) LogAt(ctx context.Context, ts time.Time, message string) error {
	s.AddEventAt(ts, message)
	if !s.flushDue() {
		return nil
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	// Another caller may have flushed while this one waited.
	if !s.flushDue() {
		return nil
	}
	return s.flushLocked(ctx)
}

func (s *Sink) flushDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFlush.IsZero() || s.now().Sub(s.lastFlush) > s.interval
}

// Pending reports how many events are queued and not yet delivered.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush delivers every queued event. An empty queue is a no-op. Events that
// could not be delivered are returned to the front of the queue.
func (s *Sink) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.flushLocked(ctx)
}

// flushLocked delivers the queue. The caller holds flushMu.
func (s *Sink) flushLocked(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	for sent := 0; sent < len(batch); {
		n := batchLen(batch[sent:])
		next, err := s.dest.PutEvents(ctx, s.group, s.stream, batch[sent:sent+n], s.token)
		if err != nil {
			s.requeue(batch[sent:])
			return fmt.Errorf("flush %d events to %s: %w", len(batch)-sent, s.stream, err)
		}
		s.token = next
		sent += n

		s.mu.Lock()
		s.lastFlush = s.now()
		s.mu.Unlock()
	}
	return nil
}

func (s *Sink) requeue(unsent []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(append(make([]Event, 0, len(unsent)+len(s.pending)), unsent...), s.pending...)
}

// batchLen returns how many leading events fit in one put.
func batchLen(events []Event) int {
	size := 0
	for i, ev := range events {
		size += len(ev.Message) + eventOverheadLen
		if i > 0 && (i == maxBatchEvents || size > maxBatchBytes) {
			return i
		}
	}
	return len(events)
}

// Close logs the closing message for cause and performs a final flush. cause
// is returned unchanged; when cause is nil the flush error is returned.
func (s *Sink) Close(ctx context.Context, cause error) error {
	if cause == nil {
		s.AddEvent("Logging terminated normally")
		return s.Flush(ctx)
	}

	s.AddEvent(s.abnormalMessage(cause))
	if err := s.Flush(ctx); err != nil {
		s.logger.Error("final log flush failed", zap.Error(err), zap.NamedError("cause", cause))
	}
	return cause
}

func (s *Sink) abnormalMessage(cause error) string {
	var b strings.Builder
	b.WriteString("Error encountered; abnormal log termination.\n")
	if !s.errorDetail {
		b.WriteString("You may want to enable error logging if it is safe.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Error Type: %T\n", cause)
	fmt.Fprintf(&b, "Error Value: %v\n", cause)
	for err := errors.Unwrap(cause); err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(&b, "Caused By: %T: %v\n", err, err)
	}
	return b.String()
}
