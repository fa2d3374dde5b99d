package archive

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// KeyFailure pairs a key with the error that stopped its transition.
type KeyFailure struct {
	Key string
	Err error
}

// Summary accounts for every key a bulk run saw.
type Summary struct {
	Transitioned []string
	Skipped      []string
	Failed       []KeyFailure
}

// Total is the number of keys listed.
func (s *Summary) Total() int {
	return len(s.Transitioned) + len(s.Skipped) + len(s.Failed)
}

// HasFailures reports whether any key failed to transition.
func (s *Summary) HasFailures() bool {
	return len(s.Failed) > 0
}

// TransitionAll moves every ingest object that carries a recorded md5sum.
// The listing must fit in a single page; otherwise the run stops with
// ErrTooManyObjects before any object is touched. A failing key does not
// stop the run; it is reported in the Summary.
func (s *Service) TransitionAll(ctx context.Context, settings Settings) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "archive.TransitionAll")
	defer span.End()

	summary, err := s.transitionAll(ctx, s.defaults.merge(settings))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk transition failed")
		s.record(ctx, zapcore.ErrorLevel, fmt.Sprintf(">> transition all FAILED: %v", err), zap.Error(err))
		return summary, err
	}
	span.SetAttributes(
		attribute.Int("objects.transitioned", len(summary.Transitioned)),
		attribute.Int("objects.skipped", len(summary.Skipped)),
		attribute.Int("objects.failed", len(summary.Failed)),
	)
	return summary, nil
}

func (s *Service) transitionAll(ctx context.Context, settings Settings) (*Summary, error) {
	summary := &Summary{}
	if settings.IngestBucket == "" {
		return summary, invalidArgument("ingest bucket not specified")
	}

	s.info(ctx, ">> transition all START", zap.String("ingest_bucket", settings.IngestBucket))
	keys, truncated, err := s.store.ListKeys(ctx, settings.IngestBucket)
	if err != nil {
		return summary, fmt.Errorf("%w: list %s: %w", ErrStoreReadFailed, settings.IngestBucket, err)
	}
	if truncated {
		return summary, fmt.Errorf("%w: listing of %s exceeds one page (%d keys returned)", ErrTooManyObjects, settings.IngestBucket, len(keys))
	}
	s.info(ctx, fmt.Sprintf("OBJECT_COUNT: %d", len(keys)), zap.Int("objects", len(keys)))

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		s.transitionOne(ctx, settings, key, summary)
	}

	s.info(ctx, fmt.Sprintf(">> transition all DONE: %d transitioned, %d skipped, %d failed",
		len(summary.Transitioned), len(summary.Skipped), len(summary.Failed)),
		zap.Int("transitioned", len(summary.Transitioned)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("failed", len(summary.Failed)))
	return summary, nil
}

func (s *Service) transitionOne(ctx context.Context, settings Settings, key string, summary *Summary) {
	meta, err := s.store.HeadMetadata(ctx, settings.IngestBucket, key)
	if err != nil {
		err = &TransitionError{
			Key:   key,
			State: StateResolvingChecksum,
			Err:   fmt.Errorf("%w: head %s/%s: %w", ErrStoreReadFailed, settings.IngestBucket, key, err),
		}
		s.record(ctx, zapcore.ErrorLevel, fmt.Sprintf("FAILED reading metadata of %s: %v", key, err), zap.String("key", key), zap.Error(err))
		summary.Failed = append(summary.Failed, KeyFailure{Key: key, Err: err})
		return
	}

	digest := meta[MetadataChecksumKey]
	if digest == "" {
		s.record(ctx, zapcore.WarnLevel, fmt.Sprintf("SKIPPING %s: no %s metadata", key, MetadataChecksumKey), zap.String("key", key))
		summary.Skipped = append(summary.Skipped, key)
		return
	}

	if _, err := s.Transition(ctx, Request{Key: key, ExpectedDigest: digest, Settings: settings}); err != nil {
		summary.Failed = append(summary.Failed, KeyFailure{Key: key, Err: err})
		return
	}
	summary.Transitioned = append(summary.Transitioned, key)
}
