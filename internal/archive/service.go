// Package archive moves verified objects from the ingest tier to the archive
// tier of an object store.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/arch-mgr/pkg/storage/objectstore"
	"github.com/your-org/arch-mgr/pkg/tracing"
)

// MetadataChecksumKey is the user metadata field carrying an object's MD5.
const MetadataChecksumKey = "md5sum"

var tracer = otel.Tracer("github.com/your-org/arch-mgr/internal/archive")

// Store is the object store surface the workflow drives.
type Store interface {
	ObjectReader
	HeadMetadata(ctx context.Context, bucket, key string) (map[string]string, error)
	ListKeys(ctx context.Context, bucket string) (keys []string, truncated bool, err error)
	Copy(ctx context.Context, req objectstore.CopyRequest, onProgress objectstore.ProgressFunc) error
	Delete(ctx context.Context, bucket, key string) error
	Close() error
}

// Trail receives the operational log of every step. *cloudlog.Sink
// implements it.
type Trail interface {
	AddEvent(message string)
	Log(ctx context.Context, message string) error
	Flush(ctx context.Context) error
}

// Publisher emits transition outcome events. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
}

// Settings holds the tier configuration a transition runs with. Empty
// fields and a nil RemoveFromIngest mean "not specified".
type Settings struct {
	IngestBucket     string
	ArchiveBucket    string
	StorageClass     string
	RemoveFromIngest *bool
}

// Bool returns a pointer to v, for Settings.RemoveFromIngest.
func Bool(v bool) *bool { return &v }

func (s Settings) merge(override Settings) Settings {
	if override.IngestBucket != "" {
		s.IngestBucket = override.IngestBucket
	}
	if override.ArchiveBucket != "" {
		s.ArchiveBucket = override.ArchiveBucket
	}
	if override.StorageClass != "" {
		s.StorageClass = override.StorageClass
	}
	if override.RemoveFromIngest != nil {
		s.RemoveFromIngest = override.RemoveFromIngest
	}
	return s
}

// Request asks for one object to be moved. ExpectedDigest is optional; when
// empty it is read from the ingest object's metadata.
type Request struct {
	Key            string
	ExpectedDigest string
	Settings
}

// Service wires together storage, the log trail and event publishing for
// archive transitions.
type Service struct {
	store     Store
	verifier  *Verifier
	trail     Trail
	publisher Publisher
	logger    *zap.Logger
	defaults  Settings
}

type Params struct {
	Store     Store
	Trail     Trail
	Publisher Publisher
	Logger    *zap.Logger
	Defaults  Settings
	ChunkSize int
}

// NewService constructs an archive Service.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	trail := p.Trail
	if trail == nil {
		trail = nopTrail{}
	}
	return &Service{
		store:     p.Store,
		verifier:  NewVerifier(p.Store, p.ChunkSize),
		trail:     trail,
		publisher: p.Publisher,
		logger:    logger,
		defaults:  p.Defaults,
	}
}

// ComputeChecksum streams bucket/key and returns its digest. An empty bucket
// falls back to the configured ingest bucket.
func (s *Service) ComputeChecksum(ctx context.Context, bucket, key string) (Digest, error) {
	if bucket == "" {
		bucket = s.defaults.IngestBucket
	}
	fields := []zap.Field{zap.String("bucket", bucket), zap.String("key", key)}

	s.info(ctx, ">> compute checksum START", fields...)
	s.info(ctx, fmt.Sprintf("CHUNKSIZE: %d MB", s.verifier.ChunkSize()/1024/1024))
	s.info(ctx, "BUCKET: "+bucket)
	s.info(ctx, "KEY: "+key)

	d, err := s.verifier.Compute(ctx, bucket, key, func(chunks int) {
		s.info(ctx, fmt.Sprintf("CHUNK %d PROCESSED", chunks), append(fields, zap.Int("chunks", chunks))...)
	})
	if err != nil {
		return Digest{}, err
	}

	s.info(ctx, fmt.Sprintf("CHUNK_COUNT: %d", d.Chunks))
	s.info(ctx, "MD5: "+d.Hex)
	s.info(ctx, ">> compute checksum DONE", append(fields, zap.String("md5", d.Hex), zap.Int64("bytes", d.Bytes))...)
	return d, nil
}

// Transition runs the verify, copy and optional remove sequence for one
// object. The returned Record is always non-nil; on failure its State is
// StateFailed and the error is a *TransitionError.
func (s *Service) Transition(ctx context.Context, req Request) (*Record, error) {
	ctx, span := tracer.Start(ctx, "archive.Transition", trace.WithAttributes(tracing.ObjectKey.String(req.Key)))
	defer span.End()

	rec := &Record{Key: req.Key, State: StateStart}
	if err := s.transition(ctx, req, rec); err != nil {
		terr := &TransitionError{Key: req.Key, State: rec.State, Err: err}
		rec.FailedIn = rec.State
		rec.State = StateFailed
		rec.Err = terr

		span.RecordError(terr)
		span.SetStatus(codes.Error, "transition failed")
		s.record(ctx, zapcore.ErrorLevel, fmt.Sprintf(">> transition FAILED in %s: %v", rec.FailedIn, err),
			zap.String("key", req.Key), zap.String("state", string(rec.FailedIn)), zap.Error(err))
		s.publish(ctx, rec)
		return rec, terr
	}

	span.SetAttributes(attribute.Int64("object.bytes_copied", rec.BytesCopied), attribute.Bool("object.removed", rec.Removed))
	s.publish(ctx, rec)
	return rec, nil
}

func (s *Service) transition(ctx context.Context, req Request, rec *Record) error {
	settings := s.defaults.merge(req.Settings)
	rec.IngestBucket = settings.IngestBucket
	rec.ArchiveBucket = settings.ArchiveBucket
	rec.StorageClass = settings.StorageClass
	trace.SpanFromContext(ctx).SetAttributes(tracing.TransferAttributes(settings.IngestBucket, req.Key, settings.ArchiveBucket)...)

	switch {
	case req.Key == "":
		return invalidArgument("key not specified")
	case settings.IngestBucket == "":
		return invalidArgument("ingest bucket not specified")
	case settings.ArchiveBucket == "":
		return invalidArgument("archive bucket not specified")
	case settings.RemoveFromIngest == nil:
		return invalidArgument("remove from ingest bucket not specified")
	}
	remove := *settings.RemoveFromIngest

	key := zap.String("key", req.Key)
	s.info(ctx, ">> transition START", key,
		zap.String("ingest_bucket", settings.IngestBucket),
		zap.String("archive_bucket", settings.ArchiveBucket),
		zap.String("storage_class", settings.StorageClass),
		zap.Bool("remove_from_ingest", remove))
	s.info(ctx, "KEY: "+req.Key)
	s.info(ctx, "INGEST_BUCKET: "+settings.IngestBucket)
	s.info(ctx, "ARCHIVE_BUCKET: "+settings.ArchiveBucket)
	s.info(ctx, "ARCHIVE_STORAGE_CLASS: "+settings.StorageClass)
	s.info(ctx, fmt.Sprintf("REMOVE_FROM_INGEST_BUCKET: %t", remove))

	rec.State = StateResolvingChecksum
	expected, err := s.resolveChecksum(ctx, settings.IngestBucket, req.Key, req.ExpectedDigest)
	if err != nil {
		return err
	}
	rec.ExpectedDigest = expected

	rec.State = StateVerifying
	digest, err := s.verify(ctx, settings.IngestBucket, req.Key)
	if err != nil {
		return err
	}
	rec.ComputedDigest = digest.Hex
	if digest.Hex != expected {
		return fmt.Errorf("%w: expected %s, computed %s", ErrChecksumMismatch, expected, digest.Hex)
	}

	rec.State = StateCopying
	if err := s.copyToArchive(ctx, settings, req.Key, digest.Hex, rec); err != nil {
		return err
	}

	if remove {
		rec.State = StateRemoving
		s.info(ctx, "BEGIN remove from ingest bucket", key)
		if err := s.store.Delete(ctx, settings.IngestBucket, req.Key); err != nil {
			return fmt.Errorf("%w: delete %s/%s: %w", ErrStoreDeleteFailed, settings.IngestBucket, req.Key, err)
		}
		rec.Removed = true
		s.info(ctx, "END remove from ingest bucket", key)
	}

	rec.State = StateDone
	s.info(ctx, ">> transition DONE", key, zap.Int64("bytes_copied", rec.BytesCopied), zap.Bool("removed", rec.Removed))
	return nil
}

func (s *Service) resolveChecksum(ctx context.Context, bucket, key, supplied string) (string, error) {
	expected := supplied
	if expected == "" {
		s.info(ctx, "CHECKING ingested object metadata for "+MetadataChecksumKey, zap.String("key", key))
		meta, err := s.store.HeadMetadata(ctx, bucket, key)
		if err != nil {
			return "", fmt.Errorf("%w: head %s/%s: %w", ErrStoreReadFailed, bucket, key, err)
		}
		expected = meta[MetadataChecksumKey]
	}
	if expected == "" {
		return "", fmt.Errorf("%w: no expected md5sum supplied or recorded on %s/%s", ErrMissingChecksum, bucket, key)
	}
	s.info(ctx, "EXPECTED_MD5_SUM: "+expected, zap.String("key", key))
	return expected, nil
}

// copyToArchive replaces the destination metadata with only the verified
// digest and always flushes the trail once the copy returns.
func (s *Service) copyToArchive(ctx context.Context, settings Settings, key, digest string, rec *Record) error {
	ctx, span := tracer.Start(ctx, "archive.copy",
		trace.WithAttributes(tracing.TransferAttributes(settings.IngestBucket, key, settings.ArchiveBucket)...))
	defer span.End()

	s.info(ctx, "BEGIN copy to archive bucket", zap.String("key", key))

	var copied atomic.Int64
	err := s.store.Copy(ctx, objectstore.CopyRequest{
		SrcBucket:       settings.IngestBucket,
		SrcKey:          key,
		DstBucket:       settings.ArchiveBucket,
		DstKey:          key,
		Metadata:        map[string]string{MetadataChecksumKey: digest},
		ReplaceMetadata: true,
		StorageClass:    settings.StorageClass,
	}, func(bytesSoFar int64) {
		// Reports may arrive out of order; keep the highest.
		for cur := copied.Load(); bytesSoFar > cur; cur = copied.Load() {
			if copied.CompareAndSwap(cur, bytesSoFar) {
				break
			}
		}
		s.record(ctx, zapcore.DebugLevel, fmt.Sprintf("%d bytes copied so far.", bytesSoFar),
			zap.String("key", key), zap.Int64("bytes", bytesSoFar))
	})
	rec.BytesCopied = copied.Load()

	if ferr := s.trail.Flush(ctx); ferr != nil {
		s.logger.Warn("log sink flush failed", zap.Error(ferr))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "copy failed")
		return fmt.Errorf("%w: copy %s/%s to %s: %w", ErrStoreWriteFailed, settings.IngestBucket, key, settings.ArchiveBucket, err)
	}

	s.info(ctx, "END copy to archive bucket", zap.String("key", key), zap.Int64("bytes", rec.BytesCopied))
	return nil
}

func (s *Service) verify(ctx context.Context, bucket, key string) (Digest, error) {
	ctx, span := tracer.Start(ctx, "archive.verify", trace.WithAttributes(tracing.ObjectAttributes(bucket, key)...))
	defer span.End()

	d, err := s.ComputeChecksum(ctx, bucket, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
	}
	return d, err
}

func (s *Service) publish(ctx context.Context, rec *Record) {
	if s.publisher == nil {
		return
	}
	id := uuid.NewString()
	payload, err := json.Marshal(newTransitionEvent(id, rec, time.Now().UTC()))
	if err != nil {
		s.logger.Warn("marshal transition event", zap.Error(err))
		return
	}
	headers := map[string]string{
		"event_id":   id,
		"event_type": "archive.transition." + strings.ToLower(string(rec.State)),
	}
	if err := s.publisher.Publish(ctx, []byte(rec.Key), payload, headers); err != nil {
		s.logger.Warn("publish transition event", zap.String("key", rec.Key), zap.Error(err))
	}
}

func (s *Service) info(ctx context.Context, msg string, fields ...zap.Field) {
	s.record(ctx, zapcore.InfoLevel, msg, fields...)
}

// record writes msg to the local logger and the remote trail. A trail
// failure is reported locally and never fails the caller's step.
func (s *Service) record(ctx context.Context, lvl zapcore.Level, msg string, fields ...zap.Field) {
	if ce := s.logger.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
	if err := s.trail.Log(ctx, msg); err != nil {
		s.logger.Warn("log sink flush failed", zap.Error(err))
	}
}

// Close releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	if err := s.trail.Flush(ctx); err != nil {
		s.logger.Warn("log sink flush failed", zap.Error(err))
	}
	return s.store.Close()
}

type nopTrail struct{}

func (nopTrail) AddEvent(string) {}

func (nopTrail) Log(context.Context, string) error { return nil }

func (nopTrail) Flush(context.Context) error { return nil }
