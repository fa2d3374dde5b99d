package archive

import "time"

// TransitionEvent is published once per attempted object transition.
type TransitionEvent struct {
	ID             string    `json:"id"`
	Key            string    `json:"key"`
	IngestBucket   string    `json:"ingest_bucket"`
	ArchiveBucket  string    `json:"archive_bucket"`
	StorageClass   string    `json:"storage_class"`
	ExpectedDigest string    `json:"expected_md5sum,omitempty"`
	ComputedDigest string    `json:"computed_md5sum,omitempty"`
	BytesCopied    int64     `json:"bytes_copied"`
	Removed        bool      `json:"removed"`
	State          State     `json:"state"`
	FailedIn       State     `json:"failed_in,omitempty"`
	Error          string    `json:"error,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

func newTransitionEvent(id string, rec *Record, finishedAt time.Time) TransitionEvent {
	ev := TransitionEvent{
		ID:             id,
		Key:            rec.Key,
		IngestBucket:   rec.IngestBucket,
		ArchiveBucket:  rec.ArchiveBucket,
		StorageClass:   rec.StorageClass,
		ExpectedDigest: rec.ExpectedDigest,
		ComputedDigest: rec.ComputedDigest,
		BytesCopied:    rec.BytesCopied,
		Removed:        rec.Removed,
		State:          rec.State,
		FailedIn:       rec.FailedIn,
		FinishedAt:     finishedAt,
	}
	if rec.Err != nil {
		ev.Error = rec.Err.Error()
	}
	return ev
}
