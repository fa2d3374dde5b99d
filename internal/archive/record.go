package archive

// State is a step of the per-object transition.
type State string

const (
	StateStart             State = "START"
	StateResolvingChecksum State = "RESOLVING_CHECKSUM"
	StateVerifying         State = "VERIFYING"
	StateCopying           State = "COPYING"
	StateRemoving          State = "REMOVING"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Terminal reports whether no further step can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Record describes one object move. It is owned by a single Transition call
// and is not persisted.
type Record struct {
	Key            string
	IngestBucket   string
	ArchiveBucket  string
	StorageClass   string
	ExpectedDigest string
	ComputedDigest string
	BytesCopied    int64
	Removed        bool
	State          State
	// FailedIn is the step that was running when State became StateFailed.
	FailedIn State
	Err      error
}
