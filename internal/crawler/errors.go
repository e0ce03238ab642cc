package crawler

import "errors"

var (
	// ErrLockContention means another holder owns the lock; the job is rejected for this cycle.
	ErrLockContention = errors.New("lock held by another worker")
	// ErrTransientFetch marks a page or article read that may succeed on retry.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrArchiveUnreachable means the page count could not be determined.
	ErrArchiveUnreachable = errors.New("archive unreachable")
	// ErrPersistence wraps store write failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrEnrichment wraps per-entry stage failures.
	ErrEnrichment = errors.New("enrichment failure")
	// ErrJobExpired marks a message dequeued after its expiry.
	ErrJobExpired = errors.New("job expired")
	// ErrUnknownTask marks a message naming no registered task.
	ErrUnknownTask = errors.New("unknown task")
	// ErrUnknownTarget marks a message naming no configured crawl target.
	ErrUnknownTarget = errors.New("unknown crawl target")
	// ErrInvalidTransition marks a processing state move that is not forward.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStateConflict means the entry was not in the expected state when updated.
	ErrStateConflict = errors.New("entry state changed concurrently")
	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by Dequeue once the queue shut down.
	ErrQueueClosed = errors.New("queue closed")
)
