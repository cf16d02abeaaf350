package engine

import "errors"

var (
	// ErrAborted reports that the user declined to continue at an
	// interactive prompt. It is a clean exit, not a failure.
	ErrAborted = errors.New("sync aborted by user choice")

	// ErrNoMapping reports that a sync type requiring an existing mapping
	// ran against an empty store. An initial sync fixes it.
	ErrNoMapping = errors.New("no sync mappings found, initial sync needed")
)
