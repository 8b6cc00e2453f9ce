package archive

import "errors"

var (
	// ErrNotFound reports a missing archive, message id or attachment.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt reports an unreadable container or a missing internal entry.
	ErrCorrupt = errors.New("archive corrupt")
)
