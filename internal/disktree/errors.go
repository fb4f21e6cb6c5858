package disktree

import "errors"

// Error kinds returned by Builder, the streaming writer it drives, and Open. These
// mirror the sentinel pattern pkg/sorted uses for ErrNotFound: callers
// compare with errors.Is rather than parsing strings.
var (
	// ErrOrderViolation is returned when a key presented to the writer is
	// lexicographically less than the previous key. The Builder itself
	// never produces out-of-order keys (the staging store sorts for it),
	// so this only fires if the writer is driven directly.
	ErrOrderViolation = errors.New("disktree: keys out of order")

	// ErrFinalized is returned by Add after Build has been called.
	ErrFinalized = errors.New("disktree: builder already finalized")

	// ErrRange is returned by Add when a value has any of bits 60-63 set.
	ErrRange = errors.New("disktree: value outside low 60 bits")

	// ErrUTF8 is returned if a key read back from the staging store during
	// Build is not valid UTF-8. This indicates the staging store holds
	// something other than what Add wrote to it.
	ErrUTF8 = errors.New("disktree: staged key is not valid UTF-8")

	// ErrShortSource is returned by Open when the source is too small to
	// contain a trailer.
	ErrShortSource = errors.New("disktree: source too small to contain a trailer")
)
