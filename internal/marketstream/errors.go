package marketstream

import "errors"

var (
	// ErrResyncRequired means no snapshot arrived before the pending buffer
	// filled. The stream has been reset and must be resubscribed.
	ErrResyncRequired = errors.New("resync required: no snapshot within pending capacity")
	// ErrNonceOrder means a delta older than the book reached the apply step.
	ErrNonceOrder = errors.New("delta nonce precedes book nonce")
	// ErrBookInvalid means an update left the book violating its invariants.
	ErrBookInvalid = errors.New("order book invariant violated")
)

// IsFatal reports whether err requires the stream to be resynchronised.
func IsFatal(err error) bool {
	return errors.Is(err, ErrResyncRequired) || errors.Is(err, ErrNonceOrder) || errors.Is(err, ErrBookInvalid)
}
