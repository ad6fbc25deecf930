package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrStructural marks frames that are not well formed. Every structural
	// failure below wraps it.
	ErrStructural = errors.New("protocol: malformed frame")

	ErrBadSync         = fmt.Errorf("%w: bad sync marker", ErrStructural)
	ErrTruncated       = fmt.Errorf("%w: truncated frame", ErrStructural)
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrStructural)
	ErrTrailingData    = fmt.Errorf("%w: trailing bytes after frame", ErrStructural)

	// ErrNackFrame is returned for a well-formed NACK frame. Peers have
	// always rejected these at parse time, so the behavior is kept for
	// compatibility. It is not applied to any other type.
	ErrNackFrame = fmt.Errorf("%w: nack frame", ErrStructural)

	// ErrChecksum is returned when a well-formed frame fails CRC verification
	ErrChecksum = errors.New("protocol: checksum mismatch")

	// ErrNoBuffer is returned when reading the payload of a packet that has
	// no storage set or allocated
	ErrNoBuffer = errors.New("protocol: no buffer has been set/allocated")
)

func checksumError(got, want uint16) error {
	return fmt.Errorf("%w: frame 0x%04X, computed 0x%04X", ErrChecksum, got, want)
}

func tooLargeError(length, limit int) error {
	return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, limit)
}
