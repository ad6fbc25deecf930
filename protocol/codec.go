package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encode serializes a packet into a complete frame
func Encode(p *Packet) ([]byte, error) {
	return AppendFrame(make([]byte, 0, FrameSize(p.Len())), p)
}

// AppendFrame appends the frame for p to dst and returns the extended slice.
// The checksum is always recomputed from the current payload.
func AppendFrame(dst []byte, p *Packet) ([]byte, error) {
	payload := p.payload()
	if len(payload) > MaxPayload {
		return dst, tooLargeError(len(payload), MaxPayload)
	}

	dst = append(dst, SyncMarker[:]...)
	dst = binary.BigEndian.AppendUint16(dst, p.id)
	dst = append(dst, byte(p.typ))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	dst = append(dst, payload...)
	dst = binary.BigEndian.AppendUint16(dst, CRC16(payload))
	return dst, nil
}

// Decode parses exactly one frame starting at frame[0].
//
// A short input returns ErrTruncated, which callers reading from a stream
// can treat as "wait for more bytes". Every other structural failure and
// ErrChecksum mean the frame is corrupt.
func Decode(frame []byte) (*Packet, error) {
	n := min(len(frame), SyncLength)
	if !bytes.Equal(frame[:n], SyncMarker[:n]) {
		return nil, ErrBadSync
	}
	if n < SyncLength {
		return nil, ErrTruncated
	}

	parser := NewParser()
	res, consumed := parser.Feed(frame)
	switch res.Status {
	case Incomplete:
		return nil, fmt.Errorf("%w: have %d bytes, stopped in %s", ErrTruncated, len(frame), parser.State())
	case Failed:
		return nil, res.Err
	}
	if consumed != len(frame) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(frame)-consumed)
	}
	return res.Packet, nil
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p *Packet) MarshalBinary() ([]byte, error) {
	return Encode(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *Packet) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}
