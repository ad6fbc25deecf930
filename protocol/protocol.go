// Package protocol implements the NadaMQ packet protocol: the CRC-16 engine,
// the Packet entity, the frame codec and the streaming parser.
//
// The package does no I/O and no logging so it can be shared between host
// tools and TinyGo peers.
package protocol

// Version represents the protocol implementation version
const Version = "0.14.0"

// Frame layout constants
const (
	SyncByte   = '|'
	SyncLength = 3 // Sync marker is three SyncByte bytes

	IdentifierSize = 2
	TypeSize       = 1
	LengthSize     = 2
	ChecksumSize   = 2

	// HeaderSize covers identifier, type and length (everything between the
	// sync marker and the payload)
	HeaderSize = IdentifierSize + TypeSize + LengthSize

	// FrameOverhead is the size of a frame carrying an empty payload
	FrameOverhead = SyncLength + HeaderSize + ChecksumSize

	// MaxPayload is the largest payload the 16-bit length field can declare
	MaxPayload = 0xFFFF

	// LinkMaxPayload is the payload limit host links apply by default.
	// Serial peers buffer far less than MaxPayload, and a header misread
	// after line noise then fails at once instead of holding the parser
	// for up to 64 KiB.
	LinkMaxPayload = 1024
)

// SyncMarker is the fixed frame start marker
var SyncMarker = [SyncLength]byte{SyncByte, SyncByte, SyncByte}

// FrameSize returns the encoded size of a frame carrying payloadLen bytes
func FrameSize(payloadLen int) int {
	return FrameOverhead + payloadLen
}
