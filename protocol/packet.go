package protocol

import "fmt"

// Type is the packet type code carried in the frame header.
// The well-known codes are listed below; peers may define others, which
// are carried through unchanged.
type Type uint8

const (
	TypeNone       Type = 0
	TypeAck        Type = 'a'
	TypeNack       Type = 'n'
	TypeData       Type = 'd'
	TypeStream     Type = 's'
	TypeIDRequest  Type = 'i'
	TypeIDResponse Type = 'I'
)

var typeNames = map[Type]string{
	TypeNone:       "NONE",
	TypeAck:        "ACK",
	TypeNack:       "NACK",
	TypeData:       "DATA",
	TypeStream:     "STREAM",
	TypeIDRequest:  "ID_REQUEST",
	TypeIDResponse: "ID_RESPONSE",
}

// Known reports whether t is one of the well-known type codes
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", uint8(t))
}

// Packet is one NadaMQ message.
//
// Payload storage has a capacity and an occupied length, tracked
// separately. A packet either owns its storage (allocated by the
// constructors or the parser) or borrows a caller buffer (WrapPacket).
// The zero value is the default packet: identifier 0, TypeNone, no buffer.
type Packet struct {
	id  uint16
	typ Type

	buf      []byte // len(buf) is the capacity; nil means no buffer
	length   int
	borrowed bool

	crc      uint16 // verified wire value, only meaningful when received
	received bool
}

// NewPacket creates a packet owning a copy of payload.
// A nil payload leaves the packet without a buffer.
func NewPacket(id uint16, typ Type, payload []byte) *Packet {
	p := &Packet{id: id, typ: typ}
	if payload != nil {
		p.buf = make([]byte, len(payload))
		p.length = copy(p.buf, payload)
	}
	return p
}

// NewPacketWithCapacity creates a packet with capacity bytes of storage and
// copies payload into it. A zero capacity with a nil payload leaves the
// packet without a buffer, like NewPacket(id, typ, nil).
func NewPacketWithCapacity(id uint16, typ Type, payload []byte, capacity int) (*Packet, error) {
	if capacity < len(payload) {
		return nil, tooLargeError(len(payload), capacity)
	}
	p := &Packet{id: id, typ: typ}
	if capacity > 0 || payload != nil {
		p.buf = make([]byte, capacity)
		p.length = copy(p.buf, payload)
	}
	return p, nil
}

// WrapPacket creates a packet that borrows buf as its storage without
// copying. The first n bytes of buf are the payload. The caller must keep
// buf unchanged for as long as the packet is in use.
func WrapPacket(id uint16, typ Type, buf []byte, n int) (*Packet, error) {
	if n < 0 || n > len(buf) {
		return nil, tooLargeError(n, len(buf))
	}
	return &Packet{id: id, typ: typ, buf: buf, length: n, borrowed: true}, nil
}

// ID returns the packet identifier
func (p *Packet) ID() uint16 {
	return p.id
}

// SetID sets the packet identifier
func (p *Packet) SetID(id uint16) {
	p.id = id
}

// Type returns the packet type code
func (p *Packet) Type() Type {
	return p.typ
}

// SetType sets the packet type code
func (p *Packet) SetType(typ Type) {
	p.typ = typ
}

// Capacity returns the payload storage size
func (p *Packet) Capacity() int {
	return len(p.buf)
}

// Len returns the number of payload bytes set
func (p *Packet) Len() int {
	return p.length
}

// HasBuffer reports whether storage has been set or allocated
func (p *Packet) HasBuffer() bool {
	return p.buf != nil
}

// Borrowed reports whether the payload storage belongs to the caller
func (p *Packet) Borrowed() bool {
	return p.borrowed
}

// Payload returns the occupied part of the payload storage.
// It returns ErrNoBuffer if the packet has no storage at all.
func (p *Packet) Payload() ([]byte, error) {
	if p.buf == nil {
		return nil, ErrNoBuffer
	}
	return p.buf[:p.length], nil
}

// SetPayload writes data into the packet storage, allocating storage of
// len(data) bytes when there is none
func (p *Packet) SetPayload(data []byte) error {
	if p.buf == nil {
		p.buf = make([]byte, len(data))
		p.borrowed = false
	}
	if len(data) > len(p.buf) {
		return tooLargeError(len(data), len(p.buf))
	}
	p.length = copy(p.buf, data)
	p.received = false
	return nil
}

// CRC returns the packet checksum. Received packets report the verified
// wire value; outgoing packets compute it from the current payload.
func (p *Packet) CRC() uint16 {
	if p.received {
		return p.crc
	}
	return CRC16(p.payload())
}

// Received reports whether the packet was produced by the parser
func (p *Packet) Received() bool {
	return p.received
}

// Clone returns a deep copy that owns its storage
func (p *Packet) Clone() *Packet {
	c := *p
	if p.buf != nil {
		c.buf = make([]byte, len(p.buf))
		copy(c.buf, p.buf)
	}
	c.borrowed = false
	return &c
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{id=%d type=%s len=%d cap=%d crc=0x%04X}",
		p.id, p.typ, p.length, len(p.buf), p.CRC())
}

// payload returns the occupied bytes, treating no buffer as empty
func (p *Packet) payload() []byte {
	if p.buf == nil {
		return nil
	}
	return p.buf[:p.length]
}
