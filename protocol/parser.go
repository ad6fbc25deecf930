package protocol

import (
	"encoding/binary"
	"fmt"
)

// State is a position of the streaming parser automaton
type State uint8

const (
	SeekingSync State = iota
	ReadingIdentifier
	ReadingType
	ReadingLength
	ReadingPayload
	ReadingChecksum
)

func (s State) String() string {
	switch s {
	case SeekingSync:
		return "SEEKING_SYNC"
	case ReadingIdentifier:
		return "READING_IDENTIFIER"
	case ReadingType:
		return "READING_TYPE"
	case ReadingLength:
		return "READING_LENGTH"
	case ReadingPayload:
		return "READING_PAYLOAD"
	case ReadingChecksum:
		return "READING_CHECKSUM"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Status is the outcome of a Feed call
type Status uint8

const (
	Incomplete Status = iota
	Complete
	Failed
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Result is returned by Feed. Packet is set for Complete, Err for Failed.
// A frame that failed after being read to the end (checksum mismatch or
// NACK) also carries the rejected Packet so callers can match its
// identifier to a request; its payload must not be trusted.
type Result struct {
	Status Status
	Packet *Packet
	Err    error
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithMaxPayload bounds the accepted length field. Longer declarations fail
// with ErrPayloadTooLarge.
func WithMaxPayload(n int) ParserOption {
	return func(p *Parser) {
		p.maxPayload = max(0, min(n, MaxPayload))
	}
}

// WithReceiveBuffer makes the parser accumulate payloads into buf instead of
// allocating per packet. Emitted packets borrow buf and are only valid until
// the next Feed; Clone them to keep them longer.
func WithReceiveBuffer(buf []byte) ParserOption {
	return func(p *Parser) {
		p.rxBuf = buf
	}
}

// Parser reconstructs packets from a byte stream delivered in arbitrary
// chunks. Each byte advances the automaton by exactly one transition, so
// feeding can stop and resume at any point.
//
// After a packet completes or a frame fails, the parser returns to
// SeekingSync and is ready for the next frame. The bytes of a failed frame
// that follow its first sync byte are scanned again, so a stray sync byte in
// front of a frame costs one failure rather than the frames behind it. A
// Parser is not safe for concurrent use.
type Parser struct {
	state State
	count int // bytes consumed in the current state

	id       uint16
	typ      Type
	length   int
	payload  []byte
	crc      uint16 // running CRC over payload bytes
	frameCRC uint16

	maxPayload int
	rxBuf      []byte

	// bytes of a rejected frame waiting to be scanned again
	replay    []byte
	replayPos int
}

// NewParser creates a parser in SeekingSync
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{maxPayload: MaxPayload}
	for _, opt := range opts {
		opt(p)
	}
	if p.rxBuf != nil && p.maxPayload > len(p.rxBuf) {
		p.maxPayload = len(p.rxBuf)
	}
	p.Reset()
	return p
}

// State returns the current automaton state
func (p *Parser) State() State {
	return p.state
}

// MaxPayload returns the largest accepted payload length
func (p *Parser) MaxPayload() int {
	return p.maxPayload
}

// Reset discards any partial frame and returns to SeekingSync
func (p *Parser) Reset() {
	p.resetFrame()
	p.replay, p.replayPos = p.replay[:0], 0
}

// Buffered returns the number of bytes of rejected frames still waiting to
// be scanned again by the next Feed
func (p *Parser) Buffered() int {
	return len(p.replay) - p.replayPos
}

func (p *Parser) resetFrame() {
	p.state = SeekingSync
	p.count = 0
	p.id = 0
	p.typ = TypeNone
	p.length = 0
	p.payload = nil
	p.crc = CRC16Init
	p.frameCRC = 0
}

// Feed advances the parser over data. It stops at the first completed
// packet or failed frame and returns the result along with the number of
// bytes of data consumed; the caller feeds data[n:] to continue. Buffered
// bytes are scanned before data, so a result may consume none of it. The
// status is Incomplete only once the buffered bytes and all of data are
// consumed without a terminal event, which makes it the loop exit:
//
//	for {
//		res, n := p.Feed(data)
//		data = data[n:]
//		if res.Status == Incomplete {
//			break
//		}
//		...
//	}
func (p *Parser) Feed(data []byte) (Result, int) {
	for p.replayPos < len(p.replay) {
		b := p.replay[p.replayPos]
		p.replayPos++
		if res, done := p.step(b); done {
			return res, 0
		}
	}
	p.replay, p.replayPos = p.replay[:0], 0

	for i, b := range data {
		if res, done := p.step(b); done {
			return res, i + 1
		}
	}
	return Result{Status: Incomplete}, len(data)
}

// ParseAll feeds all of data and collects every completed packet and every
// frame failure, in stream order within each slice. Packets are cloned when
// the parser borrows a receive buffer.
func (p *Parser) ParseAll(data []byte) ([]*Packet, []error) {
	var packets []*Packet
	var errs []error
	for {
		res, n := p.Feed(data)
		data = data[n:]
		switch res.Status {
		case Incomplete:
			return packets, errs
		case Complete:
			pkt := res.Packet
			if pkt.Borrowed() {
				pkt = pkt.Clone()
			}
			packets = append(packets, pkt)
		case Failed:
			errs = append(errs, res.Err)
		}
	}
}

func (p *Parser) enter(s State) {
	p.state = s
	p.count = 0
}

func (p *Parser) step(b byte) (Result, bool) {
	switch p.state {
	case SeekingSync:
		if b != SyncByte {
			p.count = 0
			break
		}
		p.count++
		if p.count == SyncLength {
			p.enter(ReadingIdentifier)
		}

	case ReadingIdentifier:
		p.id = p.id<<8 | uint16(b)
		p.count++
		if p.count == IdentifierSize {
			p.enter(ReadingType)
		}

	case ReadingType:
		p.typ = Type(b)
		p.enter(ReadingLength)

	case ReadingLength:
		p.length = p.length<<8 | int(b)
		p.count++
		if p.count < LengthSize {
			break
		}
		if p.length > p.maxPayload {
			err := tooLargeError(p.length, p.maxPayload)
			p.rescan(false)
			p.resetFrame()
			return Result{Status: Failed, Err: err}, true
		}
		p.payload = p.storage(p.length)
		if p.length == 0 {
			p.enter(ReadingChecksum)
			break
		}
		p.enter(ReadingPayload)

	case ReadingPayload:
		p.payload[p.count] = b
		p.crc = CRC16Update(p.crc, b)
		p.count++
		if p.count == p.length {
			p.enter(ReadingChecksum)
		}

	case ReadingChecksum:
		p.frameCRC = p.frameCRC<<8 | uint16(b)
		p.count++
		if p.count == ChecksumSize {
			return p.finish(), true
		}
	}
	return Result{}, false
}

// storage returns the slice the payload is accumulated into. It is never
// nil, so received packets always have a buffer even when empty.
func (p *Parser) storage(n int) []byte {
	if p.rxBuf != nil {
		return p.rxBuf
	}
	return make([]byte, n)
}

// rescan queues the rejected frame, minus its first sync byte, ahead of any
// bytes still waiting to be scanned
func (p *Parser) rescan(complete bool) {
	pending := p.replay[p.replayPos:]

	n := SyncLength - 1 + HeaderSize + len(pending)
	if complete {
		n += p.length + ChecksumSize
	}
	buf := make([]byte, 0, n)
	buf = append(buf, SyncMarker[1:]...)
	buf = binary.BigEndian.AppendUint16(buf, p.id)
	buf = append(buf, byte(p.typ))
	buf = binary.BigEndian.AppendUint16(buf, uint16(p.length))
	if complete {
		buf = append(buf, p.payload[:p.length]...)
		buf = binary.BigEndian.AppendUint16(buf, p.frameCRC)
	}
	buf = append(buf, pending...)

	p.replay, p.replayPos = buf, 0
}

func (p *Parser) finish() Result {
	pkt := &Packet{
		id:       p.id,
		typ:      p.typ,
		buf:      p.payload,
		length:   p.length,
		borrowed: p.rxBuf != nil,
		crc:      p.frameCRC,
		received: true,
	}
	computed := p.crc
	if pkt.crc != computed {
		p.rescan(true)
	}
	p.resetFrame()

	if pkt.crc != computed {
		return Result{Status: Failed, Packet: pkt, Err: checksumError(pkt.crc, computed)}
	}
	if pkt.typ == TypeNack {
		return Result{Status: Failed, Packet: pkt, Err: fmt.Errorf("%w: id=%d", ErrNackFrame, pkt.id)}
	}
	return Result{Status: Complete, Packet: pkt}
}
