package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// HandlerFunc handles one received packet on the peer side.
// A non-nil reply is framed and written back. Returning an error answers
// the request with a NACK.
type HandlerFunc func(p *Packet) (reply *Packet, err error)

// Identity is the ID_RESPONSE payload
type Identity struct {
	ID string `json:"id"`
}

// rxFifoSize is the receive FIFO size used by Write
const rxFifoSize = 256

// HandlerStats counts handler activity
type HandlerStats struct {
	Received int // complete packets dispatched
	Failed   int // frames rejected by the parser
	Replied  int // frames written to the output
	Dropped  int // replies that could not be framed
}

// Handler is the peer side of the protocol. It consumes stream bytes,
// answers ID_REQUEST with the peer identity, acknowledges DATA and
// STREAM packets and reports checksum failures with a NACK.
type Handler struct {
	parser        *Parser
	rx            *FifoBuffer
	output        OutputBuffer
	handler       HandlerFunc
	identity      []byte
	flushCallback func()
	frame         []byte
	stats         HandlerStats
}

// NewHandler creates a peer handler reporting name in ID_RESPONSE packets.
// handler may be nil.
func NewHandler(output OutputBuffer, name string, handler HandlerFunc, opts ...ParserOption) (*Handler, error) {
	identity, err := json.Marshal(Identity{ID: name})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity: %w", err)
	}
	return &Handler{
		parser:   NewParser(opts...),
		rx:       NewFifoBuffer(rxFifoSize),
		output:   output,
		handler:  handler,
		identity: identity,
	}, nil
}

// SetFlushCallback sets a callback run after each reply is written
func (h *Handler) SetFlushCallback(callback func()) {
	h.flushCallback = callback
}

// Stats returns the handler counters
func (h *Handler) Stats() HandlerStats {
	return h.stats
}

// Write queues stream bytes in the receive FIFO and processes them, the way
// a serial receive interrupt fills the FIFO the main loop drains. It
// implements io.Writer and never fails.
func (h *Handler) Write(data []byte) (int, error) {
	total := 0
	for len(data) > 0 {
		n := h.rx.Write(data)
		data = data[n:]
		total += n
		h.Receive(h.rx)
	}
	return total, nil
}

// Receive processes all bytes available in input.
// Partial frames stay in the parser until the next call.
func (h *Handler) Receive(input InputBuffer) {
	data := input.Data()
	consumed := len(data)

	for {
		res, n := h.parser.Feed(data)
		data = data[n:]

		switch res.Status {
		case Incomplete:
			input.Pop(consumed)
			return
		case Complete:
			h.stats.Received++
			h.dispatch(res.Packet)
		case Failed:
			h.stats.Failed++
			if errors.Is(res.Err, ErrChecksum) && res.Packet != nil {
				h.reply(NewPacket(res.Packet.ID(), TypeNack, nil))
			}
		}
	}
}

func (h *Handler) dispatch(p *Packet) {
	if p.Type() == TypeIDRequest {
		h.reply(NewPacket(p.ID(), TypeIDResponse, h.identity))
		return
	}

	reply, err := h.call(p)
	switch {
	case err != nil:
		reply = NewPacket(p.ID(), TypeNack, nil)
	case reply == nil && (p.Type() == TypeData || p.Type() == TypeStream):
		reply = NewPacket(p.ID(), TypeAck, nil)
	}
	if reply != nil {
		h.reply(reply)
	}
}

// call runs the user handler, turning a panic into an error so one bad
// packet cannot take the peer down
func (h *Handler) call(p *Packet) (reply *Packet, err error) {
	if h.handler == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			reply, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	// Payloads may borrow the parser receive buffer
	if p.Borrowed() {
		p = p.Clone()
	}
	return h.handler(p)
}

func (h *Handler) reply(p *Packet) {
	frame, err := AppendFrame(h.frame[:0], p)
	if err != nil {
		h.stats.Dropped++
		return
	}
	h.frame = frame
	h.output.Output(frame)
	h.stats.Replied++

	if h.flushCallback != nil {
		h.flushCallback()
	}
}
