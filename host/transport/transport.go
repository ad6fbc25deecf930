// Package transport runs the host side of a NadaMQ link: it writes frames
// to a port and parses the reply stream in a background read loop,
// matching responses to requests by packet identifier.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Vigne-hub/nadamq/host/logging"
	"github.com/Vigne-hub/nadamq/protocol"
)

var (
	ErrClosed  = errors.New("transport: closed")
	ErrTimeout = errors.New("transport: response timeout")
	ErrNacked  = errors.New("transport: request rejected by peer (NACK)")
)

var log = logging.For("transport")

// DefaultTimeout is used by Request when no timeout is given
const DefaultTimeout = 2 * time.Second

// PacketHandler is called from the read loop for every packet that does not
// answer a pending request
type PacketHandler func(p *protocol.Packet)

// Stats counts read loop activity
type Stats struct {
	Sent     uint64
	Received uint64
	Failed   uint64 // frames dropped by the parser
	Dropped  uint64 // unsolicited packets dropped because the queue was full
}

type reply struct {
	packet *protocol.Packet
	err    error
}

// Option configures a Transport
type Option func(*Transport)

// WithParserOptions configures the read loop parser. The parser accepts
// payloads up to protocol.LinkMaxPayload unless told otherwise.
func WithParserOptions(opts ...protocol.ParserOption) Option {
	return func(t *Transport) {
		t.parserOpts = append(t.parserOpts, opts...)
	}
}

// WithQueueSize sets how many unsolicited packets are buffered for Receive
func WithQueueSize(n int) Option {
	return func(t *Transport) {
		t.queueSize = max(1, n)
	}
}

// Transport is the host end of a link to one peer
type Transport struct {
	port       io.ReadWriteCloser
	parser     *protocol.Parser
	parserOpts []protocol.ParserOption
	queueSize  int

	nextID atomic.Uint32

	writeMutex sync.Mutex

	pendingMutex sync.Mutex
	pending      map[uint16]chan reply

	incoming chan *protocol.Packet
	handler  atomic.Pointer[PacketHandler]

	sent, received, failed, dropped atomic.Uint64

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
}

// New creates a transport on port and starts its read loop
func New(port io.ReadWriteCloser, opts ...Option) *Transport {
	t := &Transport{
		port:       port,
		queueSize:  16,
		parserOpts: []protocol.ParserOption{protocol.WithMaxPayload(protocol.LinkMaxPayload)},
		pending:    make(map[uint16]chan reply),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.parser = protocol.NewParser(t.parserOpts...)
	t.incoming = make(chan *protocol.Packet, t.queueSize)

	go t.readLoop()

	return t
}

// NextID returns a fresh request identifier. Zero is never returned so it
// stays free for unsolicited traffic.
func (t *Transport) NextID() uint16 {
	for {
		if id := uint16(t.nextID.Add(1)); id != 0 {
			return id
		}
	}
}

// Send frames and writes one packet
func (t *Transport) Send(p *protocol.Packet) error {
	if t.closed() {
		return ErrClosed
	}

	frame, err := protocol.Encode(p)
	if err != nil {
		return fmt.Errorf("failed to encode packet: %w", err)
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	n, err := t.port.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))
	}

	t.sent.Add(1)
	return nil
}

// Request sends p and waits for the packet answering it, i.e. the next
// packet carrying the same identifier. A packet with identifier 0 is given
// one from NextID. A NACK answer returns ErrNacked.
func (t *Transport) Request(p *protocol.Packet, timeout time.Duration) (*protocol.Packet, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if p.ID() == 0 {
		p.SetID(t.NextID())
	}
	id := p.ID()

	// Register before sending, the answer can arrive before Send returns
	ch := make(chan reply, 1)
	t.pendingMutex.Lock()
	if _, busy := t.pending[id]; busy {
		t.pendingMutex.Unlock()
		return nil, fmt.Errorf("request %d already pending", id)
	}
	t.pending[id] = ch
	t.pendingMutex.Unlock()

	defer func() {
		t.pendingMutex.Lock()
		delete(t.pending, id)
		t.pendingMutex.Unlock()
	}()

	if err := t.Send(p); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.packet, r.err

	case <-time.After(timeout):
		return nil, fmt.Errorf("%w: %s id=%d after %v", ErrTimeout, p.Type(), id, timeout)

	case <-t.stopChan:
		return nil, ErrClosed
	}
}

// Receive returns the next unsolicited packet
func (t *Transport) Receive(timeout time.Duration) (*protocol.Packet, error) {
	select {
	case p := <-t.incoming:
		return p, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)

	case <-t.stopChan:
		return nil, ErrClosed
	}
}

// SetPacketHandler sets a callback for unsolicited packets. Packets passed
// to the handler are still queued for Receive.
func (t *Transport) SetPacketHandler(handler PacketHandler) {
	if handler == nil {
		t.handler.Store(nil)
		return
	}
	t.handler.Store(&handler)
}

// Stats returns the transport counters
func (t *Transport) Stats() Stats {
	return Stats{
		Sent:     t.sent.Load(),
		Received: t.received.Load(),
		Failed:   t.failed.Load(),
		Dropped:  t.dropped.Load(),
	}
}

// readLoop continuously reads from the port and parses packets
func (t *Transport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.process(buffer[:n])
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) || t.closed() {
			return
		}
		// io.EOF is an idle serial line with a read timeout
		if !errors.Is(err, io.EOF) {
			log.Warn("read failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// process parses a chunk of the stream. The parser is only touched by the
// read loop.
func (t *Transport) process(data []byte) {
	for {
		res, n := t.parser.Feed(data)
		data = data[n:]

		switch res.Status {
		case protocol.Incomplete:
			return
		case protocol.Complete:
			t.received.Add(1)
			pkt := res.Packet
			if pkt.Borrowed() {
				pkt = pkt.Clone()
			}
			t.dispatch(pkt)

		case protocol.Failed:
			if errors.Is(res.Err, protocol.ErrNackFrame) && t.resolve(res.Packet.ID(), reply{err: fmt.Errorf("%w: id=%d", ErrNacked, res.Packet.ID())}) {
				t.received.Add(1)
				continue
			}
			t.failed.Add(1)
			log.Debug("dropped frame: %v", res.Err)
		}
	}
}

// resolve hands r to the request waiting on id
func (t *Transport) resolve(id uint16, r reply) bool {
	t.pendingMutex.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.pendingMutex.Unlock()

	if ok {
		ch <- r
	}
	return ok
}

// dispatch routes a packet to its request or the unsolicited queue
func (t *Transport) dispatch(p *protocol.Packet) {
	if t.resolve(p.ID(), reply{packet: p}) {
		return
	}

	if h := t.handler.Load(); h != nil {
		(*h)(p)
	}

	select {
	case t.incoming <- p:
	default:
		// Queue full, drop oldest
		select {
		case <-t.incoming:
			t.dropped.Add(1)
		default:
		}
		t.incoming <- p
	}
}

// Reset drops queued unsolicited packets (useful after errors)
func (t *Transport) Reset() {
	for len(t.incoming) > 0 {
		<-t.incoming
	}
}

// Close stops the read loop and closes the port
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		// Closing the port unblocks a read in progress
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

func (t *Transport) closed() bool {
	select {
	case <-t.stopChan:
		return true
	default:
		return false
	}
}
