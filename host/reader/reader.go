// Package reader provides a blocking read of one packet from a polled byte
// source.
//
// Each call starts a background worker that owns its own parser. The worker
// polls the source, feeds the parser and hands exactly one packet or one
// error back over a channel. When the caller gives up, the worker is told
// to stop and exits at its next poll; a source call already in flight is
// not interrupted.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Vigne-hub/nadamq/host/logging"
	"github.com/Vigne-hub/nadamq/protocol"
)

var (
	ErrTimeout  = errors.New("reader: timed out waiting for packet")
	ErrUpstream = errors.New("reader: byte source failed")
)

var log = logging.For("reader")

// DefaultPollInterval is the wait between source calls that returned no data
const DefaultPollInterval = time.Millisecond

// ByteSource returns the bytes currently available. An empty result means
// no data yet; an error ends the read. It is called repeatedly from a single
// worker goroutine.
type ByteSource func() ([]byte, error)

// Option configures a read
type Option func(*options)

type options struct {
	poll       time.Duration
	parserOpts []protocol.ParserOption
}

// WithPollInterval sets the wait between idle source calls
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithParserOptions configures the parser the worker creates. The parser
// accepts payloads up to protocol.LinkMaxPayload unless told otherwise.
func WithParserOptions(opts ...protocol.ParserOption) Option {
	return func(o *options) {
		o.parserOpts = append(o.parserOpts, opts...)
	}
}

// outcome is the single message a worker sends back
type outcome struct {
	packet *protocol.Packet
	err    error
}

// ReadPacket blocks until src yields one complete packet, src fails, or
// timeout elapses. A timeout <= 0 waits indefinitely.
//
// Source failures are returned wrapping both ErrUpstream and the original
// error. Corrupt frames are dropped and reading continues.
func ReadPacket(src ByteSource, timeout time.Duration, opts ...Option) (*protocol.Packet, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return ReadPacketContext(ctx, src, opts...)
}

// ReadPacketContext is ReadPacket bounded by ctx. An expired deadline
// returns ErrTimeout; cancellation returns ctx.Err().
func ReadPacketContext(ctx context.Context, src ByteSource, opts ...Option) (*protocol.Packet, error) {
	o := options{
		poll:       DefaultPollInterval,
		parserOpts: []protocol.ParserOption{protocol.WithMaxPayload(protocol.LinkMaxPayload)},
	}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	stop := make(chan struct{})
	result := make(chan outcome, 1)

	go pump(src, o, stop, result)

	select {
	case out := <-result:
		return out.packet, out.err

	case <-ctx.Done():
		close(stop)

		// Prefer a result that raced with the deadline
		select {
		case out := <-result:
			return out.packet, out.err
		default:
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w (after %.3fs)", ErrTimeout, time.Since(start).Seconds())
		}
		return nil, ctx.Err()
	}
}

// pump is the worker loop. result is buffered so the final send never
// blocks after the caller has returned.
func pump(src ByteSource, o options, stop <-chan struct{}, result chan<- outcome) {
	var out outcome
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("%w: panic: %v", ErrUpstream, r)}
		}
		if out.packet != nil || out.err != nil {
			result <- out
		}
	}()

	parser := protocol.NewParser(o.parserOpts...)
	timer := time.NewTimer(o.poll)
	defer timer.Stop()

	for {
		data, err := src()
		if err != nil {
			out.err = fmt.Errorf("%w: %w", ErrUpstream, err)
			return
		}

		if pkt := feed(parser, data); pkt != nil {
			out.packet = pkt
			return
		}

		if len(data) > 0 {
			select {
			case <-stop:
				return
			default:
			}
			continue
		}

		timer.Reset(o.poll)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// feed runs data through the parser and returns the first complete packet.
// Bytes after that packet are discarded.
func feed(parser *protocol.Parser, data []byte) *protocol.Packet {
	for {
		res, n := parser.Feed(data)
		data = data[n:]

		switch res.Status {
		case protocol.Incomplete:
			return nil
		case protocol.Complete:
			if res.Packet.Borrowed() {
				return res.Packet.Clone()
			}
			return res.Packet
		case protocol.Failed:
			log.Debug("dropped frame: %v", res.Err)
		}
	}
}

// FromReader adapts r into a ByteSource reading up to chunk bytes per call.
// io.EOF is treated as an idle line, which is how serial ports opened with
// a read timeout report an empty read. The returned slice is only valid
// until the next call.
func FromReader(r io.Reader, chunk int) ByteSource {
	if chunk <= 0 {
		chunk = 256
	}
	buf := make([]byte, chunk)
	return func() ([]byte, error) {
		n, err := r.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, nil
	}
}
