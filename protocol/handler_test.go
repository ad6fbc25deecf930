package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func newTestHandler(t *testing.T, fn HandlerFunc) (*Handler, *ScratchOutput) {
	t.Helper()
	out := NewScratchOutput(1024)
	h, err := NewHandler(out, "my device name", fn)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return h, out
}

func replies(t *testing.T, out *ScratchOutput) []*Packet {
	t.Helper()
	packets, errs := NewParser().ParseAll(out.Result())
	for _, err := range errs {
		if !errors.Is(err, ErrNackFrame) {
			t.Fatalf("Unexpected reply parse error: %v", err)
		}
	}
	return packets
}

func TestHandlerIdentify(t *testing.T) {
	h, out := newTestHandler(t, nil)

	h.Receive(NewSliceInputBuffer(mustEncode(t, NewPacket(1234, TypeIDRequest, nil))))

	got := replies(t, out)
	if len(got) != 1 || got[0].Type() != TypeIDResponse || got[0].ID() != 1234 {
		t.Fatalf("Expected one ID_RESPONSE for id 1234, got %v", got)
	}

	payload, _ := got[0].Payload()
	var identity Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		t.Fatalf("Identity is not JSON: %v", err)
	}
	if identity.ID != "my device name" {
		t.Errorf("Expected identity 'my device name', got %q", identity.ID)
	}
}

func TestHandlerAcksData(t *testing.T) {
	var seen []string
	h, out := newTestHandler(t, func(p *Packet) (*Packet, error) {
		payload, _ := p.Payload()
		seen = append(seen, string(payload))
		return nil, nil
	})

	// Deliver a frame split across two Receive calls
	frame := mustEncode(t, NewPacket(77, TypeData, []byte("hello")))
	h.Receive(NewSliceInputBuffer(frame[:6]))
	h.Receive(NewSliceInputBuffer(frame[6:]))

	if len(seen) != 1 || seen[0] != "hello" {
		t.Errorf("Handler saw %v, expected [hello]", seen)
	}
	got := replies(t, out)
	if len(got) != 1 || got[0].Type() != TypeAck || got[0].ID() != 77 {
		t.Errorf("Expected ACK for id 77, got %v", got)
	}
}

func TestHandlerReplyAndErrors(t *testing.T) {
	h, out := newTestHandler(t, func(p *Packet) (*Packet, error) {
		payload, _ := p.Payload()
		switch string(payload) {
		case "echo":
			return NewPacket(p.ID(), TypeData, payload), nil
		case "fail":
			return nil, errors.New("rejected")
		default:
			panic("boom")
		}
	})

	var stream []byte
	stream = append(stream, mustEncode(t, NewPacket(1, TypeData, []byte("echo")))...)
	stream = append(stream, mustEncode(t, NewPacket(2, TypeData, []byte("fail")))...)
	stream = append(stream, mustEncode(t, NewPacket(3, TypeData, []byte("boom")))...)

	corrupt := mustEncode(t, NewPacket(4, TypeData, []byte("corrupt")))
	corrupt[FrameOverhead-ChecksumSize] ^= 0x01
	stream = append(stream, corrupt...)

	h.Receive(NewSliceInputBuffer(stream))

	// NACK replies fail to parse as packets, so only the echo comes back
	got := replies(t, out)
	if len(got) != 1 || got[0].ID() != 1 || got[0].Type() != TypeData {
		t.Fatalf("Expected only the echo reply, got %v", got)
	}

	var nacks []uint16
	parser := NewParser()
	data := out.Result()
	for len(data) > 0 {
		res, n := parser.Feed(data)
		data = data[n:]
		if res.Status == Failed && errors.Is(res.Err, ErrNackFrame) {
			nacks = append(nacks, res.Packet.ID())
		}
	}
	if len(nacks) != 3 || nacks[0] != 2 || nacks[1] != 3 || nacks[2] != 4 {
		t.Errorf("Expected NACKs for ids [2 3 4], got %v", nacks)
	}

	stats := h.Stats()
	if stats.Received != 3 || stats.Failed != 1 || stats.Replied != 4 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHandlerFifoInput(t *testing.T) {
	h, out := newTestHandler(t, nil)
	flushed := 0
	h.SetFlushCallback(func() { flushed++ })

	fifo := NewFifoBuffer(64)
	fifo.Write(mustEncode(t, NewPacket(9, TypeStream, []byte("chunk"))))
	h.Receive(fifo)

	if !fifo.IsEmpty() {
		t.Errorf("Expected input to be consumed, %d bytes left", fifo.Available())
	}
	if flushed != 1 {
		t.Errorf("Expected 1 flush, got %d", flushed)
	}
	if got := replies(t, out); len(got) != 1 || got[0].Type() != TypeAck {
		t.Errorf("Expected ACK for STREAM packet, got %v", got)
	}
}

func TestHandlerWriteThroughFifo(t *testing.T) {
	var ids []uint16
	h, out := newTestHandler(t, func(p *Packet) (*Packet, error) {
		ids = append(ids, p.ID())
		return nil, nil
	})

	// More than one FIFO worth of frames, written in uneven chunks
	var stream []byte
	for i := 1; i <= 8; i++ {
		stream = append(stream, mustEncode(t, NewPacket(uint16(i), TypeData, bytes.Repeat([]byte{'x'}, 40)))...)
	}
	if len(stream) <= rxFifoSize {
		t.Fatalf("Stream of %d bytes should exceed the %d byte FIFO", len(stream), rxFifoSize)
	}

	for off := 0; off < len(stream); off += 100 {
		chunk := stream[off:min(off+100, len(stream))]
		n, err := h.Write(chunk)
		if err != nil || n != len(chunk) {
			t.Fatalf("Write returned %d, %v; expected %d, nil", n, err, len(chunk))
		}
	}

	if len(ids) != 8 || ids[0] != 1 || ids[7] != 8 {
		t.Errorf("Expected packets 1..8 in order, got %v", ids)
	}
	if got := replies(t, out); len(got) != 8 {
		t.Errorf("Expected 8 ACKs, got %d", len(got))
	}
	if !h.rx.IsEmpty() {
		t.Errorf("Expected the FIFO to be drained, %d bytes left", h.rx.Available())
	}
}
