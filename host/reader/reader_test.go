package reader

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vigne-hub/nadamq/protocol"
)

func encode(t *testing.T, id uint16, typ protocol.Type, payload []byte) []byte {
	t.Helper()
	frame, err := protocol.Encode(protocol.NewPacket(id, typ, payload))
	require.NoError(t, err)
	return frame
}

// chunkSource returns the given chunks in order, then nothing
func chunkSource(chunks ...[]byte) ByteSource {
	i := 0
	return func() ([]byte, error) {
		if i >= len(chunks) {
			return nil, nil
		}
		c := chunks[i]
		i++
		return c, nil
	}
}

func TestReadPacketByteAtATime(t *testing.T) {
	frame := encode(t, 0, protocol.TypeData, []byte("hello, world!"))

	var chunks [][]byte
	for _, b := range frame {
		chunks = append(chunks, []byte{b}, nil) // idle poll between bytes
	}

	pkt, err := ReadPacket(chunkSource(chunks...), time.Second)
	require.NoError(t, err)

	payload, err := pkt.Payload()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeData, pkt.Type())
	assert.Equal(t, "hello, world!", string(payload))
	assert.Equal(t, uint16(0xFA35), pkt.CRC())
}

func TestReadPacketSkipsCorruptFrame(t *testing.T) {
	bad := encode(t, 1, protocol.TypeData, []byte("corrupted"))
	bad[protocol.FrameOverhead-protocol.ChecksumSize] ^= 0x10
	good := encode(t, 2, protocol.TypeData, []byte("intact"))

	pkt, err := ReadPacket(chunkSource(bad[:5], bad[5:], good), time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), pkt.ID())
}

func TestReadPacketTimeout(t *testing.T) {
	var calls atomic.Int64
	src := func() ([]byte, error) {
		calls.Add(1)
		return nil, nil
	}

	timeout := 50 * time.Millisecond
	poll := 2 * time.Millisecond

	start := time.Now()
	pkt, err := ReadPacket(src, timeout, WithPollInterval(poll))
	elapsed := time.Since(start)

	assert.Nil(t, pkt)
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+250*time.Millisecond)
	assert.Positive(t, calls.Load())

	// The worker stops polling once the read has given up
	time.Sleep(10 * poll)
	settled := calls.Load()
	time.Sleep(20 * poll)
	assert.Equal(t, settled, calls.Load(), "source called after timeout")
}

func TestReadPacketUpstreamError(t *testing.T) {
	errPort := errors.New("port unplugged")
	src := chunkSource([]byte("|||\x00"))
	failing := func() ([]byte, error) {
		if data, _ := src(); data != nil {
			return data, nil
		}
		return nil, errPort
	}

	_, err := ReadPacket(failing, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, errPort)
}

func TestReadPacketSourcePanic(t *testing.T) {
	src := func() ([]byte, error) {
		panic("driver crashed")
	}

	_, err := ReadPacket(src, time.Second)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorContains(t, err, "driver crashed")
}

func TestReadPacketNoTimeout(t *testing.T) {
	frame := encode(t, 7, protocol.TypeAck, nil)
	pkt, err := ReadPacket(chunkSource(nil, nil, nil, frame), 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAck, pkt.Type())
	assert.Equal(t, uint16(7), pkt.ID())
}

func TestReadPacketContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := ReadPacketContext(ctx, chunkSource())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestReadPacketReceiveBuffer(t *testing.T) {
	rx := make([]byte, 16)
	frame := encode(t, 3, protocol.TypeData, []byte("small"))

	pkt, err := ReadPacket(chunkSource(frame), time.Second,
		WithParserOptions(protocol.WithReceiveBuffer(rx)))
	require.NoError(t, err)
	assert.False(t, pkt.Borrowed(), "packets handed to the caller own their storage")
}

func TestFromReader(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte("garbage"))
	stream.Write(encode(t, 11, protocol.TypeIDResponse, []byte(`{"id": "my device name"}`)))

	pkt, err := ReadPacket(FromReader(&stream, 4), time.Second)
	require.NoError(t, err)

	payload, err := pkt.Payload()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeIDResponse, pkt.Type())
	assert.Equal(t, `{"id": "my device name"}`, string(payload))
}

func TestFromReaderEOFIsIdle(t *testing.T) {
	_, err := ReadPacket(FromReader(bytes.NewReader(nil), 8), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReadPacketAfterStraySyncByte(t *testing.T) {
	frame := encode(t, 6, protocol.TypeData, []byte("after noise"))
	stream := append([]byte{protocol.SyncByte}, frame...)

	pkt, err := ReadPacket(chunkSource(stream), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint16(6), pkt.ID())
}
