package protocol

import "testing"

func TestSliceInputBuffer(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	buf := NewSliceInputBuffer(data)

	if buf.Available() != 5 {
		t.Errorf("Expected 5 bytes available, got %d", buf.Available())
	}

	buf.Pop(2)
	if buf.Available() != 3 {
		t.Errorf("After popping 2, expected 3 bytes available, got %d", buf.Available())
	}

	bufData := buf.Data()
	if len(bufData) != 3 || bufData[0] != 3 {
		t.Errorf("After popping 2, expected first byte to be 3, got %v", bufData)
	}

	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Popping past the end should empty the buffer, got %d", buf.Available())
	}
}

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput(4)

	scratch.Output([]byte{1, 2, 3})
	if len(scratch.Result()) != 3 {
		t.Errorf("Expected 3 bytes in result, got %d", len(scratch.Result()))
	}

	scratch.Output([]byte{4, 5})
	if len(scratch.Result()) != 4 || scratch.Dropped() != 1 {
		t.Errorf("Expected 4 bytes kept and 1 dropped, got %d kept %d dropped", len(scratch.Result()), scratch.Dropped())
	}

	scratch.Reset()
	if len(scratch.Result()) != 0 || scratch.Dropped() != 0 {
		t.Errorf("After reset, expected empty buffer")
	}
}

func TestFifoBuffer(t *testing.T) {
	fifo := NewFifoBuffer(10)

	if !fifo.IsEmpty() {
		t.Error("New FIFO should be empty")
	}

	written := fifo.Write([]byte{1, 2, 3, 4, 5})
	if written != 5 {
		t.Errorf("Expected to write 5 bytes, wrote %d", written)
	}
	if fifo.Free() != 4 {
		t.Errorf("Expected 4 bytes free, got %d", fifo.Free())
	}

	fifo.Pop(3)
	if fifo.Available() != 2 {
		t.Errorf("After popping 3, expected 2 available, got %d", fifo.Available())
	}

	fifo.Reset()
	big := make([]byte, 12)
	written = fifo.Write(big)
	if written != 9 { // one slot reserved
		t.Errorf("Expected to write 9 bytes to size-10 FIFO, wrote %d", written)
	}
}

func TestFifoBufferWrapAround(t *testing.T) {
	fifo := NewFifoBuffer(5)

	fifo.Write([]byte{1, 2, 3, 4})
	fifo.Pop(2)

	if written := fifo.Write([]byte{5, 6}); written != 2 {
		t.Errorf("Expected to write 2 bytes, wrote %d", written)
	}

	data := fifo.Data()
	if len(data) != 4 || data[0] != 3 || data[1] != 4 || data[2] != 5 || data[3] != 6 {
		t.Errorf("Wrap-around data mismatch: got %v", data)
	}
}
