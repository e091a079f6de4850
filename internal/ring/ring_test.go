package ring

import "testing"

func TestBufferWriteReadRoundTrip(t *testing.T) {
	b := NewBuffer(16)
	n, err := b.Write([]byte{1, 2, 3, 4})
	if err != nil || n != 4 {
		t.Fatalf("Write() = (%d, %v), want (4, nil)", n, err)
	}
	out := make([]byte, 4)
	if got := b.Read(out); got != 4 {
		t.Fatalf("Read() = %d, want 4", got)
	}
	for i, v := range []byte{1, 2, 3, 4} {
		if out[i] != v {
			t.Errorf("out[%d] = %d, want %d", i, out[i], v)
		}
	}
}

func TestBufferWriteFullReturnsError(t *testing.T) {
	b := NewBuffer(4) // capacity() == 3 usable bytes
	if _, err := b.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error on fill: %v", err)
	}
	if _, err := b.Write([]byte{4}); err != ErrBufferFull {
		t.Errorf("Write() err = %v, want ErrBufferFull", err)
	}
}

func TestBufferReadEmptyReturnsZero(t *testing.T) {
	b := NewBuffer(8)
	out := make([]byte, 4)
	if n := b.Read(out); n != 0 {
		t.Errorf("Read() on empty ring = %d, want 0", n)
	}
}

func TestBufferWraparound(t *testing.T) {
	b := NewBuffer(4)
	b.Write([]byte{1, 2, 3})
	out := make([]byte, 2)
	b.Read(out)
	b.Write([]byte{4, 5})
	rest := make([]byte, 3)
	n := b.Read(rest)
	if n != 3 {
		t.Fatalf("Read() = %d, want 3", n)
	}
	want := []byte{3, 4, 5}
	for i, v := range want {
		if rest[i] != v {
			t.Errorf("rest[%d] = %d, want %d", i, rest[i], v)
		}
	}
}

func TestBufferFillFraction(t *testing.T) {
	b := NewBuffer(5) // 4 usable bytes
	b.Write([]byte{1, 2})
	if got := b.FillFraction(); got < 0.49 || got > 0.51 {
		t.Errorf("FillFraction() = %v, want ~0.5", got)
	}
}
