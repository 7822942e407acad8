package ringbuffer

import "testing"

func TestPushPopRoundTrip(t *testing.T) {
	r := New[float32](8)
	in := []float32{1, 2, 3, 4, 5}
	n := r.Push(in)
	if n != 5 {
		t.Fatalf("Push: got %d, want 5", n)
	}
	out := make([]float32, 5)
	n = r.Pop(out)
	if n != 5 {
		t.Fatalf("Pop: got %d, want 5", n)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	r := New[int](5)
	if r.Cap() != 8 {
		t.Fatalf("Cap() = %d, want 8", r.Cap())
	}
}

func TestOverflowTruncates(t *testing.T) {
	r := New[int](4)
	in := []int{1, 2, 3, 4, 5, 6}
	n := r.Push(in)
	if n != 4 {
		t.Fatalf("Push: got %d, want 4 (capacity)", n)
	}
	if r.Free() != 0 {
		t.Fatalf("Free() = %d, want 0", r.Free())
	}
}

func TestUnderflowTruncates(t *testing.T) {
	r := New[int](8)
	r.Push([]int{1, 2})
	out := make([]int, 5)
	n := r.Pop(out)
	if n != 2 {
		t.Fatalf("Pop: got %d, want 2", n)
	}
}

func TestChunkWrapAround(t *testing.T) {
	r := New[int](4)
	r.Push([]int{1, 2, 3})
	out := make([]int, 3)
	r.Pop(out)
	// write cursor is at 3, read at 3; pushing 3 more wraps past the end.
	n := r.Push([]int{4, 5, 6})
	if n != 3 {
		t.Fatalf("Push after wrap: got %d, want 3", n)
	}
	out = make([]int, 3)
	n = r.Pop(out)
	if n != 3 || out[0] != 4 || out[1] != 5 || out[2] != 6 {
		t.Fatalf("Pop after wrap: got %v, n=%d", out, n)
	}
}

func TestWriteReadChunkZeroCopy(t *testing.T) {
	r := New[float32](8)
	chunk := r.WriteChunk(4)
	if len(chunk) != 4 {
		t.Fatalf("WriteChunk len = %d, want 4", len(chunk))
	}
	for i := range chunk {
		chunk[i] = float32(i + 1)
	}
	r.CommitWrite(4)

	rchunk := r.ReadChunk(4)
	if len(rchunk) != 4 {
		t.Fatalf("ReadChunk len = %d, want 4", len(rchunk))
	}
	for i, v := range rchunk {
		if v != float32(i+1) {
			t.Fatalf("rchunk[%d] = %v, want %v", i, v, i+1)
		}
	}
	r.CommitRead(4)
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestReset(t *testing.T) {
	r := New[int](8)
	r.Push([]int{1, 2, 3})
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", r.Len())
	}
	if r.Free() != r.Cap() {
		t.Fatalf("Free() after Reset = %d, want %d", r.Free(), r.Cap())
	}
}
