package producer

import "testing"

func TestBatchContainer_HasSpaceForCountAndBytes(t *testing.T) {
	b := newBatchContainer(2, 10)

	if !b.hasSpaceFor(5) {
		t.Fatal("empty batch must always have space")
	}
	b.add(batchEntry{payload: []byte("12345")})

	if !b.hasSpaceFor(5) {
		t.Fatal("one entry of 5 bytes + 5 more must fit under maxBytes=10")
	}
	if b.hasSpaceFor(6) {
		t.Fatal("5+6=11 exceeds maxBytes=10")
	}

	b.add(batchEntry{payload: []byte("ab")})
	if b.hasSpaceFor(1) {
		t.Fatal("maxMessages=2 already reached, must report no space")
	}
}

func TestBatchContainer_FlushResetsAndPreservesOrder(t *testing.T) {
	b := newBatchContainer(10, 1<<20)

	var calls []int
	for i := 0; i < 3; i++ {
		idx := i
		b.add(batchEntry{
			payload: []byte{byte(idx)},
			key:     "k",
			cb:      func(batchIdx int, id MessageID, err error) { calls = append(calls, batchIdx) },
		})
	}

	op, payload, err := b.flush("producer-1", 42, CompressionNone)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if op.sequenceID != 42 {
		t.Fatalf("sequenceID = %d, want 42", op.sequenceID)
	}
	if op.numMessages != 3 {
		t.Fatalf("numMessages = %d, want 3", op.numMessages)
	}
	if len(payload) != 3 {
		t.Fatalf("composed payload len = %d, want 3", len(payload))
	}
	if op.meta.Key != "k" {
		t.Fatalf("meta.Key = %q, want %q (first message's key)", op.meta.Key, "k")
	}

	for i, cb := range op.callbacks {
		cb(i, MessageID{}, nil)
	}
	if len(calls) != 3 || calls[0] != 0 || calls[1] != 1 || calls[2] != 2 {
		t.Fatalf("callback fan-out order = %v, want [0 1 2]", calls)
	}

	if !b.empty() {
		t.Fatal("batch must be empty after flush")
	}
}

func TestBatchContainer_NewIsEmpty(t *testing.T) {
	b := newBatchContainer(10, 1024)
	if !b.empty() {
		t.Fatal("new batch must be empty")
	}
}
