package producer

import (
	"bytes"
	"testing"
	"time"
)

func TestFrame_SendRoundTrip(t *testing.T) {
	md := metadata{
		ProducerName:     "p1",
		SequenceID:       7,
		PublishTime:      time.Now(),
		Compression:      CompressionNone,
		UncompressedSize: 5,
		Checksum:         checksumPayload([]byte("hello")),
		Key:              "k",
	}

	buf, err := newSend(123, 7, 1, md, []byte("hello"))
	if err != nil {
		t.Fatalf("newSend: %v", err)
	}
	defer buf.Release()

	ft, compression, producerID, correlationID, body, err := decodeFrameHeader(buf.Bytes())
	if err != nil {
		t.Fatalf("decodeFrameHeader: %v", err)
	}
	if ft != frameTypeSend {
		t.Fatalf("frame type = %v, want frameTypeSend", ft)
	}
	if compression != CompressionNone {
		t.Fatalf("compression = %v, want none", compression)
	}
	if producerID != 123 || correlationID != 7 {
		t.Fatalf("producerID/correlationID = %d/%d, want 123/7", producerID, correlationID)
	}
	if len(body) == 0 {
		t.Fatal("send body must not be empty")
	}
}

func TestFrame_CorruptedChecksumDetected(t *testing.T) {
	buf, err := newCloseProducer(1, 2)
	if err != nil {
		t.Fatalf("newCloseProducer: %v", err)
	}
	defer buf.Release()

	raw := append([]byte(nil), buf.Bytes()...)
	raw[4] ^= 0xFF // corrupt the checksum byte

	if _, _, _, _, _, err := decodeFrameHeader(raw); err != errChecksumMismatch {
		t.Fatalf("err = %v, want errChecksumMismatch", err)
	}
}

func TestFrame_BadMagicDetected(t *testing.T) {
	buf, err := newCloseProducer(1, 2)
	if err != nil {
		t.Fatalf("newCloseProducer: %v", err)
	}
	defer buf.Release()

	raw := append([]byte(nil), buf.Bytes()...)
	raw[0] = 'X'

	if _, _, _, _, _, err := decodeFrameHeader(raw); err != errBadMagic {
		t.Fatalf("err = %v, want errBadMagic", err)
	}
}

func TestFrame_ShortFrameDetected(t *testing.T) {
	if _, _, _, _, _, err := decodeFrameHeader([]byte{1, 2, 3}); err != errShortFrame {
		t.Fatalf("err = %v, want errShortFrame", err)
	}
}

func TestCompress_ProducesOutputForEachCodec(t *testing.T) {
	payload := bytes.Repeat([]byte("goqueue-producer-payload"), 32)

	for _, ct := range []CompressionType{CompressionNone, CompressionLZ4, CompressionZLib} {
		out, err := compress(ct, payload)
		if err != nil {
			t.Fatalf("compress(%v): %v", ct, err)
		}
		if ct == CompressionNone && !bytes.Equal(out, payload) {
			t.Fatalf("compress(none) must pass payload through unchanged")
		}
		if len(out) == 0 {
			t.Fatalf("compress(%v) produced empty output", ct)
		}
	}
}

func TestChecksumPayload_Deterministic(t *testing.T) {
	a := checksumPayload([]byte("same bytes"))
	b := checksumPayload([]byte("same bytes"))
	if a != b {
		t.Fatal("checksum must be deterministic for identical input")
	}
	if a == checksumPayload([]byte("different bytes")) {
		t.Fatal("checksum collided for different input (statistically implausible)")
	}
}
