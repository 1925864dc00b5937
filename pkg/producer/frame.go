// Frame encoding for the producer's three outbound wire messages.
//
// The producer-broker wire protocol has no protobuf codegen; send,
// register, and unregister are framed as a length-prefixed binary layout:
// a small fixed header carrying a magic, a checksum, and field lengths,
// followed by the variable-length body. internal/connio carries this frame
// as an opaque byte payload in a unary gRPC call (see rawCodec in
// internal/connio/grpcconn.go).
//
// FRAME LAYOUT (header, 32 bytes):
//
//	[0:2]   Magic ("FQ")
//	[2:3]   FrameType (1=send, 2=newProducer, 3=closeProducer)
//	[3:4]   Compression (0=none, 1=lz4, 2=zlib)
//	[4:12]  Checksum (xxhash64 of the body, big-endian)
//	[12:20] ProducerID (uint64, big-endian)
//	[20:28] RequestID or SequenceID depending on FrameType (uint64, big-endian)
//	[28:32] BodyLen (uint32, big-endian)
//	[32:]   Body
package producer

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"

	"bytes"
	"errors"
)

type frameType uint8

const (
	frameTypeSend frameType = iota + 1
	frameTypeNewProducer
	frameTypeCloseProducer
)

const (
	frameMagic0  = 'F'
	frameMagic1  = 'Q'
	frameHdrSize = 32
)

var errShortFrame = errors.New("producer: frame shorter than header")
var errBadMagic = errors.New("producer: frame has bad magic bytes")
var errChecksumMismatch = errors.New("producer: frame checksum mismatch")

// newSend builds the wire frame for a send operation: producer_id,
// sequence_id, num_messages, metadata, and the (already compressed)
// payload.
func newSend(producerID uint64, sequenceID uint64, numMessages int, md metadata, compressedPayload []byte) (*FrameBuffer, error) {
	body := encodeSendBody(sequenceID, numMessages, md, compressedPayload)
	return assembleFrame(frameTypeSend, producerID, sequenceID, md.Compression, body)
}

// newProducer builds the registration frame sent to open a producer on a
// topic/partition.
func newProducer(topic string, producerID, requestID uint64, producerName string) (*FrameBuffer, error) {
	buf := new(bytes.Buffer)
	writeString(buf, topic)
	writeString(buf, producerName)
	return assembleFrame(frameTypeNewProducer, producerID, requestID, CompressionNone, buf.Bytes())
}

// newCloseProducer builds the deregistration frame.
func newCloseProducer(producerID, requestID uint64) (*FrameBuffer, error) {
	return assembleFrame(frameTypeCloseProducer, producerID, requestID, CompressionNone, nil)
}

func assembleFrame(ft frameType, producerID, correlationID uint64, compression CompressionType, body []byte) (*FrameBuffer, error) {
	checksum := xxhash.Sum64(body)

	out := make([]byte, frameHdrSize+len(body))
	out[0] = frameMagic0
	out[1] = frameMagic1
	out[2] = byte(ft)
	out[3] = byte(compression)
	binary.BigEndian.PutUint64(out[4:12], checksum)
	binary.BigEndian.PutUint64(out[12:20], producerID)
	binary.BigEndian.PutUint64(out[20:28], correlationID)
	binary.BigEndian.PutUint32(out[28:32], uint32(len(body)))
	copy(out[frameHdrSize:], body)

	return newFrameBuffer(out), nil
}

// decodeFrameHeader validates magic and checksum and returns the parsed
// header fields plus the body slice. Used by this package's tests to
// assert on what was actually written; internal/connio's FakeConn decodes
// the header with its own copy of this layout.
func decodeFrameHeader(raw []byte) (ft frameType, compression CompressionType, producerID, correlationID uint64, body []byte, err error) {
	if len(raw) < frameHdrSize {
		return 0, 0, 0, 0, nil, errShortFrame
	}
	if raw[0] != frameMagic0 || raw[1] != frameMagic1 {
		return 0, 0, 0, 0, nil, errBadMagic
	}
	ft = frameType(raw[2])
	compression = CompressionType(raw[3])
	checksum := binary.BigEndian.Uint64(raw[4:12])
	producerID = binary.BigEndian.Uint64(raw[12:20])
	correlationID = binary.BigEndian.Uint64(raw[20:28])
	bodyLen := binary.BigEndian.Uint32(raw[28:32])
	if uint32(len(raw)-frameHdrSize) < bodyLen {
		return 0, 0, 0, 0, nil, errShortFrame
	}
	body = raw[frameHdrSize : frameHdrSize+int(bodyLen)]
	if xxhash.Sum64(body) != checksum {
		return 0, 0, 0, 0, nil, errChecksumMismatch
	}
	return ft, compression, producerID, correlationID, body, nil
}

func encodeSendBody(sequenceID uint64, numMessages int, md metadata, payload []byte) []byte {
	buf := new(bytes.Buffer)
	writeString(buf, md.ProducerName)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], sequenceID)
	buf.Write(tmp8[:])
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(numMessages))
	buf.Write(tmp4[:])
	binary.BigEndian.PutUint64(tmp8[:], uint64(md.PublishTime.UnixNano()))
	buf.Write(tmp8[:])
	buf.WriteByte(byte(md.Compression))
	binary.BigEndian.PutUint32(tmp4[:], uint32(md.UncompressedSize))
	buf.Write(tmp4[:])
	binary.BigEndian.PutUint64(tmp8[:], md.Checksum)
	buf.Write(tmp8[:])
	writeString(buf, md.Key)
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(payload)))
	buf.Write(tmp4[:])
	buf.Write(payload)
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], uint16(len(s)))
	buf.Write(tmp2[:])
	buf.WriteString(s)
}

// compress applies the configured codec to payload. It is a no-op for
// CompressionNone.
func compress(ct CompressionType, payload []byte) ([]byte, error) {
	switch ct {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		out := new(bytes.Buffer)
		w := lz4.NewWriter(out)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return out.Bytes(), nil
	case CompressionZLib:
		out := new(bytes.Buffer)
		w := zlib.NewWriter(out)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("producer: unknown compression type %d", ct)
	}
}

// checksumPayload computes the stable non-cryptographic checksum carried
// in a send body's metadata, over the uncompressed payload. (The frame
// header's checksum is computed separately, over the whole body.)
func checksumPayload(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}
