// Package wire implements the length-type-value frame codec used on the
// client<->CLA socket and the daemon<->host-bridge socket (spec §4.3,
// §4.4, §6).
//
// The shape follows sibench's comms package (comms/prelen_framer.go,
// comms/tcp_connection.go): a Framer that knows only about byte slices
// sitting on top of a ByteConnection, with an Encoder on top of that doing
// the struct<->bytes work. The teacher's framer is a little-endian 4-byte
// length prefix around a JSON body; spec.md instead calls for network
// (big-endian) byte order and a binary length-type-value payload, so the
// wire format itself is new, but the three-layer split (ByteConnection ->
// Framer -> Encoder) and the blocking receiveBytes-until-full loop are
// carried over unchanged.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the largest frame this codec will decode; larger frames
// are a protocol violation and the peer must be disconnected (spec §4.3).
const MaxFrameSize = 2048

// DataType tags a single TLV payload element.
type DataType uint32

const (
	DataInt DataType = iota
	DataString
)

// Field is one element of a Frame's payload, in wire order.
type Field struct {
	Type DataType
	Int  int32
	Str  string
}

// IntField builds an integer Field.
func IntField(v int32) Field { return Field{Type: DataInt, Int: v} }

// StringField builds a string Field.
func StringField(v string) Field { return Field{Type: DataString, Str: v} }

// Frame is one decoded client<->CLA message: a kind tag and a sequence of
// typed fields. It has no msg_id; the host-bridge frame that carries one
// is BridgeFrame.
type Frame struct {
	Kind   uint32
	Fields []Field
}

// Encode serialises a client<->CLA frame: len(u32 BE, excluding header) ||
// type(u32 BE) || payload, with no leading msg_id.
func Encode(f Frame) ([]byte, error) {
	body, err := encodeBody(f.Kind, f.Fields)
	if err != nil {
		return nil, err
	}
	return wrapWithLength(body)
}

// Decode parses a client<->CLA frame previously produced by Encode (or an
// equivalent peer implementation).
func Decode(raw []byte) (Frame, error) {
	kind, fields, err := decodeBody(raw)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, Fields: fields}, nil
}

// BridgeFrame is a daemon<->host-bridge frame, which carries a msg_id used
// for ack matching (spec §4.4, §6). EncodeBridge lays it out as
// uint32 length || uint32 msg_id || uint32 msg_type || payload: the length
// comes first and counts msg_id, msg_type and payload, so msg_id is the
// second word on the wire, not the first.
type BridgeFrame struct {
	MsgID  uint32
	Kind   uint32
	Fields []Field
}

// EncodeBridge serialises a BridgeFrame.
func EncodeBridge(f BridgeFrame) ([]byte, error) {
	body, err := encodeBody(f.Kind, f.Fields)
	if err != nil {
		return nil, err
	}
	// The length prefix covers msg_id, type and payload (everything after
	// the prefix itself), and the returned bytes include it, as Encode's do.
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], f.MsgID)
	copy(out[4:], body)
	return wrapWithLength(out)
}

// DecodeBridge parses a BridgeFrame.
func DecodeBridge(raw []byte) (BridgeFrame, error) {
	if len(raw) < 4 {
		return BridgeFrame{}, fmt.Errorf("wire: bridge frame too short for msg_id: %d bytes", len(raw))
	}
	msgID := binary.BigEndian.Uint32(raw[0:4])
	kind, fields, err := decodeBody(raw[4:])
	if err != nil {
		return BridgeFrame{}, err
	}
	return BridgeFrame{MsgID: msgID, Kind: kind, Fields: fields}, nil
}

// DecodeAck parses a bare 4-byte big-endian msg_id ack reply.
func DecodeAck(raw []byte) (uint32, error) {
	if len(raw) != 4 {
		return 0, fmt.Errorf("wire: ack must be exactly 4 bytes, got %d", len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// EncodeAck serialises a bare msg_id ack reply.
func EncodeAck(msgID uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, msgID)
	return out
}

func encodeBody(kind uint32, fields []Field) ([]byte, error) {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, kind)

	for _, f := range fields {
		switch f.Type {
		case DataInt:
			chunk := make([]byte, 12)
			binary.BigEndian.PutUint32(chunk[0:4], 4)
			binary.BigEndian.PutUint32(chunk[4:8], uint32(DataInt))
			binary.BigEndian.PutUint32(chunk[8:12], uint32(f.Int))
			out = append(out, chunk...)
		case DataString:
			strBytes := []byte(f.Str)
			header := make([]byte, 8)
			binary.BigEndian.PutUint32(header[0:4], uint32(len(strBytes)))
			binary.BigEndian.PutUint32(header[4:8], uint32(DataString))
			out = append(out, header...)
			out = append(out, strBytes...)
		default:
			return nil, fmt.Errorf("wire: unknown field type %d", f.Type)
		}
	}
	return out, nil
}

func decodeBody(raw []byte) (uint32, []Field, error) {
	if len(raw) < 4 {
		return 0, nil, fmt.Errorf("wire: frame too short for type: %d bytes", len(raw))
	}
	kind := binary.BigEndian.Uint32(raw[0:4])
	rest := raw[4:]

	var fields []Field
	for len(rest) > 0 {
		if len(rest) < 8 {
			return 0, nil, fmt.Errorf("wire: truncated field header")
		}
		dataLen := binary.BigEndian.Uint32(rest[0:4])
		dataType := DataType(binary.BigEndian.Uint32(rest[4:8]))
		rest = rest[8:]

		switch dataType {
		case DataInt:
			if dataLen != 4 || len(rest) < 4 {
				return 0, nil, fmt.Errorf("wire: malformed int field")
			}
			v := int32(binary.BigEndian.Uint32(rest[0:4]))
			fields = append(fields, IntField(v))
			rest = rest[4:]
		case DataString:
			if uint32(len(rest)) < dataLen {
				return 0, nil, fmt.Errorf("wire: malformed string field")
			}
			fields = append(fields, StringField(string(rest[:dataLen])))
			rest = rest[dataLen:]
		default:
			return 0, nil, fmt.Errorf("wire: unknown field type %d", dataType)
		}
	}
	return kind, fields, nil
}

func wrapWithLength(body []byte) ([]byte, error) {
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(body), MaxFrameSize)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// ByteConnection is the minimal read/write stream a Framer sits on top of.
// net.Conn satisfies it, as in sibench's comms.ByteConnection.
type ByteConnection interface {
	io.Reader
	io.Writer
}

// ReadFrame blocks until a full frame has arrived on conn (after the
// 4-byte length header), or returns an error. A frame whose declared
// length exceeds MaxFrameSize is a protocol violation: the caller must
// disconnect the peer.
func ReadFrame(conn ByteConnection) ([]byte, error) {
	header, err := readExact(conn, 4)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("wire: declared frame length %d exceeds max %d", length, MaxFrameSize)
	}
	return readExact(conn, int(length))
}

// WriteFrame writes a length-prefixed body to conn.
func WriteFrame(conn ByteConnection, body []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(body)
	return err
}

// readExact mirrors sibench's preLengthFramer.receiveBytes: keep reading
// until the buffer is full, since a single Read may return short.
func readExact(conn ByteConnection, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		count, err := conn.Read(buf[read:])
		if count < 0 {
			return nil, fmt.Errorf("wire: connection returned negative byte count (%d)", count)
		}
		read += count
		if err != nil {
			if read == n {
				return buf, nil
			}
			return nil, err
		}
	}
	return buf, nil
}
