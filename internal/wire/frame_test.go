package wire

import (
	"bytes"
	"testing"

	"github.com/softiron/cmrmd/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal in-memory ByteConnection for exercising
// ReadFrame/WriteFrame without a real socket.
type fakeConn struct {
	buf *bytes.Buffer
}

func (f *fakeConn) Read(p []byte) (int, error)  { return f.buf.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error) { return f.buf.Write(p) }

func TestFrameBijectionSimple(t *testing.T) {
	cases := []Frame{
		{Kind: uint32(KindAcquire)},
		{Kind: uint32(KindRelease)},
		{Kind: uint32(KindMdmUp)},
	}
	for _, f := range cases {
		raw, err := Encode(f)
		require.NoError(t, err)
		got, err := Decode(raw[4:]) // raw includes the length header
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestFrameBijectionRegister(t *testing.T) {
	f, err := EncodeRegister(false, "my-client", 0b101)
	require.NoError(t, err)

	raw, err := Encode(f)
	require.NoError(t, err)

	decoded, err := Decode(raw[4:])
	require.NoError(t, err)

	name, mask, err := DecodeRegister(decoded)
	require.NoError(t, err)
	assert.Equal(t, "my-client", name)
	assert.Equal(t, uint32(0b101), mask)
}

func TestFrameBijectionRestartWithDbg(t *testing.T) {
	dbg := DbgInfo{Kind: DbgFwFailure, ApLogSize: 10, BpLogSize: 20, BpLogTime: 30, Data: []string{"a", "b"}}
	f, err := EncodeRestart(CauseMdmErr, &dbg)
	require.NoError(t, err)

	raw, err := Encode(f)
	require.NoError(t, err)
	decoded, err := Decode(raw[4:])
	require.NoError(t, err)

	cause, gotDbg, err := DecodeRestart(decoded)
	require.NoError(t, err)
	assert.Equal(t, CauseMdmErr, cause)
	require.NotNil(t, gotDbg)
	assert.Equal(t, dbg, *gotDbg)
}

func TestFrameOverMaxSizeRejected(t *testing.T) {
	big := make([]string, 0, NDataMax)
	for i := 0; i < NDataMax; i++ {
		big = append(big, string(bytes.Repeat([]byte("x"), LDataMax)))
	}
	dbg := DbgInfo{Kind: DbgStats, Data: big}
	f, err := EncodeNotifyDbg(dbg)
	require.NoError(t, err)
	_, err = Encode(f)
	require.Error(t, err)
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	conn := &fakeConn{buf: new(bytes.Buffer)}
	body := []byte("hello world")
	require.NoError(t, WriteFrame(conn, body))

	got, err := ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestReadFrameRejectsOversizedDeclaredLength(t *testing.T) {
	conn := &fakeConn{buf: new(bytes.Buffer)}
	header := []byte{0, 0, 0x10, 0x00} // 4096, over MaxFrameSize
	conn.buf.Write(header)
	_, err := ReadFrame(conn)
	require.Error(t, err)
}

func TestBridgeFrameBijection(t *testing.T) {
	f := EncodeBroadcastIntent(42, "foo", []IntentParam{IntParam("instId", 2)})
	raw, err := EncodeBridge(f)
	require.NoError(t, err)

	decoded, err := DecodeBridge(raw[4:])
	require.NoError(t, err)
	assert.Equal(t, uint32(42), decoded.MsgID)

	name, params, err := DecodeBroadcastIntent(decoded)
	require.NoError(t, err)
	assert.Equal(t, "foo", name)
	require.Len(t, params, 1)
	assert.Equal(t, "instId", params[0].Name)
	assert.True(t, params[0].IsInt)
	assert.Equal(t, int32(2), params[0].IntVal)
}

func TestAckBijection(t *testing.T) {
	raw := EncodeAck(7)
	id, err := DecodeAck(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), id)
}

func TestPackedWordBijection(t *testing.T) {
	w, err := ipc.PackWord(1, -5, 9999)
	require.NoError(t, err)
	req, id, timeout := w.Unpack()
	assert.Equal(t, uint8(1), req)
	assert.Equal(t, int32(-5), id)
	assert.Equal(t, uint32(9999), timeout)
}
