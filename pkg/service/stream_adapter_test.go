package service

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeRecv struct {
	frames [][]byte
	err    error
}

func (f *fakeRecv) Recv() (*wrapperspb.BytesValue, error) {
	if len(f.frames) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	next := f.frames[0]
	f.frames = f.frames[1:]
	return wrapperspb.Bytes(next), nil
}

type fakeSend struct {
	frames [][]byte
	err    error
}

func (f *fakeSend) Send(v *wrapperspb.BytesValue) error {
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, append([]byte(nil), v.GetValue()...))
	return nil
}

func TestGrpcStreamReader_ReassemblesFrames(t *testing.T) {
	r := NewGrpcStreamReader(&fakeRecv{frames: [][]byte{[]byte("hel"), nil, []byte("lo "), []byte("world")}})

	// 小缓冲区强制多次 Read 跨帧
	var out bytes.Buffer
	buf := make([]byte, 2)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "hello world", out.String())

	// EOF 之后保持 EOF
	n, err := r.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
}

func TestGrpcStreamReader_PropagatesError(t *testing.T) {
	boom := errors.New("client went away")
	r := NewGrpcStreamReader(&fakeRecv{frames: [][]byte{[]byte("abc")}, err: boom})

	data, err := io.ReadAll(r)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "abc", string(data))
}

func TestGrpcStreamWriter(t *testing.T) {
	s := &fakeSend{}
	w := NewGrpcStreamWriter(s)

	n, err := w.Write([]byte("chunk-1"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = w.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, [][]byte{[]byte("chunk-1")}, s.frames)

	s.err = errors.New("broken pipe")
	_, err = w.Write([]byte("x"))
	assert.ErrorContains(t, err, "grpc send failed")
}
