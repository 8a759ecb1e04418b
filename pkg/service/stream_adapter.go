package service

import (
	"fmt"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// =============================================================================
// 1. Ingest Adapter: gRPC Stream -> io.Reader
// =============================================================================

// FrameReceiver 是 Ingest 流所需的最小集合，方便测试 Mock
type FrameReceiver interface {
	Recv() (*wrapperspb.BytesValue, error)
}

// GrpcStreamReader 将 gRPC 客户端流包装为 io.Reader，交给 ByteSource
type GrpcStreamReader struct {
	stream      FrameReceiver
	internalBuf []byte // 从 Recv 拿到、还没被 Read 读走的数据
	err         error  // 流的终止状态 (如 io.EOF)
}

func NewGrpcStreamReader(stream FrameReceiver) *GrpcStreamReader {
	return &GrpcStreamReader{stream: stream}
}

// Read 是一个 "缓冲-消费" 状态机；空帧直接跳过
func (r *GrpcStreamReader) Read(p []byte) (int, error) {
	for len(r.internalBuf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		frame, err := r.stream.Recv()
		if err != nil {
			r.err = err
			return 0, err
		}
		r.internalBuf = frame.GetValue()
	}

	copied := copy(p, r.internalBuf)
	r.internalBuf = r.internalBuf[copied:]
	return copied, nil
}

// =============================================================================
// 2. Download Adapter: io.Writer -> gRPC Stream
// =============================================================================

type FrameSender interface {
	Send(*wrapperspb.BytesValue) error
}

// GrpcStreamWriter 每次 Write 发送一帧
type GrpcStreamWriter struct {
	stream FrameSender
}

func NewGrpcStreamWriter(stream FrameSender) *GrpcStreamWriter {
	return &GrpcStreamWriter{stream: stream}
}

// Write 中 Send 会立即序列化 p，所以不需要拷贝
func (w *GrpcStreamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := w.stream.Send(&wrapperspb.BytesValue{Value: p}); err != nil {
		return 0, fmt.Errorf("grpc send failed: %w", err)
	}
	return len(p), nil
}
