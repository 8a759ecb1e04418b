package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"vaultgate/pkg/core"
	"vaultgate/pkg/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultFrameSize 是上传时每帧的字节数
const DefaultFrameSize = 256 * 1024

// VGClient 封装了与 vaultgate 服务端的连接
type VGClient struct {
	conn      *grpc.ClientConn
	frameSize int
}

// NewVGClient 只创建对象，不等待连接就绪
// extra 追加在默认选项之后 (例如测试里的 bufconn dialer)
func NewVGClient(addr string, extra ...grpc.DialOption) (*VGClient, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	conn, err := grpc.NewClient(addr, append(opts, extra...)...)
	if err != nil {
		// 这里的 err 只是配置错误，网络不通不会在这里报错
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}
	return &VGClient{conn: conn, frameSize: DefaultFrameSize}, nil
}

func (c *VGClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// UploadMeta 对应 Ingest 的请求头
type UploadMeta struct {
	Name         string
	ContentType  string
	ExpectedHash string
	SkipScan     bool
	// Size < 0 表示未知
	Size       int64
	Algorithms []string
}

func (m UploadMeta) pairs() []string {
	kv := []string{service.HeaderSkipScan, strconv.FormatBool(m.SkipScan)}
	if m.Name != "" {
		kv = append(kv, service.HeaderFilename, m.Name)
	}
	if m.ContentType != "" {
		kv = append(kv, service.HeaderContentType, m.ContentType)
	}
	if m.ExpectedHash != "" {
		kv = append(kv, service.HeaderExpectedHash, m.ExpectedHash)
	}
	if m.Size >= 0 {
		kv = append(kv, service.HeaderContentLength, strconv.FormatInt(m.Size, 10))
	}
	if len(m.Algorithms) > 0 {
		kv = append(kv, service.HeaderAlgorithms, strings.Join(m.Algorithms, ","))
	}
	return kv
}

// Ingest 把 r 按帧推给服务端，返回 gate 通过后的结果
// 服务端拒绝时返回 *errs.Error (带 Kind 和病毒签名)
func (c *VGClient) Ingest(ctx context.Context, r io.Reader, meta UploadMeta) (*service.IngestReply, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, meta.pairs()...)
	stream, err := c.conn.NewStream(ctx, service.IngestStreamDesc, service.MethodIngest)
	if err != nil {
		return nil, service.FromStatus(err)
	}

	buf := make([]byte, c.frameSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := stream.SendMsg(wrapperspb.Bytes(buf[:n])); err != nil {
				// io.EOF 表示服务端已经结束了这次调用，真正的状态要从 RecvMsg 拿
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, service.FromStatus(err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("read local source: %w", rerr)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, service.FromStatus(err)
	}

	out := new(structpb.Struct)
	if err := stream.RecvMsg(out); err != nil {
		return nil, service.FromStatus(err)
	}
	var reply service.IngestReply
	if err := service.FromStruct(out, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *VGClient) Fetch(ctx context.Context, req service.FetchRequest) (*service.IngestReply, error) {
	in, err := service.ToStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, service.MethodFetch, in, out); err != nil {
		return nil, service.FromStatus(err)
	}
	var reply service.IngestReply
	if err := service.FromStruct(out, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *VGClient) GetMetadata(ctx context.Context, id string) (core.ContentIdentity, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, service.MethodGetMetadata, wrapperspb.String(id), out); err != nil {
		return core.ContentIdentity{}, service.FromStatus(err)
	}
	var ident core.ContentIdentity
	if err := service.FromStruct(out, &ident); err != nil {
		return core.ContentIdentity{}, err
	}
	return ident, nil
}

// GetPayloadURL 的 ttl 为 0 时使用服务端默认值
func (c *VGClient) GetPayloadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	in, err := service.ToStruct(service.PayloadURLRequest{ID: id, TTLSeconds: int64(ttl / time.Second)})
	if err != nil {
		return "", err
	}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, service.MethodGetPayloadURL, in, out); err != nil {
		return "", service.FromStatus(err)
	}
	return out.GetValue(), nil
}

// Download 把 payload 写入 w，返回写入的字节数
func (c *VGClient) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	stream, err := c.conn.NewStream(ctx, service.DownloadStreamDesc, service.MethodDownload)
	if err != nil {
		return 0, service.FromStatus(err)
	}
	if err := stream.SendMsg(wrapperspb.String(id)); err != nil {
		return 0, service.FromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return 0, service.FromStatus(err)
	}

	var total int64
	for {
		frame := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(frame)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, service.FromStatus(err)
		}
		n, err := w.Write(frame.GetValue())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

// Health 查询服务端的健康状态
func (c *VGClient) Health(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service.ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server not serving: %s", resp.GetStatus())
	}
	return nil
}
