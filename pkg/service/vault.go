// Package service 实现 vaultgate.v1.Vault gRPC 服务
// 业务逻辑全部在 ingest / presign / commit 中，这里只做协议转换
package service

import (
	"context"
	"io"
	"strconv"
	"time"

	"vaultgate/pkg/app"
	"vaultgate/pkg/errs"
	"vaultgate/pkg/ingest"
	"vaultgate/pkg/presign"
	"vaultgate/pkg/source"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const downloadChunkSize = 64 * 1024

type VaultService struct {
	app *app.App
}

func NewVaultService(application *app.App) *VaultService {
	return &VaultService{app: application}
}

var _ VaultServer = (*VaultService)(nil)

// =============================================================================
// 1. Ingest (Client-Side Streaming)
// =============================================================================

// Ingest 从请求头读取声明信息，把帧流包装成 ByteSource 交给流水线
func (s *VaultService) Ingest(stream grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct]) error {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)

	// 1. 解析请求头；格式错误在读取任何帧之前拒绝
	opts := ingest.Options{ExpectedHash: header(md, HeaderExpectedHash)}
	if v := header(md, HeaderSkipScan); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return ToStatus(errs.Wrap(errs.InvalidRequest, err, HeaderSkipScan))
		}
		opts.SkipScan = skip
	}
	algs, err := ParseAlgorithms(md.Get(HeaderAlgorithms))
	if err != nil {
		return ToStatus(errs.Wrap(errs.InvalidRequest, err, HeaderAlgorithms))
	}
	opts.ExtraAlgorithms = algs

	size := int64(-1)
	if v := header(md, HeaderContentLength); v != "" {
		size, err = strconv.ParseInt(v, 10, 64)
		if err != nil || size < 0 {
			return ToStatus(errs.Newf(errs.InvalidRequest, "invalid %s %q", HeaderContentLength, v))
		}
	}

	// 2. 流水线
	src := source.NewUpload(NewGrpcStreamReader(stream), size, header(md, HeaderFilename), header(md, HeaderContentType))
	res, err := s.app.Pipeline.Ingest(ctx, src, opts)
	if err != nil {
		return ToStatus(err)
	}

	out, err := ToStruct(replyFromResult(presign.Result{Result: res}))
	if err != nil {
		return ToStatus(errs.Wrap(errs.Internal, err, "encode reply"))
	}
	return stream.SendAndClose(out)
}

// =============================================================================
// 2. Fetch (URL ingest)
// =============================================================================

func (s *VaultService) Fetch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req FetchRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatus(errs.Wrap(errs.InvalidRequest, err, "fetch request"))
	}
	algs, err := ParseAlgorithms(req.Algorithms)
	if err != nil {
		return nil, ToStatus(errs.Wrap(errs.InvalidRequest, err, "algorithms"))
	}

	res, err := s.app.Presign.Run(ctx, presign.Request{
		Locator:      req.Locator,
		Timeout:      time.Duration(req.TimeoutMillis) * time.Millisecond,
		Algorithms:   algs,
		SkipScan:     req.SkipScan,
		ExpectedHash: req.ExpectedHash,
		URLTTL:       time.Duration(req.URLTTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, ToStatus(err)
	}

	out, err := ToStruct(replyFromResult(res))
	if err != nil {
		return nil, ToStatus(errs.Wrap(errs.Internal, err, "encode reply"))
	}
	return out, nil
}

// =============================================================================
// 3. Read path
// =============================================================================

func (s *VaultService) GetMetadata(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	ident, err := s.app.Pipeline.RetrieveMetadata(ctx, in.GetValue())
	if err != nil {
		return nil, ToStatus(err)
	}
	out, err := ToStruct(ident)
	if err != nil {
		return nil, ToStatus(errs.Wrap(errs.Internal, err, "encode identity"))
	}
	return out, nil
}

func (s *VaultService) GetPayloadURL(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	var req PayloadURLRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, ToStatus(errs.Wrap(errs.InvalidRequest, err, "payload url request"))
	}
	if req.TTLSeconds < 0 {
		return nil, ToStatus(errs.New(errs.InvalidRequest, "ttl_seconds must not be negative"))
	}
	u, err := s.app.Pipeline.RetrievePayloadURL(ctx, req.ID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return nil, ToStatus(err)
	}
	return wrapperspb.String(u), nil
}

// Download 先在 header 中返回身份信息，再按块发送 payload
func (s *VaultService) Download(in *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ctx := stream.Context()
	body, ident, err := s.app.Committer.Get(ctx, in.GetValue())
	if err != nil {
		return ToStatus(err)
	}
	defer body.Close()

	if err := stream.SendHeader(metadata.Pairs(
		HeaderContentType, ident.DeclaredType,
		HeaderContentLength, strconv.FormatInt(ident.Size, 10),
		HeaderFilename, ident.Name,
	)); err != nil {
		return err
	}

	// 包一层只暴露 Read，避免 *os.File.WriteTo 绕过分块
	buf := make([]byte, downloadChunkSize)
	if _, err := io.CopyBuffer(NewGrpcStreamWriter(stream), struct{ io.Reader }{body}, buf); err != nil {
		return ToStatus(errs.Wrap(errs.SourceRead, err, "stream payload"))
	}
	return nil
}

func header(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
