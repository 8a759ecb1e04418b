package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// 服务只使用 well-known types 作为消息体，不依赖生成代码
const ServiceName = "vaultgate.v1.Vault"

const (
	MethodIngest        = "/" + ServiceName + "/Ingest"
	MethodFetch         = "/" + ServiceName + "/Fetch"
	MethodGetMetadata   = "/" + ServiceName + "/GetMetadata"
	MethodGetPayloadURL = "/" + ServiceName + "/GetPayloadURL"
	MethodDownload      = "/" + ServiceName + "/Download"
)

// Ingest 流的请求头 (gRPC metadata)
const (
	HeaderExpectedHash  = "x-expected-hash"
	HeaderFilename      = "x-filename"
	HeaderContentType   = "x-content-type"
	HeaderSkipScan      = "x-skip-scan"
	HeaderContentLength = "x-content-length"
	HeaderAlgorithms    = "x-hash-algorithms"
	HeaderRequestID     = "x-request-id"
)

// VaultServer 是服务端需要实现的接口
type VaultServer interface {
	// Ingest: 客户端流，每帧一个 BytesValue，结束后返回 IngestReply
	Ingest(grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct]) error
	Fetch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMetadata(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetPayloadURL(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Download(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

func RegisterVaultServer(s grpc.ServiceRegistrar, srv VaultServer) {
	s.RegisterService(&VaultServiceDesc, srv)
}

var VaultServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: fetchHandler},
		{MethodName: "GetMetadata", Handler: getMetadataHandler},
		{MethodName: "GetPayloadURL", Handler: getPayloadURLHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Ingest", Handler: ingestHandler, ClientStreams: true},
		{StreamName: "Download", Handler: downloadHandler, ServerStreams: true},
	},
}

// IngestStreamDesc / DownloadStreamDesc 供客户端 NewStream 使用
var (
	IngestStreamDesc   = &VaultServiceDesc.Streams[0]
	DownloadStreamDesc = &VaultServiceDesc.Streams[1]
)

func ingestHandler(srv any, stream grpc.ServerStream) error {
	return srv.(VaultServer).Ingest(&grpc.GenericServerStream[wrapperspb.BytesValue, structpb.Struct]{ServerStream: stream})
}

func downloadHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(VaultServer).Download(in, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

func fetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodFetch}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(VaultServer).Fetch(ctx, req.(*structpb.Struct))
	})
}

func getMetadataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServer).GetMetadata(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetMetadata}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(VaultServer).GetMetadata(ctx, req.(*wrapperspb.StringValue))
	})
}

func getPayloadURLHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VaultServer).GetPayloadURL(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetPayloadURL}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(VaultServer).GetPayloadURL(ctx, req.(*structpb.Struct))
	})
}
