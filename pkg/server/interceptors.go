package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"vaultgate/pkg/logger"
	"vaultgate/pkg/service"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// =============================================================================
// 1. Request ID Interceptor
// =============================================================================

// requestContext 复用调用方传入的 x-request-id，否则生成一个
// 带 request_id 的 logger 注入 ctx，下游通过 logger.FromContext 取用
func requestContext(ctx context.Context) (context.Context, string) {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(service.HeaderRequestID); len(v) > 0 && v[0] != "" {
			id = v[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	l := logger.FromContext(ctx).With(slog.String("request_id", id))
	return logger.WithContext(ctx, l), id
}

func UnaryRequestIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, id := requestContext(ctx)
	_ = grpc.SetHeader(ctx, metadata.Pairs(service.HeaderRequestID, id))
	return handler(ctx, req)
}

func StreamRequestIDInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, id := requestContext(ss.Context())
	_ = ss.SetHeader(metadata.Pairs(service.HeaderRequestID, id))
	return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
}

// wrappedStream 替换 ServerStream 的 Context
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// =============================================================================
// 2. Logging Interceptor (结构化日志)
// =============================================================================

func UnaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logRPC(ctx, "Unary", info.FullMethod, time.Since(start), err)
	return resp, err
}

func StreamLoggingInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	logRPC(ss.Context(), "Stream", info.FullMethod, time.Since(start), err)
	return err
}

// logRPC 每个 RPC 一行访问日志
// 失败原因已经在检测点记录过，这里只记 status 码
func logRPC(ctx context.Context, kind, method string, duration time.Duration, err error) {
	code := status.Code(err)

	level := slog.LevelInfo
	if code != codes.OK {
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		} else {
			level = slog.LevelWarn
		}
	}

	logger.FromContext(ctx).Log(ctx, level, "gRPC Request",
		slog.String("kind", kind),
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("dur", duration),
	)
}

// =============================================================================
// 3. Recovery Interceptor
// =============================================================================

func UnaryRecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverFromPanic(ctx, r)
		}
	}()
	return handler(ctx, req)
}

func StreamRecoveryInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverFromPanic(ss.Context(), r)
		}
	}()
	return handler(srv, ss)
}

func recoverFromPanic(ctx context.Context, p any) error {
	logger.FromContext(ctx).Error("panic recovered",
		slog.Any("panic", p),
		slog.String("stack", string(debug.Stack())),
	)
	return status.Errorf(codes.Internal, "INTERNAL: internal server error")
}
