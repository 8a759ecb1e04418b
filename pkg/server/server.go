// Package server 组装 gRPC 服务器：拦截器链、Vault 服务、健康检查和反射
package server

import (
	"vaultgate/pkg/app"
	"vaultgate/pkg/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// 单帧上限；payload 本身按帧流式传输，不受此限制
const maxMsgSize = 16 * 1024 * 1024

// New 返回注册好全部服务的 grpc.Server 和健康检查服务
// 拦截器顺序：request id 最外层，之后 logging，recovery 最靠近业务
func New(application *app.App, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	base := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.ChainUnaryInterceptor(
			UnaryRequestIDInterceptor,
			UnaryLoggingInterceptor,
			UnaryRecoveryInterceptor,
		),
		grpc.ChainStreamInterceptor(
			StreamRequestIDInterceptor,
			StreamLoggingInterceptor,
			StreamRecoveryInterceptor,
		),
	}
	s := grpc.NewServer(append(base, opts...)...)

	service.RegisterVaultServer(s, service.NewVaultService(application))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(service.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	// grpcurl 调试用
	reflection.Register(s)
	return s, hs
}
