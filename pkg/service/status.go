package service

import (
	"context"
	"errors"
	"strings"

	"vaultgate/pkg/errs"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var grpcCodes = map[errs.Kind]codes.Code{
	errs.HashMismatch:           codes.FailedPrecondition,
	errs.InfectedFile:           codes.PermissionDenied,
	errs.ScanUnavailable:        codes.Unavailable,
	errs.TypeUndetectable:       codes.InvalidArgument,
	errs.StorageCommitFailure:   codes.Unavailable,
	errs.StorageRollbackFailure: codes.Unavailable,
	errs.RemoteFetchFailure:     codes.Unavailable,
	errs.RemoteFetchTimeout:     codes.DeadlineExceeded,
	errs.NotFound:               codes.NotFound,
	errs.InvalidLocator:         codes.InvalidArgument,
	errs.InvalidRequest:         codes.InvalidArgument,
	errs.PayloadTooLarge:        codes.ResourceExhausted,
	errs.SourceRead:             codes.Aborted,
	errs.Internal:               codes.Internal,
}

// ToStatus 把领域错误转换为 gRPC status
// 消息只包含可公开的部分；机器码和病毒签名放在 details 里
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	e, ok := errs.As(err)
	if !ok {
		// 只有没有分类的错误才按 context 错误映射；消息固定，不回显内部错误链
		switch {
		case errors.Is(err, context.Canceled):
			return status.Error(codes.Canceled, "request canceled")
		case errors.Is(err, context.DeadlineExceeded):
			return status.Error(codes.DeadlineExceeded, "deadline exceeded")
		}
		e = &errs.Error{Kind: errs.Internal}
	}
	code, ok := grpcCodes[e.Kind]
	if !ok {
		code = codes.Internal
	}

	st := status.New(code, e.Code()+": "+e.PublicMessage())
	detail := map[string]any{"code": e.Code()}
	if len(e.Signatures) > 0 {
		sigs := make([]any, len(e.Signatures))
		for i, s := range e.Signatures {
			sigs[i] = s
		}
		detail["signatures"] = sigs
	}
	if d, derr := structpb.NewStruct(detail); derr == nil {
		if withDetails, werr := st.WithDetails(d); werr == nil {
			st = withDetails
		}
	}
	return st.Err()
}

// FromStatus 在客户端还原 *errs.Error；非 vaultgate 的 status 原样返回
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		code := s.GetFields()["code"].GetStringValue()
		if code == "" {
			continue
		}
		e := &errs.Error{Kind: errs.KindFromCode(code), Msg: strings.TrimPrefix(st.Message(), code+": ")}
		for _, v := range s.GetFields()["signatures"].GetListValue().GetValues() {
			e.Signatures = append(e.Signatures, v.GetStringValue())
		}
		return e
	}
	return err
}
