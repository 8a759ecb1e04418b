// Package errs 定义流水线统一的错误分类 (tagged variant)
// 每一层都通过 Kind 显式匹配，而不是靠字符串或类型断言猜测
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota

	// 完整性 / 安全类：总是拒绝，可以把细节返回给调用方
	HashMismatch
	InfectedFile

	// 基础设施降级
	ScanUnavailable
	TypeUndetectable // 仅提示，不会导致拒绝

	StorageCommitFailure
	StorageRollbackFailure // 只记日志，永远不会覆盖原始错误

	RemoteFetchFailure
	RemoteFetchTimeout
	NotFound

	InvalidLocator
	InvalidRequest
	PayloadTooLarge
	SourceRead
	Internal
)

var kindInfo = map[Kind]struct {
	code   string
	public bool
	msg    string // 对外的通用描述
}{
	KindUnknown:            {"INTERNAL", false, "internal error"},
	HashMismatch:           {"HASH_MISMATCH", true, "content hash does not match the expected value"},
	InfectedFile:           {"INFECTED_FILE", true, "content rejected by malware scan"},
	ScanUnavailable:        {"SCAN_UNAVAILABLE", false, "malware scanning is temporarily unavailable"},
	TypeUndetectable:       {"TYPE_UNDETECTABLE", true, "content type could not be detected"},
	StorageCommitFailure:   {"STORAGE_FAILURE", false, "storage operation failed"},
	StorageRollbackFailure: {"STORAGE_FAILURE", false, "storage operation failed"},
	RemoteFetchFailure:     {"REMOTE_FETCH_FAILED", false, "remote content could not be fetched"},
	RemoteFetchTimeout:     {"REMOTE_FETCH_TIMEOUT", false, "remote fetch timed out"},
	NotFound:               {"NOT_FOUND", true, "object not found"},
	InvalidLocator:         {"INVALID_LOCATOR", true, "locator is not a valid http(s) URL"},
	InvalidRequest:         {"INVALID_REQUEST", true, "invalid request"},
	PayloadTooLarge:        {"PAYLOAD_TOO_LARGE", true, "payload exceeds the size limit"},
	SourceRead:             {"SOURCE_READ_FAILED", false, "content stream could not be read"},
	Internal:               {"INTERNAL", false, "internal error"},
}

// Code 返回稳定的机器可读错误码
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return "INTERNAL"
}

// Public 表示该类错误的消息是否可以直接暴露给调用方
func (k Kind) Public() bool { return kindInfo[k].public }

func (k Kind) String() string { return k.Code() }

// Error 是流水线中所有终止性失败的载体
type Error struct {
	Kind Kind
	Msg  string
	// Signatures 只在 InfectedFile 时有值
	Signatures []string
	Err        error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 保留底层原因；err 为 nil 时返回 nil
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Infected(signatures []string) *Error {
	return &Error{
		Kind:       InfectedFile,
		Msg:        fmt.Sprintf("malware detected: %v", signatures),
		Signatures: append([]string(nil), signatures...),
	}
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind.Code(), e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Msg)
	default:
		return e.Kind.Code()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, errs.New(errs.NotFound, "")) 按 Kind 匹配
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Code() string { return e.Kind.Code() }

// PublicMessage 返回可以给调用方看的文本：
// 完整性/安全类带上细节，基础设施类只给通用描述，避免泄露内部错误
func (e *Error) PublicMessage() string {
	if !e.Kind.Public() {
		return kindInfo[e.Kind].msg
	}
	if e.Msg != "" {
		return e.Msg
	}
	return kindInfo[e.Kind].msg
}

// KindOf 提取错误链上第一个 *Error 的 Kind
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// As 是 errors.As 的快捷方式
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindFromCode 是 Code 的逆映射，供客户端从传输层错误恢复 Kind
// 多个 Kind 共用一个 code 时返回其中最先定义的那个
func KindFromCode(code string) Kind {
	best := KindUnknown
	for k, info := range kindInfo {
		if info.code != code || k == KindUnknown {
			continue
		}
		if best == KindUnknown || k < best {
			best = k
		}
	}
	if best == KindUnknown {
		return Internal
	}
	return best
}
