package analyzer

import (
	"context"
	"errors"
	"io"
	"time"

	"vaultgate/pkg/core"
	"vaultgate/pkg/errs"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultSniffBytes 与 mimetype 默认读取上限一致
const DefaultSniffBytes = 3072

// Detector 是内容类型嗅探引擎
type Detector interface {
	// Detect 只看前缀 (magic bytes)；ok=false 表示没有签名匹配
	Detect(prefix []byte) (info TypeInfo, ok bool)
}

// MimeDetector 基于 gabriel-vasile/mimetype
type MimeDetector struct{}

func (MimeDetector) Detect(prefix []byte) (TypeInfo, bool) {
	if len(prefix) == 0 {
		return TypeInfo{}, false
	}
	m := mimetype.Detect(prefix)
	// 根节点 application/octet-stream 意味着没有任何签名命中
	if m == nil || m.Is(core.DefaultContentType) {
		return TypeInfo{}, false
	}
	return TypeInfo{Mime: core.NormalizeMime(m.String()), Extension: m.Extension()}, true
}

// TypeSniffer 只读取有限长度的前缀，绝不相信调用方声明的扩展名
type TypeSniffer struct {
	detector Detector
	limit    int
}

func NewTypeSniffer(d Detector, limit int) *TypeSniffer {
	if d == nil {
		d = MimeDetector{}
	}
	if limit <= 0 {
		limit = DefaultSniffBytes
	}
	return &TypeSniffer{detector: d, limit: limit}
}

func (s *TypeSniffer) Kind() Kind { return KindType }

// Analyze 读满前缀就返回；调用方负责关闭分支 (提前关闭不会影响其他分支)
func (s *TypeSniffer) Analyze(ctx context.Context, r io.Reader) Result {
	start := time.Now()
	buf := make([]byte, s.limit)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		res := Failed(KindType, err, errs.SourceRead)
		res.Duration = time.Since(start)
		return res
	}

	info, ok := s.detector.Detect(buf[:n])
	if !ok {
		return Result{
			Kind:     KindType,
			Err:      errs.New(errs.TypeUndetectable, "no content signature matched"),
			Duration: time.Since(start),
		}
	}
	return Result{Kind: KindType, Type: &info, Duration: time.Since(start)}
}
