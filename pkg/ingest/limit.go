package ingest

import (
	"io"

	"vaultgate/pkg/errs"
)

// limitReader 与 io.LimitReader 不同：超过上限时返回 PayloadTooLarge，而不是静默截断
// 截断会让摘要对应一段不完整的内容
type limitReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func newLimitReader(r io.Reader, limit int64) io.Reader {
	if limit <= 0 {
		return r
	}
	return &limitReader{r: r, limit: limit}
}

func (l *limitReader) Read(p []byte) (int, error) {
	// 多读一个字节，才能区分“恰好等于上限”和“超过上限”
	if rest := l.limit - l.read + 1; int64(len(p)) > rest {
		p = p[:rest]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return 0, errs.Newf(errs.PayloadTooLarge, "payload exceeds %d bytes", l.limit)
	}
	return n, err
}
