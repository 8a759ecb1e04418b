package analyzer

import (
	"context"
	"io"
	"time"

	"vaultgate/pkg/errs"
)

// Engine 是外部恶意软件扫描引擎的能力接口
// 实现见 pkg/analyzer/scan (clamd 网络连接 / 本地进程)
type Engine interface {
	// Ping 是与单次扫描分离的就绪检查
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Scan(ctx context.Context, r io.Reader) (Verdict, error)
}

const DefaultScanTimeout = 60 * time.Second

// MalwareScanner 把分支交给扫描引擎
// 引擎不可达或超时是 ScanUnavailable，与“检测到病毒”是不同的失败类别
type MalwareScanner struct {
	engine  Engine
	timeout time.Duration
	version string
}

func NewMalwareScanner(engine Engine, timeout time.Duration) *MalwareScanner {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return &MalwareScanner{engine: engine, timeout: timeout}
}

// WithEngineVersion 设置启动时探测到的引擎版本，引擎自己没有报告版本时写入结论
func (s *MalwareScanner) WithEngineVersion(v string) *MalwareScanner {
	s.version = v
	return s
}

func (s *MalwareScanner) Kind() Kind { return KindScan }

func (s *MalwareScanner) Analyze(ctx context.Context, r io.Reader) Result {
	start := time.Now()
	if s.engine == nil {
		return Result{Kind: KindScan, Err: errs.New(errs.ScanUnavailable, "no scanning engine configured")}
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	v, err := s.engine.Scan(scanCtx, r)
	if err != nil {
		if e, ok := errs.As(err); ok && e.Kind != errs.ScanUnavailable {
			// 上游读取失败等，保持原类别
			return Result{Kind: KindScan, Err: err, Duration: time.Since(start)}
		}
		return Result{
			Kind:     KindScan,
			Err:      errs.Wrap(errs.ScanUnavailable, err, "scan engine unavailable"),
			Duration: time.Since(start),
		}
	}
	if v.EngineVersion == "" {
		v.EngineVersion = s.version
	}
	return Result{Kind: KindScan, Verdict: &v, Duration: time.Since(start)}
}
