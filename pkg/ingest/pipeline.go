// Package ingest 是流水线的入口：单次消费字节源，并发分析，过 gate，成对提交
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"vaultgate/pkg/analyzer"
	"vaultgate/pkg/commit"
	"vaultgate/pkg/core"
	"vaultgate/pkg/errs"
	"vaultgate/pkg/gate"
	"vaultgate/pkg/ledger"
	"vaultgate/pkg/logger"
	"vaultgate/pkg/metrics"
	"vaultgate/pkg/mux"
	"vaultgate/pkg/source"
	"vaultgate/pkg/types"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxBytes   = 1 << 30
	DefaultPresignTTL = 15 * time.Minute
)

// Config 是实例级策略；请求级的开关见 Options
type Config struct {
	// Algorithms[0] 是 primary：决定 id，并与期望摘要比较
	Algorithms types.AlgorithmSet
	// ScanRequired=false 时扫描仍会执行，但引擎不可用不会导致拒绝
	ScanRequired bool
	MaxBytes     int64
	SpoolDir     string
	ChunkSize    int
	QueueDepth   int
	CacheTTL     time.Duration
	PresignTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Algorithms:   types.AlgorithmSet{types.SHA256},
		ScanRequired: true,
		MaxBytes:     DefaultMaxBytes,
		ChunkSize:    mux.DefaultChunkSize,
		QueueDepth:   mux.DefaultQueueDepth,
		PresignTTL:   DefaultPresignTTL,
	}
}

// MetadataCache 是读路径上的 cache-aside 层 (见 pkg/storage/cache)
type MetadataCache interface {
	Get(ctx context.Context, id string) (core.ContentIdentity, bool, error)
	Set(ctx context.Context, id string, ident core.ContentIdentity, ttl time.Duration) error
}

// Recorder 记录每一次 gate 决定 (见 pkg/ledger)
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) (string, error)
}

// Options 是单次请求的开关
type Options struct {
	// ExpectedHash 是调用方声称的 primary 摘要 (hex)，为空则不校验
	ExpectedHash string
	// SkipScan 显式跳过恶意软件扫描
	SkipScan bool
	// SkipTypeSniff 不运行类型嗅探 (URL 导入路径)
	SkipTypeSniff bool
	// ExtraAlgorithms 追加到实例的算法集合之后，永远不会替换 primary
	ExtraAlgorithms []types.Algorithm
}

// Result 是成功 ingest 的结果
type Result struct {
	ID           string
	Identity     core.ContentIdentity
	Verdict      *analyzer.Verdict
	Deduplicated bool
}

type Option func(*Pipeline)

func WithConfig(cfg Config) Option { return func(p *Pipeline) { p.cfg = cfg } }

func WithSniffer(a analyzer.Analyzer) Option { return func(p *Pipeline) { p.sniffer = a } }

func WithScanner(a analyzer.Analyzer) Option { return func(p *Pipeline) { p.scanner = a } }

func WithCache(c MetadataCache) Option { return func(p *Pipeline) { p.cache = c } }

func WithLedger(r Recorder) Option { return func(p *Pipeline) { p.ledger = r } }

func WithMetrics(m metrics.Sink) Option { return func(p *Pipeline) { p.metrics = metrics.Safe(m) } }

// Pipeline 持有长生命周期、可并发共享的协作者；每次调用之间没有共享的可变状态
type Pipeline struct {
	committer *commit.Committer
	sniffer   analyzer.Analyzer
	scanner   analyzer.Analyzer
	cache     MetadataCache
	ledger    Recorder
	metrics   metrics.Sink
	cfg       Config
}

func New(committer *commit.Committer, opts ...Option) *Pipeline {
	p := &Pipeline{
		committer: committer,
		metrics:   metrics.Noop{},
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.cfg.Algorithms) == 0 {
		p.cfg.Algorithms = types.AlgorithmSet{types.SHA256}
	}
	if p.cfg.PresignTTL <= 0 {
		p.cfg.PresignTTL = DefaultPresignTTL
	}
	return p
}

func (p *Pipeline) Config() Config { return p.cfg }

// Ingest 消费 src 恰好一次：
//
//	1. 字节流经 mux 扇出给 HashComputer / TypeSniffer / MalwareScanner 和一个落盘分支
//	2. 所有分支都 settle 之后，gate 只评估一次
//	3. 只有 ACCEPT 才会提交；提交从落盘文件读取
//
// src 在返回前总是被关闭
func (p *Pipeline) Ingest(ctx context.Context, src *source.ByteSource, opts Options) (Result, error) {
	if src == nil {
		return Result{}, errs.New(errs.InvalidRequest, "nil byte source")
	}
	defer src.Close()

	log := logger.FromContext(ctx).With(slog.String("origin", string(src.Origin())))

	// 1. 请求级校验，全部发生在任何 I/O 之前
	algs := p.cfg.Algorithms.With(opts.ExtraAlgorithms...)
	hasher, err := analyzer.NewHashComputer(algs)
	if err != nil {
		return Result{}, errs.Wrap(errs.InvalidRequest, err, "hash algorithms")
	}
	var expected types.Hash
	if opts.ExpectedHash != "" {
		expected, err = types.ParseHash(algs.Primary(), opts.ExpectedHash)
		if err != nil {
			return Result{}, errs.Wrap(errs.InvalidRequest, err, "expected hash")
		}
	}
	if p.cfg.MaxBytes > 0 && src.Size() > p.cfg.MaxBytes {
		return Result{}, p.finish(ctx, src, gate.Outcome{
			Rejection: errs.Newf(errs.PayloadTooLarge, "declared size %d exceeds %d bytes", src.Size(), p.cfg.MaxBytes),
		}, nil)
	}

	r, err := src.Reader()
	if err != nil {
		return Result{}, errs.Wrap(errs.InvalidRequest, err, "byte source")
	}

	// 2. 落盘文件：提交时从这里读，不需要把 payload 放在内存里
	spool, err := os.CreateTemp(p.cfg.SpoolDir, "vaultgate-spool-*")
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, err, "create spool file")
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	analyzers := []analyzer.Analyzer{hasher}
	if p.sniffer != nil && !opts.SkipTypeSniff {
		analyzers = append(analyzers, p.sniffer)
	}
	if p.scanner != nil && !opts.SkipScan {
		analyzers = append(analyzers, p.scanner)
	}

	settled, spoolErr := p.analyze(ctx, newLimitReader(r, p.cfg.MaxBytes), analyzers, spool)
	p.observeScan(ctx, settled.Scan)

	// 3. Gate
	outcome := gate.Evaluate(gate.Policy{
		Primary:      algs.Primary(),
		Expected:     expected,
		SkipScan:     opts.SkipScan || !p.cfg.ScanRequired,
		Name:         src.Name(),
		DeclaredType: src.ContentType(),
	}, settled)
	if !outcome.Accepted {
		res := Result{Verdict: outcome.Verdict}
		return res, p.finish(ctx, src, outcome, settled.Hash)
	}

	// 4. Commit
	ident := *outcome.Identity
	if spoolErr == nil {
		spoolErr = rewind(spool, ident.Size)
	}
	if spoolErr != nil {
		log.Error("spool failed", "id", ident.ID, "error", spoolErr)
		outcome = gate.Outcome{Rejection: errs.Wrap(errs.Internal, spoolErr, "spool payload"), Identity: &ident}
		return Result{}, p.finish(ctx, src, outcome, settled.Hash)
	}

	pair, err := p.committer.Commit(ctx, spool, ident)
	if err != nil {
		outcome = gate.Outcome{Rejection: err, Identity: &ident, Verdict: outcome.Verdict}
		return Result{}, p.finish(ctx, src, outcome, settled.Hash)
	}

	ident = pair.Identity
	outcome.Identity = &ident
	res := Result{ID: pair.ID, Identity: ident, Verdict: outcome.Verdict, Deduplicated: pair.Deduplicated}
	p.record(ctx, src, outcome, settled.Hash, pair.Deduplicated)
	p.metrics.IngestOutcome(ctx, "OK")
	log.Info("ingest accepted",
		"id", ident.ID,
		"size", ident.Size,
		"type", ident.DeclaredType,
		"dedup", pair.Deduplicated,
	)
	return res, nil
}

// analyze 驱动 mux 和全部分支，直到每个分支都 settle
// 分支失败以数据形式返回，不会中断兄弟分支
func (p *Pipeline) analyze(ctx context.Context, r io.Reader, analyzers []analyzer.Analyzer, spool io.Writer) (analyzer.Settled, error) {
	m, err := mux.New(r, len(analyzers)+1,
		mux.WithChunkSize(p.cfg.ChunkSize),
		mux.WithQueueDepth(p.cfg.QueueDepth),
	)
	if err != nil {
		return analyzer.Settled{Hash: &analyzer.Result{Kind: analyzer.KindHash, Err: errs.Wrap(errs.Internal, err, "mux")}}, nil
	}

	results := make([]analyzer.Result, len(analyzers))
	var spoolErr error

	var g errgroup.Group
	g.Go(func() error {
		// 上游错误已经通过分支传递给每个消费者
		_, _ = m.Run(ctx)
		return nil
	})
	for i, a := range analyzers {
		b := m.Branch(i)
		g.Go(func() error {
			defer b.Close()
			results[i] = a.Analyze(ctx, b)
			results[i].Kind = a.Kind()
			return nil
		})
	}
	spoolBranch := m.Branch(len(analyzers))
	g.Go(func() error {
		defer spoolBranch.Close()
		_, spoolErr = io.Copy(spool, spoolBranch)
		return nil
	})
	_ = g.Wait()

	return analyzer.Collect(results...), spoolErr
}

func rewind(f *os.File, size int64) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() != size {
		return fmt.Errorf("spooled %d bytes, hashed %d", st.Size(), size)
	}
	_, err = f.Seek(0, io.SeekStart)
	return err
}

func (p *Pipeline) observeScan(ctx context.Context, scan *analyzer.Result) {
	if scan == nil {
		return
	}
	p.metrics.ScanDuration(ctx, scan.Duration)
	switch {
	case !scan.OK():
		p.metrics.ScanVerdict(ctx, "unavailable")
	case scan.Verdict != nil && scan.Verdict.Infected:
		p.metrics.ScanVerdict(ctx, "infected")
	default:
		p.metrics.ScanVerdict(ctx, "clean")
	}
}

// finish 处理所有终止失败：在检测点记一次日志，写账本，返回原始错误
func (p *Pipeline) finish(ctx context.Context, src *source.ByteSource, o gate.Outcome, hash *analyzer.Result) error {
	kind := errs.KindOf(o.Rejection)
	if kind == errs.HashMismatch {
		p.metrics.HashMismatch(ctx)
	}
	p.metrics.IngestOutcome(ctx, kind.Code())
	p.record(ctx, src, o, hash, false)

	// 提交失败已经在 committer 里记录过
	if kind != errs.StorageCommitFailure {
		attrs := []any{"code", kind.Code(), "error", o.Rejection}
		if e, ok := errs.As(o.Rejection); ok && len(e.Signatures) > 0 {
			attrs = append(attrs, "signatures", e.Signatures)
		}
		logger.FromContext(ctx).Warn("ingest rejected", attrs...)
	}
	return o.Rejection
}

// record 写账本；失败只记日志
func (p *Pipeline) record(ctx context.Context, src *source.ByteSource, o gate.Outcome, hash *analyzer.Result, dedup bool) {
	if p.ledger == nil {
		return
	}
	e := ledger.Entry{
		Code:         "OK",
		Accepted:     o.Rejection == nil,
		Deduplicated: dedup,
		Origin:       string(src.Origin()),
		Name:         core.SanitizeName(src.Name()),
		ContentType:  core.NormalizeMime(src.ContentType()),
		Size:         src.Size(),
		At:           time.Now(),
	}
	if o.Rejection != nil {
		e.Code = errs.KindOf(o.Rejection).Code()
		if ex, ok := errs.As(o.Rejection); ok {
			e.Signatures = ex.Signatures
		}
	}
	if hash != nil && hash.OK() {
		e.Size = hash.Size
		e.Hashes = make(map[types.Algorithm]string, len(hash.Digests))
		for a, h := range hash.Digests {
			e.Hashes[a] = h.String()
		}
		e.ContentID = hash.Digests[p.cfg.Algorithms.Primary()].String()
	}
	if o.Identity != nil {
		e.ContentID = o.Identity.ID
		e.Name = o.Identity.Name
		e.ContentType = o.Identity.DeclaredType
	}
	if o.Verdict != nil {
		e.EngineVersion = o.Verdict.EngineVersion
	}
	if _, err := p.ledger.Record(ctx, e); err != nil {
		logger.FromContext(ctx).Warn("ledger write failed", "code", e.Code, "error", err)
	}
}

// RetrieveMetadata 走 cache-aside：命中直接返回；未命中读存储，再尽力回填
// 缓存的任何故障都只会多一次存储读取，不会改变结果
func (p *Pipeline) RetrieveMetadata(ctx context.Context, id string) (core.ContentIdentity, error) {
	if err := commit.ValidateID(id); err != nil {
		return core.ContentIdentity{}, err
	}
	log := logger.FromContext(ctx)

	if p.cache != nil {
		ident, hit, err := p.cache.Get(ctx, id)
		switch {
		case err != nil:
			log.Warn("metadata cache read failed", "id", id, "error", err)
		case hit:
			return ident, nil
		}
	}

	ident, err := p.committer.GetMetadata(ctx, id)
	if err != nil {
		return core.ContentIdentity{}, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, id, ident, p.cfg.CacheTTL); err != nil {
			log.Warn("metadata cache write failed", "id", id, "error", err)
		}
	}
	return ident, nil
}

// RetrievePayloadURL 确认整对对象存在后签发限时下载链接
func (p *Pipeline) RetrievePayloadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = p.cfg.PresignTTL
	}
	return p.committer.PresignPayload(ctx, id, ttl)
}
