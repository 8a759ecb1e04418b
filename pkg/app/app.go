// Package app 是整个服务的依赖容器
// 所有长生命周期的客户端 (存储、缓存、扫描、数据库) 都在启动时显式构造一次，然后注入
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vaultgate/pkg/analyzer"
	"vaultgate/pkg/analyzer/scan"
	"vaultgate/pkg/commit"
	"vaultgate/pkg/config"
	"vaultgate/pkg/ingest"
	"vaultgate/pkg/ledger"
	"vaultgate/pkg/logger"
	"vaultgate/pkg/metrics"
	"vaultgate/pkg/presign"
	"vaultgate/pkg/source"
	"vaultgate/pkg/storage"
	"vaultgate/pkg/storage/cache"
	"vaultgate/pkg/storage/disk"
	"vaultgate/pkg/storage/s3"

	"github.com/cenkalti/backoff/v5"
)

type App struct {
	Config    *config.Config
	Store     storage.Store
	Committer *commit.Committer
	Engine    analyzer.Engine // nil 表示 scanner.mode=none
	Cache     *cache.MetadataCache
	Ledger    *ledger.DB
	Metrics   metrics.Sink
	Pipeline  *ingest.Pipeline
	Presign   *presign.Orchestrator
}

// New 组装整台机器
// 存储初始化失败会按固定间隔重试有限次数，全部失败则启动失败
// 扫描引擎、缓存的问题只记日志，不阻止启动
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)
	a := &App{Config: cfg}

	// 1. 指标
	m, err := metrics.NewOTel(nil)
	if err != nil {
		log.Warn("metrics disabled", "error", err)
		a.Metrics = metrics.Noop{}
	} else {
		a.Metrics = metrics.Safe(m)
	}

	// 2. 存储
	a.Store, err = initStoreWithRetry(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Committer = commit.New(a.Store, commit.WithMetrics(a.Metrics))

	// 3. 扫描引擎
	a.Engine = initEngine(cfg.Scanner)
	var scanner *analyzer.MalwareScanner
	if a.Engine != nil {
		scanner = analyzer.NewMalwareScanner(a.Engine, cfg.Scanner.Timeout)
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.Engine.Ping(probeCtx); err != nil {
			log.Warn("scan engine not ready", "mode", cfg.Scanner.Mode, "error", err)
		} else if v, err := a.Engine.Version(probeCtx); err == nil {
			scanner.WithEngineVersion(v)
			log.Info("scan engine ready", "mode", cfg.Scanner.Mode, "version", v)
		}
		cancel()
	}

	// 4. 缓存 (可选)
	if cfg.Cache.RedisURL != "" {
		c, err := cache.New(ctx, cache.Config{RedisURL: cfg.Cache.RedisURL, TTL: cfg.Cache.TTL})
		if err != nil {
			log.Warn("metadata cache disabled", "error", err)
		} else {
			a.Cache = c
		}
	}

	// 5. 账本 (可选)
	var recorder ingest.Recorder
	if cfg.Database.Driver != "" {
		db, err := ledger.Open(ctx, ledger.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init ledger: %w", err)
		}
		a.Ledger = db
		recorder = ledger.NewRepository(db)
	}

	// 6. 流水线
	algs, err := cfg.Hashing.Algorithms()
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := []ingest.Option{
		ingest.WithConfig(ingest.Config{
			Algorithms:   algs,
			ScanRequired: cfg.Scanner.Required,
			MaxBytes:     cfg.Ingest.MaxBytes,
			SpoolDir:     cfg.Ingest.SpoolDir,
			ChunkSize:    cfg.Ingest.ChunkSize,
			QueueDepth:   cfg.Ingest.QueueDepth,
			CacheTTL:     cfg.Cache.TTL,
			PresignTTL:   cfg.Presign.TTL,
		}),
		ingest.WithSniffer(analyzer.NewTypeSniffer(analyzer.MimeDetector{}, cfg.Ingest.SniffBytes)),
		ingest.WithMetrics(a.Metrics),
	}
	if scanner != nil {
		opts = append(opts, ingest.WithScanner(scanner))
	}
	if a.Cache != nil {
		opts = append(opts, ingest.WithCache(a.Cache))
	}
	if recorder != nil {
		opts = append(opts, ingest.WithLedger(recorder))
	}
	a.Pipeline = ingest.New(a.Committer, opts...)
	a.Presign = presign.New(a.Pipeline, source.NewFetcher(&http.Client{}, cfg.Fetch.Timeout))

	return a, nil
}

// Close 释放外部连接，可重复调用
func (a *App) Close() error {
	var errList []error
	if a.Cache != nil {
		errList = append(errList, a.Cache.Close())
		a.Cache = nil
	}
	if a.Ledger != nil {
		errList = append(errList, a.Ledger.Close())
		a.Ledger = nil
	}
	return errors.Join(errList...)
}

func initEngine(cfg config.ScannerConfig) analyzer.Engine {
	switch cfg.Mode {
	case "clamd":
		return scan.NewClamd(cfg.Address)
	case "command":
		return scan.NewCommand(cfg.Command)
	default:
		return nil
	}
}

// initStoreWithRetry 固定间隔重试；配置错误不会重试
func initStoreWithRetry(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	attempts := cfg.InitAttempts
	if attempts == 0 {
		attempts = 1
	}
	log := logger.FromContext(ctx)

	store, err := backoff.Retry(ctx, func() (storage.Store, error) {
		s, err := initStore(ctx, cfg)
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.InitBackoff)),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("storage init failed, retrying", "type", cfg.Type, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	return store, nil
}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

func initStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "disk", "":
		if cfg.Path == "" {
			return nil, &configError{"storage path not set"}
		}
		return disk.NewAdapter(cfg.Path)
	case "s3":
		if cfg.Bucket == "" {
			return nil, &configError{"s3 bucket is required"}
		}
		return s3.NewAdapter(ctx, s3.Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			Bucket:          cfg.Bucket,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	default:
		return nil, &configError{fmt.Sprintf("unsupported storage type %q", cfg.Type)}
	}
}
