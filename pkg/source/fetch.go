package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"vaultgate/pkg/errs"
	"vaultgate/pkg/logger"

	"github.com/go-playground/validator/v10"
)

const DefaultFetchTimeout = 30 * time.Second

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateLocator 在任何网络 I/O 之前做快速拒绝
func ValidateLocator(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if err := validate.Var(raw, "required,http_url"); err != nil {
		return nil, errs.Wrap(errs.InvalidLocator, err, fmt.Sprintf("invalid locator %q", raw))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidLocator, err, fmt.Sprintf("invalid locator %q", raw))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.Newf(errs.InvalidLocator, "invalid locator %q", raw)
	}
	return u, nil
}

// Fetcher 把远程 URL 解析成 ByteSource
// timeout 覆盖整个下载过程 (连接 + body)，超时会显式取消进行中的请求
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

func NewFetcher(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{client: client, timeout: timeout}
}

// Fetch 发起 GET；返回的 ByteSource 关闭时会取消请求
func (f *Fetcher) Fetch(ctx context.Context, locator string, timeout time.Duration) (*ByteSource, error) {
	u, err := ValidateLocator(locator)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = f.timeout
	}
	log := logger.FromContext(ctx).With(slog.String("url", redact(u)))

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.InvalidLocator, err, "build request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		ferr := classify(fetchCtx, err)
		log.Warn("remote fetch failed", slog.String("code", errs.KindOf(ferr).Code()), slog.Any("err", err))
		return nil, ferr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		ferr := errs.Newf(errs.RemoteFetchFailure, "remote responded %s", resp.Status)
		log.Warn("remote fetch failed", slog.Int("status", resp.StatusCode))
		return nil, ferr
	}

	body := &fetchBody{rc: resp.Body, ctx: fetchCtx, cancel: cancel}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}
	return newSource(body, resp.ContentLength, OriginRemote, name, resp.Header.Get("Content-Type")), nil
}

// classify 把底层错误归类为超时或普通失败，保留原始原因
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(errs.RemoteFetchTimeout, err, "remote fetch timed out")
	}
	return errs.Wrap(errs.RemoteFetchFailure, err, "remote fetch failed")
}

// fetchBody 负责把 body 读取错误翻译成 RemoteFetch* 错误
type fetchBody struct {
	rc     io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
}

func (b *fetchBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, classify(b.ctx, err)
	}
	return n, err
}

func (b *fetchBody) Close() error {
	defer b.cancel()
	return b.rc.Close()
}

// redact 去掉 query 和用户信息，预签名 URL 的签名不能进日志
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}
