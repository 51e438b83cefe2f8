package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/formpack-go/internal/compressor"
	"github.com/lk2023060901/formpack-go/pkg/formpack"
	"github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
	"github.com/lk2023060901/formpack-go/pkg/util/retry"
)

// Client 把 Envelope 以流式请求体 POST 到接收端。
type Client struct {
	cfg        ClientConfig
	compressor compressor.Compressor
}

// NewClient 根据配置创建 Client，ContentEncoding 不受支持时返回 merr.ErrParameterInvalid。
func NewClient(cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.fillDefaults()

	c, err := compressor.ByEncoding(cfg.ContentEncoding)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, compressor: c}, nil
}

// Config 返回填充默认值之后的配置。
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// Send 发送 env。网络错误与 5xx 响应会按指数退避重试，每次重试都会重新生成请求体。
//
// 非 5xx 的响应原样返回，调用方负责关闭响应体。
// 重试耗尽时返回 merr.ErrTransportSend。
func (c *Client) Send(ctx context.Context, url string, env *formpack.Envelope) (*http.Response, error) {
	logger := c.logger(ctx).With(zap.String("url", url))

	var resp *http.Response
	err := retry.Do(ctx, func() error {
		r, err := c.send(ctx, url, env)
		if err != nil {
			return err
		}
		resp = r
		return nil
	},
		retry.Attempts(c.cfg.MaxAttempts),
		retry.Sleep(c.cfg.RetrySleep),
		retry.RetryErr(merr.IsRetryableErr),
	)
	if err != nil {
		logger.Warn("send envelope failed", zap.Error(err))
		return nil, err
	}
	logger.Debug("envelope sent",
		zap.Int("status", resp.StatusCode),
		zap.Int("parts", len(env.Parts)))
	return resp, nil
}

func (c *Client) send(ctx context.Context, url string, env *formpack.Envelope) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		cancel()
		return nil, retry.Unrecoverable(merr.WrapErrParameterInvalidMsg("invalid url %q: %v", url, err))
	}
	for key, values := range c.cfg.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", env.ContentType())
	if encoding := c.compressor.Encoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	var g errgroup.Group
	g.Go(func() error {
		err := c.writeBody(pw, env)
		pw.CloseWithError(err)
		return err
	})

	resp, err := c.cfg.HTTPClient.Do(req)
	// 接收端可能在读完请求体之前就已响应，关闭读端让写协程退出。
	pr.CloseWithError(io.ErrClosedPipe)
	werr := g.Wait()
	if err != nil {
		cancel()
		if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
			// 请求体本身无法生成，重试也没有意义。
			return nil, retry.Unrecoverable(werr)
		}
		return nil, merr.WrapErrTransportSend(url, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		cancel()
		return nil, merr.WrapErrTransportSend(url, fmt.Errorf("server responded %s", resp.Status))
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) writeBody(w io.Writer, env *formpack.Envelope) error {
	zw, err := c.compressor.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := env.WriteTo(zw); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (c *Client) logger(ctx context.Context) *log.MLogger {
	if c.cfg.Logger != nil {
		return c.cfg.Logger
	}
	return log.Ctx(ctx).With(log.FieldComponent("formpack-client"))
}

// cancelReadCloser 在响应体关闭时释放单次尝试的超时上下文。
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelReadCloser) Close() error {
	defer r.cancel()
	return r.ReadCloser.Close()
}
