package transport

import (
	"net/http"
	"time"

	"github.com/lk2023060901/formpack-go/pkg/log"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultRetrySleep  = 200 * time.Millisecond
)

// ClientConfig 描述发送端的配置。
//
// 说明：
//   - Timeout 为单次尝试的超时时间，重试之间的等待不计入其中；
//   - ContentEncoding 为空时不压缩请求体；
//   - Logger 为空时使用 ctx 中的日志实例。
type ClientConfig struct {
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxAttempts     uint          `json:"maxAttempts" mapstructure:"maxAttempts"`
	RetrySleep      time.Duration `json:"retrySleep" mapstructure:"retrySleep"`
	ContentEncoding string        `json:"contentEncoding" mapstructure:"contentEncoding"`

	// Header 为每次请求附加的请求头。
	Header http.Header `json:"-" mapstructure:"-"`

	HTTPClient *http.Client `json:"-" mapstructure:"-"`
	Logger     *log.MLogger `json:"-" mapstructure:"-"`
}

// ClientOption 为 ClientConfig 的可选配置项。
type ClientOption func(*ClientConfig)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithMaxAttempts 设置包括首次在内的最大尝试次数。
func WithMaxAttempts(n uint) ClientOption {
	return func(c *ClientConfig) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithRetrySleep(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if d > 0 {
			c.RetrySleep = d
		}
	}
}

// WithContentEncoding 设置请求体压缩方式：gzip 或 zstd。
func WithContentEncoding(encoding string) ClientOption {
	return func(c *ClientConfig) {
		c.ContentEncoding = encoding
	}
}

func WithHeader(key, value string) ClientOption {
	return func(c *ClientConfig) {
		if c.Header == nil {
			c.Header = http.Header{}
		}
		c.Header.Add(key, value)
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *ClientConfig) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

func WithClientLogger(l *log.MLogger) ClientOption {
	return func(c *ClientConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// fillDefaults 为未设置的字段填充默认值。
func (c *ClientConfig) fillDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = defaultRetrySleep
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}
