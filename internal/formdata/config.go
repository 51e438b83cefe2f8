package formdata

import (
	"os"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding/htmlindex"

	zlog "github.com/lk2023060901/formpack-go/pkg/log"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

const (
	// DefaultMaxFileSize 为所有文件内容累计的默认上限（200 MiB）。
	DefaultMaxFileSize int64 = 200 << 20
	// DefaultMaxFieldsSize 为所有普通字段累计的默认上限（20 MiB）。
	DefaultMaxFieldsSize int64 = 20 << 20

	defaultEncoding = "utf-8"
)

// 支持的摘要算法名称。
const (
	HashNone   = ""
	HashMD5    = "md5"
	HashSHA1   = "sha1"
	HashSHA256 = "sha256"
	HashBLAKE3 = "blake3"
)

// Config 描述一次表单解析的行为。
//
// 说明：
//   - MaxFileSize 统计本次请求中所有文件的字节总数，MaxFieldsSize 统计所有普通字段的字节总数；
//   - 暂存文件写入 Fs 上的 UploadDir 目录，调用方负责在使用完毕后清理；
//   - Encoding 仅作用于普通字段，文件内容原样落盘。
type Config struct {
	Encoding       string
	Hash           string
	UploadDir      string
	KeepExtensions bool

	MaxFileSize   int64
	MaxFieldsSize int64

	// Fs 为暂存文件所在的文件系统，为空时使用本地文件系统。
	Fs afero.Fs

	// Logger 为没有请求级 Logger 时使用的日志实例。
	Logger *zlog.MLogger
}

// Option 为 Config 的可选配置项。
type Option func(*Config)

// WithEncoding 设置普通字段的字符集，名称遵循 WHATWG 编码标准（如 utf-8、gbk、latin1）。
func WithEncoding(encoding string) Option {
	return func(c *Config) {
		if encoding != "" {
			c.Encoding = encoding
		}
	}
}

// WithHash 设置文件摘要算法，可选 md5、sha1、sha256、blake3，空串表示不计算。
// "true" 等价于 sha1。
func WithHash(hash string) Option {
	return func(c *Config) {
		c.Hash = strings.ToLower(hash)
		if c.Hash == "true" {
			c.Hash = HashSHA1
		}
	}
}

// WithUploadDir 设置暂存目录。
func WithUploadDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.UploadDir = dir
		}
	}
}

// WithKeepExtensions 设置暂存文件名是否保留原始扩展名。
func WithKeepExtensions(keep bool) Option {
	return func(c *Config) {
		c.KeepExtensions = keep
	}
}

// WithMaxFileSize 设置文件内容累计上限，单位字节。
func WithMaxFileSize(n int64) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxFileSize = n
		}
	}
}

// WithMaxFieldsSize 设置普通字段累计上限，单位字节。
func WithMaxFieldsSize(n int64) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxFieldsSize = n
		}
	}
}

// WithFs 设置暂存文件系统，测试中通常传入 afero.NewMemMapFs()。
func WithFs(fs afero.Fs) Option {
	return func(c *Config) {
		if fs != nil {
			c.Fs = fs
		}
	}
}

// WithLogger 注入具名日志实例。
func WithLogger(l *zlog.MLogger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func (c *Config) fillDefaults() {
	if c.Encoding == "" {
		c.Encoding = defaultEncoding
	}
	if c.UploadDir == "" {
		c.UploadDir = os.TempDir()
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.MaxFieldsSize <= 0 {
		c.MaxFieldsSize = DefaultMaxFieldsSize
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
}

func (c *Config) validate() error {
	switch c.Hash {
	case HashNone, HashMD5, HashSHA1, HashSHA256, HashBLAKE3:
	default:
		return merr.WrapErrParameterInvalid("md5|sha1|sha256|blake3", c.Hash, "unsupported hash algorithm")
	}
	if _, err := htmlindex.Get(c.Encoding); err != nil {
		return merr.WrapErrParameterInvalidMsg("unsupported encoding %q", c.Encoding)
	}
	return nil
}
