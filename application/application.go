package application

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/lk2023060901/formpack-go/pkg/formpack"
	"github.com/lk2023060901/formpack-go/pkg/formpack/transport"
	zlog "github.com/lk2023060901/formpack-go/pkg/log"
	zviper "github.com/lk2023060901/formpack-go/pkg/util/viper"
)

const (
	// EnvPrefix 为配置项环境变量前缀，例如 FORMPACK_SERVER_ENDPOINT。
	EnvPrefix = "FORMPACK"

	configPathEnv     = "FORMPACK_CONFIG_FILE_PATH"
	defaultConfigPath = "./formpack.yaml"
)

// Config 是 formpack 进程的完整配置。
type Config struct {
	Log    zlog.Config            `mapstructure:"log"`
	Server ServerConfig           `mapstructure:"server"`
	Unpack UnpackConfig           `mapstructure:"unpack"`
	Client transport.ClientConfig `mapstructure:"client"`

	// Logging 为按名称创建的模块日志配置。
	Logging map[string]zlog.Config `mapstructure:"logging"`
}

type ServerConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Path        string `mapstructure:"path"`
	MetricsPath string `mapstructure:"metricsPath"`
	MaxBodySize int64  `mapstructure:"maxBodySize"`
}

// UnpackConfig 对应 formpack.Options 中可以写入配置文件的部分。
type UnpackConfig struct {
	UploadDir      string `mapstructure:"uploadDir"`
	Encoding       string `mapstructure:"encoding"`
	Hash           string `mapstructure:"hash"`
	KeepExtensions bool   `mapstructure:"keepExtensions"`
	MaxFileSize    int64  `mapstructure:"maxFileSize"`
	MaxJSONSize    int64  `mapstructure:"maxJSONSize"`
	UseNumber      bool   `mapstructure:"useNumber"`
	MapConcurrency int    `mapstructure:"mapConcurrency"`

	JSONField   string `mapstructure:"jsonField"`
	TokenPrefix string `mapstructure:"tokenPrefix"`
}

// Protocol 返回配置的协议，两项均为空时为默认协议。
func (c UnpackConfig) Protocol() formpack.Protocol {
	return formpack.Protocol{JSONField: c.JSONField, TokenPrefix: c.TokenPrefix}
}

// Options 把配置转换为 formpack 解码选项。
func (c UnpackConfig) Options() []formpack.Option {
	return []formpack.Option{
		formpack.WithUploadDir(c.UploadDir),
		formpack.WithEncoding(c.Encoding),
		formpack.WithHash(c.Hash),
		formpack.WithKeepExtensions(c.KeepExtensions),
		formpack.WithMaxFileSize(c.MaxFileSize),
		formpack.WithMaxJSONSize(c.MaxJSONSize),
		formpack.WithUseNumber(c.UseNumber),
		formpack.WithMapConcurrency(c.MapConcurrency),
		formpack.WithProtocol(c.Protocol()),
	}
}

// defaults 列出所有配置项的默认值，未设置默认值的键无法被环境变量覆盖。
var defaults = map[string]any{
	"log.level":                  "info",
	"log.format":                 "text",
	"log.stdout":                 true,
	"log.file.rootpath":          "",
	"log.file.filename":          "",
	"server.endpoint":            ":8080",
	"server.path":                "/",
	"server.metricsPath":         "/metrics",
	"server.maxBodySize":         int64(0),
	"unpack.uploadDir":           os.TempDir(),
	"unpack.encoding":            "utf-8",
	"unpack.hash":                "",
	"unpack.keepExtensions":      false,
	"unpack.maxFileSize":         int64(200 << 20),
	"unpack.maxJSONSize":         int64(20 << 20),
	"unpack.useNumber":           false,
	"unpack.mapConcurrency":      0,
	"unpack.jsonField":           "",
	"unpack.tokenPrefix":         "",
	"client.timeout":             "30s",
	"client.maxAttempts":         3,
	"client.retrySleep":          "200ms",
	"client.contentEncoding":     "",
}

// Application 持有进程配置并管理公共依赖。
type Application struct {
	viper   *zviper.Config
	cfg     *Config
	loggers map[string]*zlog.MLogger
}

// New creates a new Application instance.
func New() *Application {
	v := zviper.New(EnvPrefix)
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	return &Application{viper: v}
}

// Run 从 os.Args 中解析 --config 并加载配置。
// 配置文件路径优先级：
//  1. 默认：./formpack.yaml（不存在时忽略）
//  2. 环境变量：FORMPACK_CONFIG_FILE_PATH
//  3. 命令行：--config <path> 或 --config=<path>
func (a *Application) Run() error {
	path, err := configPathFromArgs(os.Args[1:])
	if err != nil {
		return err
	}
	return a.Load(path)
}

// BindFlags 把命令行 flag 绑定到配置键，flag 名到配置键的映射由 keys 给出。
// 显式设置的 flag 优先级高于环境变量与配置文件。
func (a *Application) BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := a.viper.Viper().BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

// Load 加载配置文件并初始化日志。configPath 为空时依次尝试环境变量与默认路径。
func (a *Application) Load(configPath string) error {
	path, explicit := resolveConfigPath(configPath)
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			if err := a.viper.LoadFile(path); err != nil {
				return fmt.Errorf("failed to load config file %q: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := a.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	a.cfg = cfg

	return a.initLogging()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *Config {
	return a.cfg
}

// Viper 返回底层配置实例。
func (a *Application) Viper() *zviper.Config {
	return a.viper
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return zlog.With(zlog.FieldModule(name))
}

func resolveConfigPath(flagPath string) (string, bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if envPath := strings.TrimSpace(os.Getenv(configPathEnv)); envPath != "" {
		return envPath, true
	}
	return defaultConfigPath, false
}

func configPathFromArgs(args []string) (string, error) {
	var configPath string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", fmt.Errorf("missing value after --config")
			}
			configPath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			if val := strings.TrimPrefix(arg, "--config="); val != "" {
				configPath = val
			}
		}
	}
	return configPath, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	logger, props, err := zlog.InitLogger(&a.cfg.Log)
	if err != nil {
		return fmt.Errorf("init global logger: %w", err)
	}
	zlog.ReplaceGlobals(logger, props)

	if len(a.cfg.Logging) == 0 {
		return nil
	}
	a.loggers = make(map[string]*zlog.MLogger, len(a.cfg.Logging))
	for name, lc := range a.cfg.Logging {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zlog.FieldModule(name))}
	}
	return nil
}
