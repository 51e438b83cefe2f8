package log

import (
	"bytes"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// testWriter 把每条日志转发到 t.Logf。
type testWriter struct {
	t        zaptest.TestingT
	failTest bool
}

func (w testWriter) Write(p []byte) (int, error) {
	// t.Logf 会自己追加换行。
	w.t.Logf("%s", bytes.TrimSuffix(p, []byte("\n")))
	if w.failTest {
		w.t.Fail()
	}
	return len(p), nil
}

func (testWriter) Sync() error {
	return nil
}

// InitTestLogger 为单元测试初始化 Logger，日志输出到 t.Log。
// zap 自身的内部错误同样输出到 t.Log，并使测试失败。
func InitTestLogger(t zaptest.TestingT, cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	opts = append([]zap.Option{zap.ErrorOutput(testWriter{t: t, failTest: true})}, opts...)
	return InitLoggerWithWriteSyncer(cfg, testWriter{t: t}, opts...)
}

// NewTestLogger 返回输出到 t.Log 的 MLogger，level 非法时测试立即失败。
func NewTestLogger(t zaptest.TestingT, level string) *MLogger {
	logger, _, err := InitTestLogger(t, &Config{Level: level})
	if err != nil {
		t.Errorf("init test logger: %v", err)
		t.FailNow()
	}
	return &MLogger{Logger: logger}
}
