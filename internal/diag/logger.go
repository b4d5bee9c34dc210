package diag

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger: 在 zap 之上的事件式日志（start → finish / error）。
// 每条事件固定携带 corr_id/comp/stage，便于按一次运行检索。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// ParseLevel 将配置字符串映射为 zap 级别；未知值按 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.MessageKey = "msg"
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	}
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	return ec
}

// NewLogger 日志写入 dir 下的轮转文件（10 MiB）。
func NewLogger(corrID, level, dir string) *Logger {
	if dir == "" {
		dir = "logs"
	}
	sink := NewRotatingFile(dir, 10*1024*1024)
	l := NewLoggerTo(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 写入任意 WriteSyncer（测试或 stderr）。
func NewLoggerTo(ws zapcore.WriteSyncer, corrID, level string) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, ParseLevel(level))
	z := zap.New(core, zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(nopWriter{}))))
	if corrID != "" {
		z = z.With(zap.String("corr_id", corrID))
	}
	return &Logger{z: z}
}

// NewNop 丢弃全部事件。
func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// Zap 返回底层 zap.Logger（供 CLI 替换全局 logger）。
func (l *Logger) Zap() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.z
}

// Sync 刷盘并关闭文件句柄。
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		_ = l.sink.Close()
	}
	return err
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWith(comp, msg, "")
}

// StartWith 记录带 batch 的 start。
func (l *Logger) StartWith(comp, msg, batch string, kv ...zap.Field) *Timer {
	if l == nil {
		return nil
	}
	l.z.Info(msg, append(base(comp, "start", batch), kv...)...)
	return &Timer{l: l, comp: comp, batch: batch, t0: time.Now()}
}

// Debug 仅 level=debug 时输出。
func (l *Logger) Debug(comp, msg string, kv ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Debug(msg, append(base(comp, "debug", ""), kv...)...)
}

// Warn 非致命异常（例如逐条解析失败）。
func (l *Logger) Warn(comp, msg string, kv ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Warn(msg, append(base(comp, "warn", ""), kv...)...)
}

// ErrorWith 记录 error 事件；since 非空时附带耗时。
func (l *Logger) ErrorWith(comp string, code Code, msg string, since *time.Time, batch string, kv ...zap.Field) {
	if l == nil {
		return
	}
	fs := append(base(comp, "error", batch), zap.String("code", string(code)))
	if since != nil {
		fs = append(fs, zap.Int64("dur_ms", time.Since(*since).Milliseconds()))
	}
	l.z.Error(msg, append(fs, kv...)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     *Logger
	comp  string
	batch string
	t0    time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	fs := append(base(t.comp, "finish", t.batch), zap.Int64("dur_ms", time.Since(t.t0).Milliseconds()))
	if count > 0 {
		fs = append(fs, zap.Int64("count", count))
	}
	t.l.z.Info(msg, fs...)
}

// Since 返回计时起点（供 ErrorWith 计算耗时）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

func base(comp, stage, batch string) []zap.Field {
	fs := make([]zap.Field, 0, 6)
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	if batch != "" {
		fs = append(fs, zap.String("batch", batch))
	}
	return fs
}
