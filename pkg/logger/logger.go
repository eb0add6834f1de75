package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunIDKey 每次工具调用的 run id 在 Context 中的 Key
type ctxKey struct{}

var RunIDKey = ctxKey{}

// 全局 Logger 实例，Init 之前是 Nop，库代码直接调用也不会 panic
var Log = zap.NewNop()

// WithRunID 把 run id 放进 ctx，之后的日志都会带上
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

// Init 初始化日志组件，输出到 stderr
// 工具的 stdout 是数据（cat/check 的结果），日志不能混进去
func Init(serviceName string, level string) {
	InitWithWriter(serviceName, level, os.Stderr, "")
}

// InitWithWriter 初始化日志组件
// w: 控制台输出目标
// logFile: 额外写入的日志文件，为空则只写 w
func InitWithWriter(serviceName string, level string, w io.Writer, logFile string) {
	// 1. 日志级别
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel // 默认 Info
	}

	// 2. 编码器 (JSON)
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	// 3. 写入目标
	writeSyncers := []zapcore.WriteSyncer{zapcore.AddSync(w)}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
			file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				writeSyncers = append(writeSyncers, zapcore.AddSync(file))
			}
			// 打不开文件只输出到 w，不中断
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		zapLevel,
	)

	// AddCallerSkip(1)：封装了一层，否则行号永远指向 logger.go
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	Log = Log.With(zap.String("service", serviceName))
}

// ---------------------------------------------------------
// 带 Context 的日志方法
// ---------------------------------------------------------

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extractRunID(ctx, &fields)
	Log.Info(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extractRunID(ctx, &fields)
	Log.Error(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	extractRunID(ctx, &fields)
	Log.Warn(msg, fields...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extractRunID(ctx, &fields)
	Log.Debug(msg, fields...)
}

func extractRunID(ctx context.Context, fields *[]zap.Field) {
	if ctx == nil {
		return
	}
	if id, ok := ctx.Value(RunIDKey).(string); ok && id != "" {
		*fields = append(*fields, zap.String("run_id", id))
	}
}

// Sync 刷新缓冲区 (main 里 defer 调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
