package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context keys read by the ctx-aware helpers. Plain strings so gin.Context works as ctx.
const (
	TraceIdKey   = "trace_id"
	RequestIdKey = "request_id"
)

// 全局 Logger 实例
var Log = zap.NewNop()

// Init 初始化日志组件
// serviceName: 当前服务名称 (例如 "chat-service")
// level: 日志级别 (debug, info, warn, error)
func Init(serviceName string, level string) {
	InitWithFile(serviceName, level, "")
}

// InitWithFile 初始化日志组件，支持指定日志文件路径
// logFile 为空时使用 logs/{serviceName}.log
func InitWithFile(serviceName string, level string, logFile string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	writeSyncers := []zapcore.WriteSyncer{
		zapcore.AddSync(os.Stdout),
	}

	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}
	// 文件写失败时只输出到控制台，不中断程序
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			writeSyncers = append(writeSyncers, zapcore.AddSync(file))
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		zapLevel,
	)

	// AddCallerSkip(1): 跳过本包的封装函数
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, withContext(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, withContext(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, withContext(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, withContext(ctx, fields)...)
}

// Fatal 会调用 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, withContext(ctx, fields)...)
}

// withContext appends trace_id / request_id found on ctx.
// An active OpenTelemetry span wins over a trace id stored as a plain value.
func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	} else if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if rid, ok := ctx.Value(RequestIdKey).(string); ok && rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	return fields
}

// Sync 刷新缓冲区 (main 函数 defer 调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
