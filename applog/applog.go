package applog

import (
	"arenaclient/build"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger = zap.Logger

// LogEntry is a single buffered log record, carried through the async sink.
type LogEntry struct {
	Entry  *zapcore.Entry
	Fields []zap.Field
}

func Info(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Debug(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Error(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func Fatal(msg string, fields ...zapcore.Field) {
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}

func LogStartup(launchArgs interface{}) {
	buildInfo := build.GetBuildInfo()
	buildCommit := "unknown"
	if buildInfo != nil && buildInfo.CommitHash != "" {
		buildCommit = buildInfo.CommitHash
	}

	Info("Arena proxy started",
		zap.String("buildCommit", buildCommit),
		zap.Any("launchArgs", launchArgs),
	)
}

func GetLogger() *Logger {
	return globalLogger
}

// Initialize opens the per-instance log file and replaces the global logger.
// The instance name is derived from the listen address, so several proxies
// on one host never share a log file.
func Initialize(logDir string, instance string, level zapcore.Level) {
	if logDir == "" {
		workdir, err := os.Getwd()
		if err != nil {
			log.Fatalf("Failed to get current working directory: %v", err)
		}
		logDir = filepath.Join(workdir, "logs")
	}

	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	logFilename := filepath.Join(logDir,
		fmt.Sprintf("arenaclient_%s.log", sanitizeInstance(instance)))

	var err error
	logFile, err = os.OpenFile(logFilename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("Failed to open log file '%s': %v", logFilename, err)
	}

	setLogger(newLogger(level, opts...))
}

func Shutdown() {
	if fileSink != nil {
		fileSink.Shutdown(2 * time.Second)
		fileSink = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func sanitizeInstance(instance string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	s := r.Replace(instance)
	if s == "" {
		return "default"
	}
	return s
}

var (
	opts = []zap.Option{
		zap.AddCaller(),
	}
	globalLogger = newLogger(zapcore.InfoLevel, opts...)
	logFile      *os.File
	fileSink     *asyncSink
)

func newLogger(level zapcore.Level, opts ...zap.Option) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}

	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)
	cores := []zapcore.Core{
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), level),
	}

	if logFile != nil {
		// File writes go through the async sink so a slow disk never
		// stalls a match step.
		fileCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(logFile), level)
		fileSink = newAsyncSink(fileCore, 1024)
		cores = append(cores, fileSink)
	}

	logger := zap.New(zapcore.NewTee(cores...), opts...)

	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	return logger
}

func setLogger(l *Logger) {
	globalLogger = l
	zap.ReplaceGlobals(globalLogger)
}
