package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log 全局日志，Init 之前丢弃所有输出
var Log = zap.NewNop().Sugar()

// Init 初始化生产日志；level 无法解析时使用 info
func Init(level string) {
	cfg := zap.NewProductionConfig()
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = logger.Sugar()
}

// InitNop 测试使用
func InitNop() {
	Log = zap.NewNop().Sugar()
}

// Sync 刷新缓冲
func Sync() {
	_ = Log.Sync()
}
