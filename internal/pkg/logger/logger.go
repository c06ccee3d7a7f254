package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 根据配置的日志级别创建进程级 slog.Logger。
//
// 参数:
//
//	level: 日志级别字符串 (debug / info / warn / error)，无法识别时回退到 info
//
// 返回值:
//
//	*slog.Logger: 文本格式的结构化日志记录器
func NewDefault(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
