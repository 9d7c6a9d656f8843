package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config 控制日志级别与输出格式。
type Config struct {
	// Level 为 zerolog 级别名：debug/info/warn/error。
	Level string `mapstructure:"level"`
	// Format 为 console（人类可读，适合 REPL）或 json（适合 serve）。
	Format string `mapstructure:"format"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

// New 按配置构造 logger；w 为 nil 时写到 stderr，避免和对话输出混在 stdout。
func New(cfg Config, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format: %q", cfg.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func parseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
