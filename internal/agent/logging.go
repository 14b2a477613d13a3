package agent

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileConfig configures the optional rotating log file.
type LogFileConfig struct {
	// Path enables file logging when set.
	Path string `yaml:"path"`
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int `yaml:"max_age_days"`
	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// DefaultLogFileConfig returns rotation defaults with file logging off.
func DefaultLogFileConfig() LogFileConfig {
	return LogFileConfig{
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// ConfigureLogger applies level and output settings to log. The returned
// closer releases the log file, if any.
func ConfigureLogger(log *logrus.Logger, level string, cfg LogFileConfig) (io.Closer, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if cfg.Path == "" {
		return io.NopCloser(nil), nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	log.SetOutput(io.MultiWriter(os.Stderr, file))

	return file, nil
}
