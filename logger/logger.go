package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type RotatingLoggerConfig struct {
	MaxSizeInMB  int  `yaml:"maxSizeInMB"`
	MaxBackups   int  `yaml:"maxBackups"`
	MaxAgeInDays int  `yaml:"maxAgeInDays"`
	Compress     bool `yaml:"compress"`
}

type LoggerConfig struct {
	LogLevel             hclog.Level          `yaml:"-"`
	Level                string               `yaml:"level"`
	JSONLogFormat        bool                 `yaml:"jsonLogFormat"`
	AppendFile           bool                 `yaml:"appendFile"`
	LogFilePath          string               `yaml:"logFilePath"`
	ComponentsDir        string               `yaml:"componentsDir"`
	Name                 string               `yaml:"name"`
	RotatingLogsEnabled  bool                 `yaml:"rotatingLogsEnabled"`
	RotatingLoggerConfig RotatingLoggerConfig `yaml:"rotatingLoggerConfig"`
}

func NewLogger(config LoggerConfig) (hclog.Logger, error) {
	var output io.Writer

	level := config.LogLevel
	if config.Level != "" {
		level = hclog.LevelFromString(config.Level)
		if level == hclog.NoLevel {
			return nil, fmt.Errorf("invalid log level: %s", config.Level)
		}
	}

	if config.RotatingLogsEnabled {
		if strings.TrimSpace(config.LogFilePath) == "" {
			return nil, errors.New("log file path is required for rotating logs")
		}

		if err := os.MkdirAll(filepath.Dir(config.LogFilePath), 0o770); err != nil {
			return nil, fmt.Errorf("could not create log directory: %w", err)
		}

		output = &lumberjack.Logger{
			Filename:   config.LogFilePath,
			MaxSize:    config.RotatingLoggerConfig.MaxSizeInMB,
			MaxBackups: config.RotatingLoggerConfig.MaxBackups,
			MaxAge:     config.RotatingLoggerConfig.MaxAgeInDays,
			Compress:   config.RotatingLoggerConfig.Compress,
		}
	} else {
		file, err := getLogFileWriter(config)
		if err != nil {
			return nil, err
		}

		// hclog treats a nil writer as stderr, a typed nil *os.File would not be
		if file != nil {
			output = file
		}
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       config.Name,
		Level:      level,
		Output:     output,
		JSONFormat: config.JSONLogFormat,
	}), nil
}

func getLogFileWriter(config LoggerConfig) (*os.File, error) {
	logFilePath := strings.TrimSpace(config.LogFilePath)
	if logFilePath == "" {
		return nil, nil
	}

	if dir := filepath.Dir(logFilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o770); err != nil {
			return nil, fmt.Errorf("could not create log directory: %w", err)
		}
	}

	if !config.AppendFile {
		ext := filepath.Ext(logFilePath)
		timestamp := strings.NewReplacer(":", "_", "-", "_").Replace(time.Now().UTC().Format(time.RFC3339))
		logFilePath = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(logFilePath, ext), timestamp, ext)
	}

	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o660)
	if err != nil {
		return nil, fmt.Errorf("could not create or open log file, %w", err)
	}

	return file, nil
}
