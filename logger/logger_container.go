package logger

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
)

type LoggerContainer interface {
	GetLogger(name string) (hclog.Logger, error)
}

// LoggerContainerImpl hands out one logger per component. Components share the base
// logger unless a components directory is configured, then each one writes its own file.
type LoggerContainerImpl struct {
	lock sync.Mutex

	loggers map[string]hclog.Logger
	config  LoggerConfig
	base    hclog.Logger
}

var _ LoggerContainer = (*LoggerContainerImpl)(nil)

func NewLoggerContainer(config LoggerConfig, base hclog.Logger) *LoggerContainerImpl {
	return &LoggerContainerImpl{
		loggers: map[string]hclog.Logger{},
		config:  config,
		base:    base,
	}
}

func (l *LoggerContainerImpl) GetLogger(name string) (hclog.Logger, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if logger, exists := l.loggers[name]; exists {
		return logger, nil
	}

	if l.config.ComponentsDir == "" {
		l.loggers[name] = l.base.Named(name)

		return l.loggers[name], nil
	}

	nc := l.config
	nc.LogFilePath = filepath.Join(nc.ComponentsDir, name+".log")

	if nc.Name != "" {
		nc.Name += "." + name
	} else {
		nc.Name = name
	}

	newLogger, err := NewLogger(nc)
	if err != nil {
		return nil, err
	}

	l.loggers[name] = newLogger

	return newLogger, nil
}
