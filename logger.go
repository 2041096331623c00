package auth

import (
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package. Arguments
// after the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to LoggerProvider.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	return f(name)
}

// DefaultLogger returns the package default logger for the named component.
func DefaultLogger(name string) Logger {
	if name == "" {
		name = "auth"
	}
	return glog.NewLogger(glog.WithName(name))
}

// ResolveLogger picks a logger from provider, falling back to DefaultLogger.
func ResolveLogger(provider LoggerProvider, name string) Logger {
	if provider != nil {
		if lgr := provider.GetLogger(name); lgr != nil {
			return lgr
		}
	}
	return DefaultLogger(name)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything. Mostly useful in tests.
func NopLogger() Logger {
	return nopLogger{}
}
