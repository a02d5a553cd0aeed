// Package logging provides config-driven categorized logging for todoforge.
// Logs are written to .forge/logs/ with a separate file per category, backed
// by zap. When debug_mode is off the package is a silent no-op except that
// warnings and errors are still mirrored to stderr.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and wiring
	CategoryAPI      Category = "api"      // Completion-service calls
	CategoryCompress Category = "compress" // Context compression
	CategoryCongress Category = "congress" // Consensus engine
	CategoryWorkflow Category = "workflow" // Coordinator phases
	CategoryTest     Category = "test"     // Test script generation and execution
	CategoryStore    Category = "store"    // SQLite persistence
)

// Config mirrors the logging section of config.Config. Defined here rather
// than imported to keep this package dependency-free within the module.
type Config struct {
	DebugMode  bool            `json:"debug_mode"`
	Level      string          `json:"level"`
	Categories map[string]bool `json:"categories"`
}

// Logger wraps a sugared zap logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu          sync.RWMutex
	loggers     = make(map[Category]*Logger)
	cfg         Config
	initialized bool
	logsDir     string

	// stderr core shared by all categories so warnings surface even when
	// file logging is disabled.
	consoleCore zapcore.Core
)

func init() {
	consoleCore = newConsoleCore()
}

func newConsoleCore() zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "" // keep stderr lines short
	enc := zapcore.NewConsoleEncoder(encCfg)
	return zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.WarnLevel)
}

// Initialize sets up the logging directory and installs the config.
// Call once at startup with the workspace path. Safe to skip entirely:
// uninitialized loggers log warnings and errors to stderr only.
func Initialize(workspace string, c Config) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	mu.Lock()
	defer mu.Unlock()

	cfg = c
	logsDir = filepath.Join(workspace, ".forge", "logs")
	loggers = make(map[Category]*Logger)
	initialized = true

	if !cfg.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := get(CategoryBoot)
	boot.Info("logging initialized: dir=%s level=%s", logsDir, cfg.Level)
	return nil
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.Lock()
	defer mu.Unlock()
	return get(category)
}

// get requires mu held.
func get(category Category) *Logger {
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{category: category, sugar: buildSugar(category)}
	loggers[category] = l
	return l
}

func buildSugar(category Category) *zap.SugaredLogger {
	cores := []zapcore.Core{consoleCore}

	if initialized && cfg.DebugMode && categoryEnabled(category) {
		path := filepath.Join(logsDir, string(category)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] cannot open %s: %v\n", path, err)
		} else {
			encCfg := zap.NewDevelopmentEncoderConfig()
			enc := zapcore.NewConsoleEncoder(encCfg)
			cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(f), levelFor(cfg.Level)))
		}
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core).Named(string(category)).Sugar()
}

func categoryEnabled(category Category) bool {
	if len(cfg.Categories) == 0 {
		return true // no filter means all categories
	}
	enabled, listed := cfg.Categories[string(category)]
	return !listed || enabled
}

func levelFor(s string) zapcore.Level {
	switch s {
	case "debug", "":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

// Debug logs a debug message with printf formatting.
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs an info message with printf formatting.
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a warning with printf formatting.
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs an error with printf formatting.
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync flushes all category loggers. Best effort.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
}

// Category convenience helpers: one Info and one Debug function per
// subsystem so call sites stay one line.

func Boot(format string, args ...interface{})          { Get(CategoryBoot).Info(format, args...) }
func API(format string, args ...interface{})           { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{})      { Get(CategoryAPI).Debug(format, args...) }
func Compress(format string, args ...interface{})      { Get(CategoryCompress).Info(format, args...) }
func CompressDebug(format string, args ...interface{}) { Get(CategoryCompress).Debug(format, args...) }
func Congress(format string, args ...interface{})      { Get(CategoryCongress).Info(format, args...) }
func CongressDebug(format string, args ...interface{}) { Get(CategoryCongress).Debug(format, args...) }
func Workflow(format string, args ...interface{})      { Get(CategoryWorkflow).Info(format, args...) }
func WorkflowDebug(format string, args ...interface{}) { Get(CategoryWorkflow).Debug(format, args...) }
func Test(format string, args ...interface{})          { Get(CategoryTest).Info(format, args...) }
func TestDebug(format string, args ...interface{})     { Get(CategoryTest).Debug(format, args...) }
func Store(format string, args ...interface{})         { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{})    { Get(CategoryStore).Debug(format, args...) }
