package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// PlanLogger provides structured logging for planning and assembly. Output
// is JSON by default so log aggregation can index plan and layer fields;
// STRATUM_LOG_FORMAT=text switches to the plain formatter for terminals.
type PlanLogger struct {
	logger *logrus.Logger
	planID string
}

// LogLevel represents supported log levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// NewPlanLogger creates a structured logger. The plan id is attached later,
// once the emitter has derived it from the layer digests.
func NewPlanLogger() *PlanLogger {
	logger := logrus.New()

	if os.Getenv("STRATUM_LOG_FORMAT") == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	if level := os.Getenv("STRATUM_LOG_LEVEL"); level != "" {
		if logLevel, err := logrus.ParseLevel(level); err == nil {
			logger.SetLevel(logLevel)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return &PlanLogger{logger: logger}
}

// SetPlanID attaches the derived plan id to all subsequent entries
func (l *PlanLogger) SetPlanID(id string) {
	l.planID = id
}

func (l *PlanLogger) base() *logrus.Entry {
	entry := l.logger.WithField("component", "stratum")
	if l.planID != "" {
		entry = entry.WithField("plan_id", l.planID)
	}
	return entry
}

// LogPlanStart logs the start of a planning run
func (l *PlanLogger) LogPlanStart(contextDir, layout string) {
	l.base().WithFields(logrus.Fields{
		"event":   "plan_start",
		"context": contextDir,
		"layout":  layout,
	}).Info("Starting layer planning")
}

// LogScanComplete logs the end of the build-tree scan
func (l *PlanLogger) LogScanComplete(files int, bytes int64, duration time.Duration) {
	l.base().WithFields(logrus.Fields{
		"event":    "scan_complete",
		"files":    files,
		"bytes":    bytes,
		"duration": duration.String(),
	}).Info(fmt.Sprintf("Scanned %d files", files))
}

// LogClassifyComplete logs per-class file counts after classification
func (l *PlanLogger) LogClassifyComplete(counts map[string]int, duration time.Duration) {
	fields := logrus.Fields{
		"event":    "classify_complete",
		"duration": duration.String(),
	}
	for class, n := range counts {
		fields["class_"+class] = n
	}
	l.base().WithFields(fields).Info("Classified build output")
}

// LogPartitionComplete logs the computed layer structure
func (l *PlanLogger) LogPartitionComplete(layers int, duration time.Duration) {
	l.base().WithFields(logrus.Fields{
		"event":    "partition_complete",
		"layers":   layers,
		"duration": duration.String(),
	}).Info(fmt.Sprintf("Partitioned into %d layers", layers))
}

// LogPlanComplete logs a fully emitted plan
func (l *PlanLogger) LogPlanComplete(planID string, layers int, totalBytes int64, duration time.Duration) {
	l.base().WithFields(logrus.Fields{
		"event":       "plan_complete",
		"plan_id":     planID,
		"layers":      layers,
		"total_bytes": totalBytes,
		"duration":    duration.String(),
	}).Info("Build plan emitted")
}

// LogLayerReused logs a layer satisfied from the cache
func (l *PlanLogger) LogLayerReused(orderIndex int, digest string, size int64) {
	l.base().WithFields(logrus.Fields{
		"event":       "layer_reused",
		"order_index": orderIndex,
		"digest":      digest,
		"size":        size,
	}).Info(fmt.Sprintf("Layer %d reused from cache", orderIndex))
}

// LogLayerMaterialized logs a freshly built layer blob
func (l *PlanLogger) LogLayerMaterialized(orderIndex int, digest string, size int64, duration time.Duration) {
	l.base().WithFields(logrus.Fields{
		"event":       "layer_materialized",
		"order_index": orderIndex,
		"digest":      digest,
		"size":        size,
		"duration":    duration.String(),
	}).Info(fmt.Sprintf("Layer %d materialized", orderIndex))
}

// LogAssemblyStart logs the start of backend assembly
func (l *PlanLogger) LogAssemblyStart(backend string, layers int) {
	l.base().WithFields(logrus.Fields{
		"event":   "assembly_start",
		"backend": backend,
		"layers":  layers,
	}).Info(fmt.Sprintf("Assembling through %s backend", backend))
}

// LogAssemblyComplete logs the outcome of backend assembly
func (l *PlanLogger) LogAssemblyComplete(backend string, success bool, imageRef string, duration time.Duration) {
	entry := l.base().WithFields(logrus.Fields{
		"event":    "assembly_complete",
		"backend":  backend,
		"success":  success,
		"duration": duration.String(),
	})
	if imageRef != "" {
		entry = entry.WithField("image_ref", imageRef)
	}
	if success {
		entry.Info("Assembly completed")
	} else {
		entry.Error("Assembly failed")
	}
}

// LogCacheOperation logs cache store access
func (l *PlanLogger) LogCacheOperation(operation, key string, hit bool, size int64) {
	l.base().WithFields(logrus.Fields{
		"event":     "cache_operation",
		"operation": operation,
		"key":       key,
		"hit":       hit,
		"size":      size,
	}).Debug(fmt.Sprintf("Cache %s", operation))
}

// LogRegistryOperation logs registry interactions from the push backend
func (l *PlanLogger) LogRegistryOperation(operation, ref string, success bool, duration time.Duration) {
	entry := l.base().WithFields(logrus.Fields{
		"event":     "registry_operation",
		"operation": operation,
		"ref":       ref,
		"success":   success,
		"duration":  duration.String(),
	})
	if success {
		entry.Info(fmt.Sprintf("Registry %s completed", operation))
	} else {
		entry.Error(fmt.Sprintf("Registry %s failed", operation))
	}
}

// LogError logs an error with its operation context
func (l *PlanLogger) LogError(err error, operation string) {
	l.base().WithFields(logrus.Fields{
		"event":     "error",
		"operation": operation,
		"error":     err.Error(),
	}).Error(fmt.Sprintf("Operation failed: %s", operation))
}

// SetLogLevel sets the log level
func (l *PlanLogger) SetLogLevel(level LogLevel) {
	switch level {
	case LogLevelDebug:
		l.logger.SetLevel(logrus.DebugLevel)
	case LogLevelInfo:
		l.logger.SetLevel(logrus.InfoLevel)
	case LogLevelWarn:
		l.logger.SetLevel(logrus.WarnLevel)
	case LogLevelError:
		l.logger.SetLevel(logrus.ErrorLevel)
	}
}

// GetLogger returns the underlying logrus logger
func (l *PlanLogger) GetLogger() *logrus.Logger {
	return l.logger
}
