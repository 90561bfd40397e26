package engine

import (
	"sync"

	"github.com/piwi3910/shipper/pkg/telemetry"
)

// LogReporter forwards progress messages to a telemetry logger.
type LogReporter struct {
	logger *telemetry.Logger
}

// NewLogReporter creates a reporter backed by the given logger.
func NewLogReporter(logger *telemetry.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Info implements Reporter.
func (r *LogReporter) Info(msg string) { r.logger.Info(msg) }

// Warn implements Reporter.
func (r *LogReporter) Warn(msg string) { r.logger.Warn(msg) }

// Error implements Reporter.
func (r *LogReporter) Error(msg string) { r.logger.Error(msg) }

// CollectingReporter records messages in memory; used by tests.
type CollectingReporter struct {
	mu     sync.Mutex
	Infos  []string
	Warns  []string
	Errors []string
}

// Info implements Reporter.
func (r *CollectingReporter) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Infos = append(r.Infos, msg)
}

// Warn implements Reporter.
func (r *CollectingReporter) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warns = append(r.Warns, msg)
}

// Error implements Reporter.
func (r *CollectingReporter) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, msg)
}
