package engine

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// StageStatus represents the status of a planning stage
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageProgress represents progress for a single planning stage
type StageProgress struct {
	Name      string        `json:"name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Status    StageStatus   `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// ProgressTracker tracks a planning run with stage-level granularity. The
// stage list is fixed up front; stages never started by the time Finish is
// called are marked skipped.
type ProgressTracker struct {
	mutex     sync.RWMutex
	stages    map[string]*StageProgress
	order     []string
	completed int
	startTime time.Time
	output    io.Writer
	verbose   bool
}

// NewProgressTracker creates a tracker over a fixed set of stages. A nil
// output writer silences the display.
func NewProgressTracker(output io.Writer, verbose bool, stageNames ...string) *ProgressTracker {
	stages := make(map[string]*StageProgress, len(stageNames))
	for _, name := range stageNames {
		stages[name] = &StageProgress{
			Name:   name,
			Status: StageStatusPending,
		}
	}
	return &ProgressTracker{
		stages:    stages,
		order:     stageNames,
		startTime: time.Now(),
		output:    output,
		verbose:   verbose,
	}
}

// StartStage marks a stage as running
func (p *ProgressTracker) StartStage(stageName string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stage, exists := p.stages[stageName]
	if !exists {
		return
	}
	stage.StartTime = time.Now()
	stage.Status = StageStatusRunning

	p.emit(stageName, "started")
	p.updateDisplay()
}

// CompleteStage marks a stage as completed or failed
func (p *ProgressTracker) CompleteStage(stageName string, success bool, errorMsg string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stage, exists := p.stages[stageName]
	if !exists {
		return
	}

	endTime := time.Now()
	stage.EndTime = &endTime
	stage.Duration = endTime.Sub(stage.StartTime)

	if success {
		stage.Status = StageStatusCompleted
		p.completed++
	} else {
		stage.Status = StageStatusFailed
		stage.Error = errorMsg
	}

	p.emit(stageName, string(stage.Status))
	p.updateDisplay()
}

// GetStageProgress returns the tracked state for one stage.
func (p *ProgressTracker) GetStageProgress(stageName string) *StageProgress {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stage, exists := p.stages[stageName]
	if !exists {
		return nil
	}
	stageCopy := *stage
	return &stageCopy
}

// GetOverallProgress returns the completed fraction across all stages as a
// percentage.
func (p *ProgressTracker) GetOverallProgress() float64 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if len(p.order) == 0 {
		return 0.0
	}
	return float64(p.completed) / float64(len(p.order)) * 100.0
}

// Finish closes the run. Stages that never ran are marked skipped so the
// summary distinguishes them from failures.
func (p *ProgressTracker) Finish(success bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, name := range p.order {
		if p.stages[name].Status == StageStatusPending {
			p.stages[name].Status = StageStatusSkipped
		}
	}

	if p.output == nil {
		return
	}
	duration := time.Since(p.startTime)
	if success {
		fmt.Fprintf(p.output, "\nCompleted in %s (%d/%d stages)\n", duration.Round(time.Millisecond), p.completed, len(p.order))
	} else {
		fmt.Fprintf(p.output, "\nFailed after %s (%d/%d stages)\n", duration.Round(time.Millisecond), p.completed, len(p.order))
	}
}

// emit prints one verbose progress line (must be called with mutex held)
func (p *ProgressTracker) emit(stageName, message string) {
	if !p.verbose || p.output == nil {
		return
	}
	fmt.Fprintf(p.output, "[%s] %s: %s\n", time.Now().Format("15:04:05"), stageName, message)
}

// updateDisplay updates the progress line (must be called with mutex held)
func (p *ProgressTracker) updateDisplay() {
	if p.output == nil || p.verbose {
		return
	}
	progress := 0.0
	if len(p.order) > 0 {
		progress = float64(p.completed) / float64(len(p.order)) * 100.0
	}
	fmt.Fprintf(p.output, "\rProgress: %.1f%% (%d/%d stages)", progress, p.completed, len(p.order))
}
