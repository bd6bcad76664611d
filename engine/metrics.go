package engine

import (
	"sync"
	"time"
)

// MetricsCollector collects per-phase timings and the layer reuse counters
// for one planning run.
type MetricsCollector struct {
	mutex              sync.RWMutex
	startTime          time.Time
	endTime            *time.Time
	success            bool
	phases             map[string]*PhaseMetrics
	filesScanned       int
	bytesScanned       int64
	bytesPerClass      map[string]int64
	layers             int
	layersReused       int
	layersMaterialized int
}

// PhaseMetrics records the timing of one planning phase
type PhaseMetrics struct {
	Name      string        `json:"name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
}

// PlanMetrics is the aggregate view of one planning run
type PlanMetrics struct {
	StartTime          time.Time                `json:"start_time"`
	EndTime            *time.Time               `json:"end_time,omitempty"`
	Duration           time.Duration            `json:"duration"`
	Success            bool                     `json:"success"`
	FilesScanned       int                      `json:"files_scanned"`
	BytesScanned       int64                    `json:"bytes_scanned"`
	BytesPerClass      map[string]int64         `json:"bytes_per_class,omitempty"`
	Layers             int                      `json:"layers"`
	LayersReused       int                      `json:"layers_reused"`
	LayersMaterialized int                      `json:"layers_materialized"`
	CacheHitRate       float64                  `json:"cache_hit_rate"`
	Phases             map[string]*PhaseMetrics `json:"phases"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime:     time.Now(),
		phases:        make(map[string]*PhaseMetrics),
		bytesPerClass: make(map[string]int64),
	}
}

// StartPhase starts timing a phase
func (m *MetricsCollector) StartPhase(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.phases[name] = &PhaseMetrics{
		Name:      name,
		StartTime: time.Now(),
	}
}

// EndPhase ends timing for a phase
func (m *MetricsCollector) EndPhase(name string, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	phase, exists := m.phases[name]
	if !exists {
		return
	}
	endTime := time.Now()
	phase.EndTime = &endTime
	phase.Duration = endTime.Sub(phase.StartTime)
	phase.Success = success
}

// RecordScan records the scanner's output volume
func (m *MetricsCollector) RecordScan(files int, bytes int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.filesScanned = files
	m.bytesScanned = bytes
}

// RecordClassBytes records the byte total per volatility class
func (m *MetricsCollector) RecordClassBytes(bytesPerClass map[string]int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for class, bytes := range bytesPerClass {
		m.bytesPerClass[class] = bytes
	}
}

// RecordLayers records the layer count the partitioner produced
func (m *MetricsCollector) RecordLayers(count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.layers = count
}

// RecordAssembly records the reuse split of one assembly run
func (m *MetricsCollector) RecordAssembly(reused, materialized int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.layersReused = reused
	m.layersMaterialized = materialized
}

// Finish completes metrics collection
func (m *MetricsCollector) Finish(success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	endTime := time.Now()
	m.endTime = &endTime
	m.success = success
}

// GetMetrics returns a copy of the collected metrics
func (m *MetricsCollector) GetMetrics() *PlanMetrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	metrics := &PlanMetrics{
		StartTime:          m.startTime,
		EndTime:            m.endTime,
		Success:            m.success,
		FilesScanned:       m.filesScanned,
		BytesScanned:       m.bytesScanned,
		BytesPerClass:      make(map[string]int64, len(m.bytesPerClass)),
		Layers:             m.layers,
		LayersReused:       m.layersReused,
		LayersMaterialized: m.layersMaterialized,
		Phases:             make(map[string]*PhaseMetrics, len(m.phases)),
	}

	if m.endTime != nil {
		metrics.Duration = m.endTime.Sub(m.startTime)
	} else {
		metrics.Duration = time.Since(m.startTime)
	}

	for class, bytes := range m.bytesPerClass {
		metrics.BytesPerClass[class] = bytes
	}
	for name, phase := range m.phases {
		phaseCopy := *phase
		metrics.Phases[name] = &phaseCopy
	}

	if total := m.layersReused + m.layersMaterialized; total > 0 {
		metrics.CacheHitRate = float64(m.layersReused) / float64(total) * 100.0
	}

	return metrics
}
