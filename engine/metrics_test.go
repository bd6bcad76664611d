package engine

import (
	"testing"
)

func TestMetricsPhaseTimings(t *testing.T) {
	collector := NewMetricsCollector()

	collector.StartPhase(StageScan)
	collector.EndPhase(StageScan, true)
	collector.StartPhase(StageClassify)
	collector.EndPhase(StageClassify, false)

	metrics := collector.GetMetrics()
	scan, exists := metrics.Phases[StageScan]
	if !exists {
		t.Fatal("Expected scan phase to be recorded")
	}
	if !scan.Success {
		t.Error("Expected scan phase to be successful")
	}
	if scan.EndTime == nil {
		t.Error("Expected scan end time to be set")
	}

	classifyPhase, exists := metrics.Phases[StageClassify]
	if !exists {
		t.Fatal("Expected classify phase to be recorded")
	}
	if classifyPhase.Success {
		t.Error("Expected classify phase to be failed")
	}
}

func TestMetricsEndUnknownPhase(t *testing.T) {
	collector := NewMetricsCollector()
	collector.EndPhase("deploy", true)

	if _, exists := collector.GetMetrics().Phases["deploy"]; exists {
		t.Error("Expected unknown phase to be ignored")
	}
}

func TestMetricsCounters(t *testing.T) {
	collector := NewMetricsCollector()

	collector.RecordScan(42, 1<<20)
	collector.RecordClassBytes(map[string]int64{
		"fixed_dependency": 900 << 10,
		"application_code": 124 << 10,
	})
	collector.RecordLayers(3)
	collector.RecordAssembly(2, 1)

	metrics := collector.GetMetrics()
	if metrics.FilesScanned != 42 {
		t.Errorf("Expected 42 files, got %d", metrics.FilesScanned)
	}
	if metrics.BytesScanned != 1<<20 {
		t.Errorf("Expected 1MiB scanned, got %d", metrics.BytesScanned)
	}
	if metrics.BytesPerClass["fixed_dependency"] != 900<<10 {
		t.Errorf("Expected class bytes, got %v", metrics.BytesPerClass)
	}
	if metrics.Layers != 3 {
		t.Errorf("Expected 3 layers, got %d", metrics.Layers)
	}
	if metrics.LayersReused != 2 || metrics.LayersMaterialized != 1 {
		t.Errorf("Expected 2 reused and 1 materialized, got %d and %d",
			metrics.LayersReused, metrics.LayersMaterialized)
	}
}

func TestMetricsCacheHitRate(t *testing.T) {
	collector := NewMetricsCollector()
	if rate := collector.GetMetrics().CacheHitRate; rate != 0.0 {
		t.Errorf("Expected 0%% hit rate with no layers, got %.1f", rate)
	}

	collector.RecordAssembly(3, 1)
	if rate := collector.GetMetrics().CacheHitRate; rate != 75.0 {
		t.Errorf("Expected 75%% hit rate, got %.1f", rate)
	}
}

func TestMetricsFinish(t *testing.T) {
	collector := NewMetricsCollector()
	collector.Finish(true)

	metrics := collector.GetMetrics()
	if metrics.EndTime == nil {
		t.Error("Expected end time after finish")
	}
	if !metrics.Success {
		t.Error("Expected success flag")
	}
	if metrics.Duration <= 0 {
		t.Error("Expected positive duration")
	}
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	collector := NewMetricsCollector()
	collector.StartPhase(StageScan)
	collector.EndPhase(StageScan, true)
	collector.RecordClassBytes(map[string]int64{"resource": 10})

	metrics := collector.GetMetrics()
	metrics.Phases[StageScan].Success = false
	metrics.BytesPerClass["resource"] = 999

	fresh := collector.GetMetrics()
	if !fresh.Phases[StageScan].Success {
		t.Error("Expected phase mutation to not leak into the collector")
	}
	if fresh.BytesPerClass["resource"] != 10 {
		t.Error("Expected class byte mutation to not leak into the collector")
	}
}
