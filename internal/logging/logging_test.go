package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func captureLogger() (*PlanLogger, *bytes.Buffer) {
	l := NewPlanLogger()
	buf := &bytes.Buffer{}
	l.logger.SetOutput(buf)
	l.logger.SetFormatter(&logrus.JSONFormatter{})
	l.logger.SetLevel(logrus.DebugLevel)
	return l, buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("Failed to parse log line: %v", err)
	}
	return entry
}

func TestLogPlanStartFields(t *testing.T) {
	l, buf := captureLogger()
	l.LogPlanStart("/build/out", "maven")

	entry := lastEntry(t, buf)
	if entry["event"] != "plan_start" {
		t.Errorf("Expected plan_start event, got %v", entry["event"])
	}
	if entry["context"] != "/build/out" {
		t.Errorf("Expected context field, got %v", entry["context"])
	}
	if entry["layout"] != "maven" {
		t.Errorf("Expected layout field, got %v", entry["layout"])
	}
	if entry["component"] != "stratum" {
		t.Errorf("Expected component field, got %v", entry["component"])
	}
}

func TestPlanIDAttachedAfterSet(t *testing.T) {
	l, buf := captureLogger()

	l.LogScanComplete(10, 1024, time.Millisecond)
	entry := lastEntry(t, buf)
	if _, ok := entry["plan_id"]; ok {
		t.Error("plan_id should be absent before SetPlanID")
	}

	l.SetPlanID("ab12cd34")
	l.LogPartitionComplete(3, time.Millisecond)
	entry = lastEntry(t, buf)
	if entry["plan_id"] != "ab12cd34" {
		t.Errorf("Expected plan_id ab12cd34, got %v", entry["plan_id"])
	}
}

func TestLogLayerEvents(t *testing.T) {
	l, buf := captureLogger()

	l.LogLayerReused(0, "sha256:abc", 100)
	entry := lastEntry(t, buf)
	if entry["event"] != "layer_reused" {
		t.Errorf("Expected layer_reused, got %v", entry["event"])
	}
	if entry["order_index"].(float64) != 0 {
		t.Errorf("Expected order_index 0, got %v", entry["order_index"])
	}

	l.LogLayerMaterialized(2, "sha256:def", 200, 5*time.Millisecond)
	entry = lastEntry(t, buf)
	if entry["event"] != "layer_materialized" {
		t.Errorf("Expected layer_materialized, got %v", entry["event"])
	}
	if entry["digest"] != "sha256:def" {
		t.Errorf("Expected digest field, got %v", entry["digest"])
	}
}

func TestLogAssemblyCompleteLevels(t *testing.T) {
	l, buf := captureLogger()

	l.LogAssemblyComplete("oci", true, "registry.example.com/app:1", time.Second)
	entry := lastEntry(t, buf)
	if entry["level"] != "info" {
		t.Errorf("Success should log at info, got %v", entry["level"])
	}
	if entry["image_ref"] != "registry.example.com/app:1" {
		t.Errorf("Expected image_ref field, got %v", entry["image_ref"])
	}

	l.LogAssemblyComplete("push", false, "", time.Second)
	entry = lastEntry(t, buf)
	if entry["level"] != "error" {
		t.Errorf("Failure should log at error, got %v", entry["level"])
	}
	if _, ok := entry["image_ref"]; ok {
		t.Error("image_ref should be omitted on failure")
	}
}

func TestClassifyCountsPrefixed(t *testing.T) {
	l, buf := captureLogger()
	l.LogClassifyComplete(map[string]int{"application_code": 7, "resource": 2}, time.Millisecond)

	entry := lastEntry(t, buf)
	if entry["class_application_code"].(float64) != 7 {
		t.Errorf("Expected class_application_code 7, got %v", entry["class_application_code"])
	}
	if entry["class_resource"].(float64) != 2 {
		t.Errorf("Expected class_resource 2, got %v", entry["class_resource"])
	}
}
