package backends

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRootfsAssemble(t *testing.T) {
	treeRoot, p, store := buildFixture(t)
	req := fixtureRequest(treeRoot, p, store)
	req.Output = filepath.Join(t.TempDir(), "out")

	backend, err := GetBackend("rootfs")
	if err != nil {
		t.Fatalf("GetBackend failed: %v", err)
	}

	result, err := backend.Assemble(context.Background(), req)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if result.Backend != "rootfs" {
		t.Errorf("Expected backend rootfs, got %s", result.Backend)
	}
	if result.LayersTotal != len(p.Layers) {
		t.Errorf("Expected %d layers, got %d", len(p.Layers), result.LayersTotal)
	}
	if result.LayersMaterialized != len(p.Layers) {
		t.Errorf("Expected all layers materialized on cold cache, got %d", result.LayersMaterialized)
	}

	for _, relPath := range []string{
		"app/libs/guava.jar",
		"app/libs/api-SNAPSHOT",
		"app/bin/run.sh",
		"app/classes/Main.class",
	} {
		extracted := filepath.Join(result.Outputs["rootfs"], filepath.FromSlash(relPath))
		if _, err := os.Stat(extracted); err != nil {
			t.Errorf("Expected %s in extracted tree: %v", relPath, err)
		}
	}

	content, err := os.ReadFile(filepath.Join(result.Outputs["rootfs"], "app", "bin", "run.sh"))
	if err != nil {
		t.Fatalf("Failed to read extracted file: %v", err)
	}
	if string(content) != "#!/bin/sh\n" {
		t.Errorf("Extracted content mismatch: %q", content)
	}

	manifestData, err := os.ReadFile(result.Outputs["manifest"])
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	var manifest rootfsManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		t.Fatalf("Failed to parse manifest: %v", err)
	}
	if manifest.PlanID != p.ID {
		t.Errorf("Expected plan id %s, got %s", p.ID, manifest.PlanID)
	}
	if manifest.BaseImage != "scratch" {
		t.Errorf("Expected base scratch, got %s", manifest.BaseImage)
	}
	if len(manifest.Entrypoint) != 1 || manifest.Entrypoint[0] != "/app/bin/run.sh" {
		t.Errorf("Expected anchored entrypoint, got %v", manifest.Entrypoint)
	}
	if len(manifest.Records) != len(p.Layers) {
		t.Errorf("Expected %d records in manifest, got %d", len(p.Layers), len(manifest.Records))
	}
}

func TestRootfsAssembleReusesCache(t *testing.T) {
	treeRoot, p, store := buildFixture(t)

	backend, err := GetBackend("rootfs")
	if err != nil {
		t.Fatalf("GetBackend failed: %v", err)
	}

	first := fixtureRequest(treeRoot, p, store)
	first.Output = filepath.Join(t.TempDir(), "first")
	if _, err := backend.Assemble(context.Background(), first); err != nil {
		t.Fatalf("First assemble failed: %v", err)
	}

	second := fixtureRequest(treeRoot, p, store)
	second.Output = filepath.Join(t.TempDir(), "second")
	result, err := backend.Assemble(context.Background(), second)
	if err != nil {
		t.Fatalf("Second assemble failed: %v", err)
	}
	if result.LayersReused != len(p.Layers) {
		t.Errorf("Expected all %d layers reused, got %d", len(p.Layers), result.LayersReused)
	}
	if result.LayersMaterialized != 0 {
		t.Errorf("Expected 0 materialized, got %d", result.LayersMaterialized)
	}

	extracted := filepath.Join(result.Outputs["rootfs"], "app", "classes", "Main.class")
	if _, err := os.Stat(extracted); err != nil {
		t.Errorf("Expected reused layers to extract: %v", err)
	}
}
