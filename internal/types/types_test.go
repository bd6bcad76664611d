package types

import (
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
)

func TestParseVolatilityClass(t *testing.T) {
	tests := []struct {
		input   string
		want    VolatilityClass
		wantErr bool
	}{
		{"fixed_dependency", ClassFixedDependency, false},
		{"SNAPSHOT_DEPENDENCY", ClassSnapshotDependency, false},
		{" resource ", ClassResource, false},
		{"application_code", ClassApplicationCode, false},
		{"classes", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseVolatilityClass(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseVolatilityClass(%q) expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVolatilityClass(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVolatilityClass(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDefaultVolatilityOrder(t *testing.T) {
	order := DefaultVolatilityOrder()
	if len(order) != 4 {
		t.Fatalf("Expected 4 classes, got %d", len(order))
	}
	if order[0] != ClassFixedDependency {
		t.Errorf("Expected fixed dependencies first, got %v", order[0])
	}
	if order[len(order)-1] != ClassApplicationCode {
		t.Errorf("Expected application code last, got %v", order[len(order)-1])
	}
}

func TestSortFileEntries(t *testing.T) {
	entries := []FileEntry{
		{Path: "classes/com/acme/Main.class"},
		{Path: "classes/com/acme/App.class"},
		{Path: "BOOT-INF/lib/guava.jar"},
	}

	SortFileEntries(entries)

	want := []string{
		"BOOT-INF/lib/guava.jar",
		"classes/com/acme/App.class",
		"classes/com/acme/Main.class",
	}
	for i, e := range entries {
		if e.Path != want[i] {
			t.Errorf("Entry %d: expected %s, got %s", i, want[i], e.Path)
		}
	}
}

func TestEntrypointCommandPlain(t *testing.T) {
	e := EntrypointSpec{
		Executable: "/usr/bin/java",
		Args:       []string{"-cp", "/app/classes:/app/libs/*", "com.acme.Main"},
	}

	cmd, err := e.Command(nil)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	want := []string{"/usr/bin/java", "-cp", "/app/classes:/app/libs/*", "com.acme.Main"}
	if len(cmd) != len(want) {
		t.Fatalf("Expected %d tokens, got %d: %v", len(want), len(cmd), cmd)
	}
	for i := range want {
		if cmd[i] != want[i] {
			t.Errorf("Token %d: expected %s, got %s", i, want[i], cmd[i])
		}
	}
}

func TestEntrypointCommandPositional(t *testing.T) {
	e := EntrypointSpec{
		Executable: "/usr/bin/java",
		Args:       []string{"-jar", "{0}", "{*}"},
	}

	cmd, err := e.Command([]string{"/app/app.jar", "--port", "8080"})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	want := []string{"/usr/bin/java", "-jar", "/app/app.jar", "--port", "8080"}
	if strings.Join(cmd, " ") != strings.Join(want, " ") {
		t.Errorf("Expected %v, got %v", want, cmd)
	}
}

func TestEntrypointCommandMissingPositional(t *testing.T) {
	e := EntrypointSpec{
		Executable: "/usr/bin/java",
		Args:       []string{"-jar", "{0}"},
	}

	if _, err := e.Command(nil); err == nil {
		t.Error("Expected error for unfilled positional token")
	}
}

func TestEntrypointCommandAppendsWithoutTemplate(t *testing.T) {
	e := EntrypointSpec{Executable: "/app/run.sh"}

	cmd, err := e.Command([]string{"--verbose"})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if len(cmd) != 2 || cmd[1] != "--verbose" {
		t.Errorf("Expected runtime args appended, got %v", cmd)
	}
}

func TestLayerPolicyValidate(t *testing.T) {
	policy := DefaultLayerPolicy()
	if err := policy.Validate(); err != nil {
		t.Errorf("Default policy should validate: %v", err)
	}

	policy = &LayerPolicy{MaxLayers: 0}
	if err := policy.Validate(); err == nil {
		t.Error("Expected error for zero max_layers")
	}

	policy = &LayerPolicy{
		MaxLayers:       4,
		VolatilityOrder: []VolatilityClass{ClassResource, ClassApplicationCode},
	}
	if err := policy.Validate(); err == nil {
		t.Error("Expected error for partial volatility order")
	}

	policy = &LayerPolicy{
		MaxLayers: 4,
		VolatilityOrder: []VolatilityClass{
			ClassResource, ClassResource, ClassFixedDependency, ClassApplicationCode,
		},
	}
	if err := policy.Validate(); err == nil {
		t.Error("Expected error for repeated class in volatility order")
	}

	policy = &LayerPolicy{MaxLayers: 4, SnapshotMarkers: []string{"  "}}
	if err := policy.Validate(); err == nil {
		t.Error("Expected error for blank snapshot marker")
	}
}

func TestPlanConfigValidate(t *testing.T) {
	config := &PlanConfig{Context: "/build/out", BaseImage: "gcr.io/distroless/java17"}
	if err := config.Validate(); err != nil {
		t.Errorf("Valid config rejected: %v", err)
	}

	config = &PlanConfig{BaseImage: "scratch"}
	if err := config.Validate(); err == nil {
		t.Error("Expected error for missing context")
	}

	config = &PlanConfig{Context: "/build/out"}
	if err := config.Validate(); err == nil {
		t.Error("Expected error for missing base image")
	}
}

func TestPlanStateTransitions(t *testing.T) {
	tests := []struct {
		from PlanState
		to   PlanState
		ok   bool
	}{
		{StatePlanned, StateAssembling, true},
		{StateAssembling, StateAssembled, true},
		{StateAssembling, StateFailed, true},
		{StatePlanned, StateAssembled, false},
		{StateAssembled, StateAssembling, false},
		{StateFailed, StateAssembling, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestBuildPlanRecords(t *testing.T) {
	plan := &BuildPlan{
		Layers: []Layer{
			{
				OrderIndex: 0,
				Class:      ClassFixedDependency,
				Entries: []FileEntry{
					{Path: "libs/a.jar", Size: 10},
					{Path: "libs/b.jar", Size: 20},
				},
				Digest: digest.Digest("sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
				Size:   30,
			},
			{
				OrderIndex: 1,
				Class:      ClassApplicationCode,
				Entries: []FileEntry{
					{Path: "classes/Main.class", Size: 5},
				},
				Digest: digest.Digest("sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
				Size:   5,
			},
		},
	}

	records := plan.Records()
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].OrderIndex != 0 || records[1].OrderIndex != 1 {
		t.Error("Record order indexes do not match layer order")
	}
	if len(records[0].Paths) != 2 || records[0].Paths[0] != "libs/a.jar" {
		t.Errorf("Unexpected record paths: %v", records[0].Paths)
	}
	if plan.TotalSize() != 35 {
		t.Errorf("Expected total size 35, got %d", plan.TotalSize())
	}
	if plan.TotalEntries() != 3 {
		t.Errorf("Expected 3 entries, got %d", plan.TotalEntries())
	}
}
