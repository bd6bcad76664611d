package layouts

import (
	"testing"

	"github.com/stratumbuild/stratum/classify"
	"github.com/stratumbuild/stratum/internal/types"
)

func TestRegistryListsBuiltins(t *testing.T) {
	names := ListLayouts()
	want := map[string]bool{"exploded": false, "gradle": false, "maven": false}
	for _, name := range names {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("Builtin layout %s not registered", name)
		}
	}

	// List must be sorted for stable CLI output.
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("ListLayouts not sorted: %v", names)
		}
	}
}

func TestGetUnknownLayout(t *testing.T) {
	if _, err := GetLayout("bazel"); err == nil {
		t.Error("Expected error for unknown layout")
	}
}

func classifyWith(t *testing.T, layoutName, path string) types.VolatilityClass {
	t.Helper()
	layout, err := GetLayout(layoutName)
	if err != nil {
		t.Fatalf("GetLayout(%s) failed: %v", layoutName, err)
	}
	classifier, err := classify.NewClassifier(classify.Config{
		Rules:           layout.Rules(),
		DefaultClass:    layout.DefaultClass(),
		SnapshotMarkers: []string{"-SNAPSHOT"},
	})
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	class, err := classifier.Classify(path)
	if err != nil {
		t.Fatalf("Classify(%s) failed: %v", path, err)
	}
	return class
}

func TestExplodedLayout(t *testing.T) {
	tests := []struct {
		path string
		want types.VolatilityClass
	}{
		{"libs/guava-32.1.jar", types.ClassFixedDependency},
		{"libs/acme-1.0-SNAPSHOT.jar", types.ClassSnapshotDependency},
		{"resources/application.yml", types.ClassResource},
		{"classes/com/acme/Main.class", types.ClassApplicationCode},
		{"run.sh", types.ClassApplicationCode},
	}
	for _, tt := range tests {
		if got := classifyWith(t, "exploded", tt.path); got != tt.want {
			t.Errorf("exploded %s = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestMavenLayout(t *testing.T) {
	tests := []struct {
		path string
		want types.VolatilityClass
	}{
		{"target/dependency/spring-core-6.1.jar", types.ClassFixedDependency},
		{"target/dependency/acme-api-0.9-SNAPSHOT.jar", types.ClassSnapshotDependency},
		{"target/classes/com/acme/Main.class", types.ClassApplicationCode},
		{"target/classes/Main.class", types.ClassApplicationCode},
		{"target/classes/application.properties", types.ClassResource},
		{"target/classes/static/index.html", types.ClassResource},
	}
	for _, tt := range tests {
		if got := classifyWith(t, "maven", tt.path); got != tt.want {
			t.Errorf("maven %s = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestGradleLayout(t *testing.T) {
	tests := []struct {
		path string
		want types.VolatilityClass
	}{
		{"build/install/app/lib/okhttp-4.12.jar", types.ClassFixedDependency},
		{"build/install/app/lib/acme-core-1.2-SNAPSHOT.jar", types.ClassSnapshotDependency},
		{"build/resources/main/logback.xml", types.ClassResource},
		{"build/classes/java/main/com/acme/App.class", types.ClassApplicationCode},
	}
	for _, tt := range tests {
		if got := classifyWith(t, "gradle", tt.path); got != tt.want {
			t.Errorf("gradle %s = %s, want %s", tt.path, got, tt.want)
		}
	}
}
