package plan

import (
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/stratumbuild/stratum/internal/types"
)

func testEntries() []types.FileEntry {
	return []types.FileEntry{
		{Path: "classes/com/acme/App.class", Size: 120, Digest: digest.FromString("app"), Class: types.ClassApplicationCode},
		{Path: "classes/com/acme/Main.class", Size: 300, Digest: digest.FromString("main"), Class: types.ClassApplicationCode},
		{Path: "classes/logback.xml", Size: 40, Digest: digest.FromString("xml"), Class: types.ClassApplicationCode},
	}
}

func TestLayerDigestDeterministic(t *testing.T) {
	first := LayerDigest(testEntries())
	second := LayerDigest(testEntries())
	if first != second {
		t.Errorf("Digest not deterministic: %s vs %s", first, second)
	}
	if err := first.Validate(); err != nil {
		t.Errorf("Digest invalid: %v", err)
	}
}

func TestLayerDigestIgnoresInputOrder(t *testing.T) {
	entries := testEntries()
	reversed := []types.FileEntry{entries[2], entries[0], entries[1]}

	if LayerDigest(entries) != LayerDigest(reversed) {
		t.Error("Digest must not depend on input ordering")
	}
}

func TestLayerDigestSensitiveToContent(t *testing.T) {
	entries := testEntries()
	base := LayerDigest(entries)

	entries[1].Digest = digest.FromString("main-v2")
	if LayerDigest(entries) == base {
		t.Error("Digest must change when file content changes")
	}
}

func TestLayerDigestSensitiveToPath(t *testing.T) {
	entries := testEntries()
	base := LayerDigest(entries)

	entries[0].Path = "classes/com/acme/Renamed.class"
	if LayerDigest(entries) == base {
		t.Error("Digest must change when a path changes")
	}
}

func TestLayerDigestIgnoresSizeAndClass(t *testing.T) {
	// The cache key covers (path, content digest) pairs only.
	entries := testEntries()
	base := LayerDigest(entries)

	entries[0].Size = 999999
	entries[0].Class = types.ClassResource
	if LayerDigest(entries) != base {
		t.Error("Digest must cover only path and content digest")
	}
}

func TestLayerDigestDoesNotMutateInput(t *testing.T) {
	entries := []types.FileEntry{
		{Path: "b", Digest: digest.FromString("b")},
		{Path: "a", Digest: digest.FromString("a")},
	}
	LayerDigest(entries)
	if entries[0].Path != "b" {
		t.Error("LayerDigest must not reorder the caller's slice")
	}
}

func TestPlanDigestTracksLayerDigests(t *testing.T) {
	layers := []types.Layer{
		{OrderIndex: 0, Digest: digest.FromString("layer0")},
		{OrderIndex: 1, Digest: digest.FromString("layer1")},
	}
	base := PlanDigest(layers)

	layers[1].Digest = digest.FromString("layer1-changed")
	if PlanDigest(layers) == base {
		t.Error("Plan digest must change when a layer digest changes")
	}
}
