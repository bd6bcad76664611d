package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// VolatilityClass ranks files by how often their content is expected to
// change between builds. Layers are ordered from least to most volatile so
// that stable layers keep their cache identity across rebuilds.
type VolatilityClass string

const (
	ClassFixedDependency    VolatilityClass = "fixed_dependency"
	ClassSnapshotDependency VolatilityClass = "snapshot_dependency"
	ClassResource           VolatilityClass = "resource"
	ClassApplicationCode    VolatilityClass = "application_code"
)

// DefaultVolatilityOrder returns the built-in class ordering, least volatile
// first.
func DefaultVolatilityOrder() []VolatilityClass {
	return []VolatilityClass{
		ClassFixedDependency,
		ClassSnapshotDependency,
		ClassResource,
		ClassApplicationCode,
	}
}

// ParseVolatilityClass converts a string into a VolatilityClass.
func ParseVolatilityClass(s string) (VolatilityClass, error) {
	c := VolatilityClass(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("invalid volatility class: %s", s)
	}
	return c, nil
}

// Valid reports whether c is one of the four known classes.
func (c VolatilityClass) Valid() bool {
	switch c {
	case ClassFixedDependency, ClassSnapshotDependency, ClassResource, ClassApplicationCode:
		return true
	}
	return false
}

func (c VolatilityClass) String() string {
	return string(c)
}

// FileEntry describes one regular file in the build-output tree. Path is
// slash-separated and relative to the tree root. Digest is the sha256 digest
// of the file content.
type FileEntry struct {
	Path   string          `json:"path"`
	Size   int64           `json:"size"`
	Digest digest.Digest   `json:"digest"`
	Class  VolatilityClass `json:"class"`
}

// SortFileEntries orders entries lexicographically by path, the canonical
// order used everywhere a digest is derived.
func SortFileEntries(entries []FileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
}

// Layer is an ordered group of file entries sharing one volatility class.
// Digest is derived from the canonical (path, content digest) sequence of
// Entries and never from timestamps or on-disk ordering.
type Layer struct {
	OrderIndex int             `json:"order_index"`
	Class      VolatilityClass `json:"class"`
	Entries    []FileEntry     `json:"entries"`
	Digest     digest.Digest   `json:"digest,omitempty"`
	Size       int64           `json:"size"`
}

// Paths returns the entry paths of the layer in canonical order.
func (l *Layer) Paths() []string {
	paths := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		paths[i] = e.Path
	}
	return paths
}

// EntrypointSpec describes how the assembled image starts. Args is a
// template: "{0}".."{n}" substitute positional runtime arguments and "{*}"
// expands to every argument not consumed by a positional token. OptionsEnv
// names the environment variable the runtime reads extra options from.
type EntrypointSpec struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args,omitempty"`
	OptionsEnv string   `json:"options_env,omitempty"`
}

// DefaultOptionsEnv is the environment variable consulted for runtime
// options when the policy does not name one.
const DefaultOptionsEnv = "STRATUM_OPTS"

// Command renders the container command from the template and the given
// runtime arguments. A positional token without a matching argument is an
// error; "{*}" with no remaining arguments expands to nothing.
func (e *EntrypointSpec) Command(args []string) ([]string, error) {
	if e.Executable == "" {
		return nil, fmt.Errorf("entrypoint executable is empty")
	}
	cmd := []string{e.Executable}
	consumed := make(map[int]bool)
	rest := -1
	for _, tok := range e.Args {
		switch {
		case tok == "{*}":
			rest = len(cmd)
			cmd = append(cmd, tok)
		case strings.HasPrefix(tok, "{") && strings.HasSuffix(tok, "}"):
			idx, err := strconv.Atoi(tok[1 : len(tok)-1])
			if err != nil {
				cmd = append(cmd, tok)
				continue
			}
			if idx < 0 || idx >= len(args) {
				return nil, fmt.Errorf("entrypoint argument %s has no value (got %d arguments)", tok, len(args))
			}
			consumed[idx] = true
			cmd = append(cmd, args[idx])
		default:
			cmd = append(cmd, tok)
		}
	}
	if rest >= 0 {
		var remaining []string
		for i, a := range args {
			if !consumed[i] {
				remaining = append(remaining, a)
			}
		}
		tail := append([]string{}, cmd[rest+1:]...)
		cmd = append(append(cmd[:rest], remaining...), tail...)
	} else if len(e.Args) == 0 && len(args) > 0 {
		cmd = append(cmd, args...)
	}
	return cmd, nil
}

// DefaultMaxLayers bounds the layer count when the policy does not set one.
const DefaultMaxLayers = 4

// ClassificationRule maps doublestar path patterns to one volatility class.
// Patterns match slash-separated paths relative to the tree root.
type ClassificationRule struct {
	Class    VolatilityClass `json:"class" yaml:"class"`
	Patterns []string        `json:"patterns" yaml:"patterns"`
}

// LayerPolicy controls how the partitioner groups files into layers.
// MaxLayerBytes of zero means unlimited. Rules, when set, replace the rule
// preset supplied by the configured layout.
type LayerPolicy struct {
	MaxLayers       int                  `json:"max_layers" yaml:"max_layers"`
	MaxLayerBytes   int64                `json:"max_layer_bytes,omitempty" yaml:"max_layer_bytes"`
	VolatilityOrder []VolatilityClass    `json:"volatility_order,omitempty" yaml:"volatility_order"`
	Entrypoint      EntrypointSpec       `json:"entrypoint" yaml:"entrypoint"`
	Rules           []ClassificationRule `json:"rules,omitempty" yaml:"rules"`
	SnapshotMarkers []string             `json:"snapshot_markers,omitempty" yaml:"snapshot_markers"`
	DefaultClass    VolatilityClass      `json:"default_class,omitempty" yaml:"default_class"`
}

// DefaultLayerPolicy returns the policy used when no policy file is given.
func DefaultLayerPolicy() *LayerPolicy {
	return &LayerPolicy{
		MaxLayers:       DefaultMaxLayers,
		VolatilityOrder: DefaultVolatilityOrder(),
		SnapshotMarkers: []string{"-SNAPSHOT"},
		DefaultClass:    ClassApplicationCode,
	}
}

// Order returns the effective volatility ordering.
func (p *LayerPolicy) Order() []VolatilityClass {
	if len(p.VolatilityOrder) == 0 {
		return DefaultVolatilityOrder()
	}
	return p.VolatilityOrder
}

// Validate checks the policy invariants. A custom volatility order must be a
// permutation of the four classes so every classified file has a layer slot.
func (p *LayerPolicy) Validate() error {
	if p.MaxLayers < 1 {
		return fmt.Errorf("max_layers must be at least 1, got %d", p.MaxLayers)
	}
	if p.MaxLayerBytes < 0 {
		return fmt.Errorf("max_layer_bytes must not be negative, got %d", p.MaxLayerBytes)
	}
	if len(p.VolatilityOrder) > 0 {
		if len(p.VolatilityOrder) != 4 {
			return fmt.Errorf("volatility_order must list all four classes, got %d", len(p.VolatilityOrder))
		}
		seen := make(map[VolatilityClass]bool)
		for _, c := range p.VolatilityOrder {
			if !c.Valid() {
				return fmt.Errorf("volatility_order contains invalid class: %s", c)
			}
			if seen[c] {
				return fmt.Errorf("volatility_order repeats class: %s", c)
			}
			seen[c] = true
		}
	}
	if p.DefaultClass != "" && !p.DefaultClass.Valid() {
		return fmt.Errorf("default_class is invalid: %s", p.DefaultClass)
	}
	for _, m := range p.SnapshotMarkers {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("snapshot_markers must not contain empty markers")
		}
	}
	return nil
}

// PlanConfig is the full input to one planning run.
type PlanConfig struct {
	Context            string        `json:"context"`
	Layout             string        `json:"layout,omitempty"`
	Policy             *LayerPolicy  `json:"policy,omitempty"`
	Excludes           []string      `json:"excludes,omitempty"`
	BaseImage          string        `json:"base_image"`
	Backend            string        `json:"backend,omitempty"`
	Output             string        `json:"output,omitempty"`
	Tag                string        `json:"tag,omitempty"`
	Platform           string        `json:"platform,omitempty"`
	Args               []string      `json:"args,omitempty"`
	Compression        string        `json:"compression,omitempty"`
	CacheDir           string        `json:"cache_dir,omitempty"`
	NoCache            bool          `json:"no_cache,omitempty"`
	RegistryTimeout    time.Duration `json:"registry_timeout,omitempty"`
	InsecureRegistries []string      `json:"insecure_registries,omitempty"`
	Progress           bool          `json:"progress,omitempty"`
	Verbose            bool          `json:"verbose,omitempty"`
}

// Validate checks the parts of the config the engine depends on.
func (c *PlanConfig) Validate() error {
	if c.Context == "" {
		return fmt.Errorf("context directory is required")
	}
	if c.BaseImage == "" {
		return fmt.Errorf("base image reference is required")
	}
	if c.Policy != nil {
		if err := c.Policy.Validate(); err != nil {
			return fmt.Errorf("invalid layer policy: %v", err)
		}
	}
	return nil
}

// PlanState tracks a plan through assembly.
type PlanState string

const (
	StatePlanned    PlanState = "planned"
	StateAssembling PlanState = "assembling"
	StateAssembled  PlanState = "assembled"
	StateFailed     PlanState = "failed"
)

// CanTransition reports whether moving from s to next is legal. Plans move
// planned to assembling, then to assembled or failed; terminal states never
// move again.
func (s PlanState) CanTransition(next PlanState) bool {
	switch s {
	case StatePlanned:
		return next == StateAssembling
	case StateAssembling:
		return next == StateAssembled || next == StateFailed
	}
	return false
}

// BuildPlan is the immutable output of planning. Layer digests are derived
// once at emission and never recomputed downstream. Digest covers the
// ordered layer digest sequence and identifies the whole plan.
type BuildPlan struct {
	ID         string         `json:"id"`
	BaseImage  string         `json:"base_image"`
	Entrypoint EntrypointSpec `json:"entrypoint"`
	Layers     []Layer        `json:"layers"`
	Digest     digest.Digest  `json:"digest"`
}

// TotalSize returns the byte total across all layers.
func (p *BuildPlan) TotalSize() int64 {
	var total int64
	for i := range p.Layers {
		total += p.Layers[i].Size
	}
	return total
}

// TotalEntries returns the file count across all layers.
func (p *BuildPlan) TotalEntries() int {
	var total int
	for i := range p.Layers {
		total += len(p.Layers[i].Entries)
	}
	return total
}

// PlanRecord is one row of the flat plan serialization consumed by external
// tooling.
type PlanRecord struct {
	OrderIndex int           `json:"order_index"`
	Paths      []string      `json:"paths"`
	Digest     digest.Digest `json:"digest"`
}

// Records flattens the plan into one record per layer.
func (p *BuildPlan) Records() []PlanRecord {
	records := make([]PlanRecord, len(p.Layers))
	for i := range p.Layers {
		records[i] = PlanRecord{
			OrderIndex: p.Layers[i].OrderIndex,
			Paths:      p.Layers[i].Paths(),
			Digest:     p.Layers[i].Digest,
		}
	}
	return records
}

// CacheRecord maps a layer content digest to the artifact a backend produced
// for it. Records are append-only: once written for a digest they are never
// modified.
type CacheRecord struct {
	LayerDigest digest.Digest `json:"layer_digest"`
	BlobDigest  digest.Digest `json:"blob_digest,omitempty"`
	DiffID      digest.Digest `json:"diff_id,omitempty"`
	ArtifactRef string        `json:"artifact_ref"`
	MediaType   string        `json:"media_type,omitempty"`
	Compression string        `json:"compression,omitempty"`
	Size        int64         `json:"size"`
	Backend     string        `json:"backend,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// AssembleResult reports the outcome of driving one plan through a backend.
type AssembleResult struct {
	State              PlanState         `json:"state"`
	Backend            string            `json:"backend"`
	ImageRef           string            `json:"image_ref,omitempty"`
	LayersTotal        int               `json:"layers_total"`
	LayersReused       int               `json:"layers_reused"`
	LayersMaterialized int               `json:"layers_materialized"`
	Duration           time.Duration     `json:"duration"`
	Outputs            map[string]string `json:"outputs,omitempty"`
	Error              string            `json:"error,omitempty"`
}

// CacheInfo summarizes the on-disk cache for the CLI.
type CacheInfo struct {
	Location     string    `json:"location"`
	TotalRecords int       `json:"total_records"`
	TotalBlobs   int       `json:"total_blobs"`
	TotalSize    int64     `json:"total_size"`
	OldestRecord time.Time `json:"oldest_record,omitempty"`
	NewestRecord time.Time `json:"newest_record,omitempty"`
}
