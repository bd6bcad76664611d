// Package engine orchestrates the planning pipeline: scan the build output
// tree, classify every file, partition the classes into layers, emit the
// plan, and drive a backend through assembly. The engine owns the cache
// store lifecycle and the plan state machine; all heavy lifting lives in
// the stage packages.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/stratumbuild/stratum/backends"
	"github.com/stratumbuild/stratum/cache"
	"github.com/stratumbuild/stratum/classify"
	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/logging"
	"github.com/stratumbuild/stratum/internal/types"
	"github.com/stratumbuild/stratum/layers"
	"github.com/stratumbuild/stratum/layouts"
	"github.com/stratumbuild/stratum/partition"
	"github.com/stratumbuild/stratum/plan"
	"github.com/stratumbuild/stratum/registry"
)

// Stage names used for progress and metrics.
const (
	StageScan      = "scan"
	StageClassify  = "classify"
	StagePartition = "partition"
	StageEmit      = "emit"
	StageAssemble  = "assemble"
)

// Planner wires the pipeline stages together for one configuration.
type Planner struct {
	config      *types.PlanConfig
	policy      *types.LayerPolicy
	scanner     *classify.Scanner
	classifier  *classify.Classifier
	partitioner *partition.Partitioner
	emitter     *plan.Emitter
	store       *cache.Store
	compression layers.CompressionType
	logger      *logging.PlanLogger
	progress    *ProgressTracker
	metrics     *MetricsCollector
}

// NewPlanner validates the configuration and resolves every collaborator:
// layout rules, classifier, partitioner, and the cache store. Policy rules
// replace the layout's rule preset when present; the layout fills whatever
// the policy leaves unset.
func NewPlanner(config *types.PlanConfig) (*Planner, error) {
	if config == nil {
		return nil, errors.NewConfigurationError("plan config is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.NewConfigurationError(err.Error(), err)
	}

	policy := config.Policy
	if policy == nil {
		policy = types.DefaultLayerPolicy()
	}

	classifier, err := ResolveClassifier(policy, config.Layout)
	if err != nil {
		return nil, err
	}

	partitioner, err := partition.NewPartitioner(policy)
	if err != nil {
		return nil, err
	}

	compression, err := layers.ParseCompression(config.Compression)
	if err != nil {
		return nil, errors.NewConfigurationError(err.Error(), err)
	}

	cacheDir := config.CacheDir
	if cacheDir == "" {
		cacheDir, err = cache.DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	store, err := cache.Open(cacheDir)
	if err != nil {
		return nil, err
	}

	logger := logging.NewPlanLogger()
	if config.Verbose {
		logger.SetLogLevel(logging.LogLevelDebug)
	}

	var progressOut io.Writer
	if config.Progress {
		progressOut = os.Stdout
	}
	progress := NewProgressTracker(progressOut, config.Verbose,
		StageScan, StageClassify, StagePartition, StageEmit, StageAssemble)

	return &Planner{
		config:      config,
		policy:      policy,
		scanner:     classify.NewScanner(config.Context, classify.ScanOptions{Excludes: config.Excludes}),
		classifier:  classifier,
		partitioner: partitioner,
		emitter:     plan.NewEmitter(),
		store:       store,
		compression: compression,
		logger:      logger,
		progress:    progress,
		metrics:     NewMetricsCollector(),
	}, nil
}

// SetProgressOutput redirects the progress display.
func (p *Planner) SetProgressOutput(w io.Writer) {
	p.progress.output = w
}

// Logger exposes the planner's structured logger.
func (p *Planner) Logger() *logging.PlanLogger {
	return p.logger
}

// Store exposes the planner's cache store.
func (p *Planner) Store() *cache.Store {
	return p.store
}

// GetMetrics returns the metrics collected so far.
func (p *Planner) GetMetrics() *PlanMetrics {
	return p.metrics.GetMetrics()
}

// Finish closes progress and metrics for the run.
func (p *Planner) Finish(success bool) {
	p.progress.Finish(success)
	p.metrics.Finish(success)
}

// Plan runs scan, classify, partition, and emit, and returns the derived
// plan. Cancellation is honored between phases; a canceled run emits no
// partial plan.
func (p *Planner) Plan(ctx context.Context) (*types.BuildPlan, error) {
	start := time.Now()
	layoutName := p.config.Layout
	if layoutName == "" {
		layoutName = layouts.DefaultLayoutName
	}
	p.logger.LogPlanStart(p.config.Context, layoutName)

	// Scan.
	if err := p.checkCanceled(ctx, StageScan); err != nil {
		return nil, err
	}
	p.startStage(StageScan)
	scanStart := time.Now()
	entries, err := p.scanner.Scan()
	if err != nil {
		return nil, p.failStage(StageScan, err)
	}
	var scannedBytes int64
	for i := range entries {
		scannedBytes += entries[i].Size
	}
	p.metrics.RecordScan(len(entries), scannedBytes)
	p.logger.LogScanComplete(len(entries), scannedBytes, time.Since(scanStart))
	p.completeStage(StageScan)

	// Classify.
	if err := p.checkCanceled(ctx, StageClassify); err != nil {
		return nil, err
	}
	p.startStage(StageClassify)
	classifyStart := time.Now()
	classified, err := p.classifier.ClassifyAll(entries)
	if err != nil {
		return nil, p.failStage(StageClassify, err)
	}
	bytesPerClass := make(map[string]int64)
	for i := range classified {
		bytesPerClass[classified[i].Class.String()] += classified[i].Size
	}
	p.metrics.RecordClassBytes(bytesPerClass)
	p.logger.LogClassifyComplete(classify.Counts(classified), time.Since(classifyStart))
	p.completeStage(StageClassify)

	// Partition.
	if err := p.checkCanceled(ctx, StagePartition); err != nil {
		return nil, err
	}
	p.startStage(StagePartition)
	partitionStart := time.Now()
	layerSet, err := p.partitioner.Partition(classified)
	if err != nil {
		return nil, p.failStage(StagePartition, err)
	}
	p.metrics.RecordLayers(len(layerSet))
	p.logger.LogPartitionComplete(len(layerSet), time.Since(partitionStart))
	p.completeStage(StagePartition)

	// Emit.
	if err := p.checkCanceled(ctx, StageEmit); err != nil {
		return nil, err
	}
	p.startStage(StageEmit)
	buildPlan, err := p.emitter.Emit(layerSet, p.config.BaseImage, p.policy.Entrypoint)
	if err != nil {
		return nil, p.failStage(StageEmit, err)
	}
	p.completeStage(StageEmit)

	p.logger.SetPlanID(buildPlan.ID)
	p.logger.LogPlanComplete(buildPlan.ID, len(buildPlan.Layers), buildPlan.TotalSize(), time.Since(start))
	return buildPlan, nil
}

// Assemble drives one plan through the configured backend. The plan moves
// planned to assembling to assembled or failed; the returned result carries
// the final state even on failure.
func (p *Planner) Assemble(ctx context.Context, buildPlan *types.BuildPlan) (*types.AssembleResult, error) {
	start := time.Now()

	if err := plan.Validate(buildPlan); err != nil {
		return nil, err
	}
	p.logger.SetPlanID(buildPlan.ID)

	backendName := p.config.Backend
	if backendName == "" {
		backendName = backends.DefaultBackendName
	}
	backend, err := backends.GetBackend(backendName)
	if err != nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("failed to get backend: %v", err), err)
	}

	state := types.StatePlanned
	state, err = advanceState(state, types.StateAssembling)
	if err != nil {
		return nil, err
	}
	p.logger.LogAssemblyStart(backendName, len(buildPlan.Layers))
	p.startStage(StageAssemble)

	request := &backends.Request{
		Plan:        buildPlan,
		TreeRoot:    p.config.Context,
		Output:      p.config.Output,
		Tag:         p.config.Tag,
		Platform:    p.config.Platform,
		Args:        p.config.Args,
		Compression: p.compression,
		NoCache:     p.config.NoCache,
		Store:       p.store,
		Registry:    p.registryClient(),
		Logger:      p.logger,
	}

	result, assembleErr := backend.Assemble(ctx, request)
	if assembleErr != nil {
		state, _ = advanceState(state, types.StateFailed)
		p.failStage(StageAssemble, assembleErr)
		p.logger.LogAssemblyComplete(backendName, false, "", time.Since(start))
		result = &types.AssembleResult{
			State:       state,
			Backend:     backendName,
			LayersTotal: len(buildPlan.Layers),
			Duration:    time.Since(start),
			Error:       assembleErr.Error(),
		}
		return result, assembleErr
	}

	state, err = advanceState(state, types.StateAssembled)
	if err != nil {
		return nil, err
	}
	result.State = state
	result.Duration = time.Since(start)
	p.metrics.RecordAssembly(result.LayersReused, result.LayersMaterialized)
	p.completeStage(StageAssemble)
	p.logger.LogAssemblyComplete(backendName, true, result.ImageRef, result.Duration)
	return result, nil
}

// PlanAndAssemble runs the full pipeline in one call.
func (p *Planner) PlanAndAssemble(ctx context.Context) (*types.BuildPlan, *types.AssembleResult, error) {
	buildPlan, err := p.Plan(ctx)
	if err != nil {
		return nil, nil, err
	}
	result, err := p.Assemble(ctx, buildPlan)
	if err != nil {
		return buildPlan, result, err
	}
	return buildPlan, result, nil
}

// GetCacheInfo summarizes the planner's cache store.
func (p *Planner) GetCacheInfo() (*types.CacheInfo, error) {
	return p.store.Info()
}

// PruneCache removes records older than maxAge and any blobs no record
// references.
func (p *Planner) PruneCache(maxAge time.Duration) (int, int64, error) {
	return p.store.Prune(maxAge)
}

// ClearCache removes every record and blob.
func (p *Planner) ClearCache() error {
	return p.store.Clear()
}

// registryClient builds the registry client for assembly, wiring in
// credentials for the push target or the base image registry when the
// provider can find any.
func (p *Planner) registryClient() *registry.Client {
	options := registry.DefaultClientOptions()
	if p.config.RegistryTimeout > 0 {
		options.Timeout = p.config.RegistryTimeout
	}
	options.InsecureRegistries = p.config.InsecureRegistries
	client := registry.NewClient(options)

	if host := registryHost(p.config.Tag, p.config.BaseImage); host != "" {
		provider := registry.NewAuthProvider(nil)
		if auth, err := provider.GetAuthenticator(host); err == nil {
			client.SetAuthenticator(auth)
		}
	}
	return client
}

// ResolveClassifier builds the classifier for a policy and layout name.
// Policy rules replace the layout's rule preset when present; the layout
// fills whatever the policy leaves unset.
func ResolveClassifier(policy *types.LayerPolicy, layoutName string) (*classify.Classifier, error) {
	if policy == nil {
		policy = types.DefaultLayerPolicy()
	}
	if layoutName == "" {
		layoutName = layouts.DefaultLayoutName
	}
	layout, err := layouts.GetLayout(layoutName)
	if err != nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("failed to get layout: %v", err), err)
	}

	rules := policy.Rules
	if len(rules) == 0 {
		rules = layout.Rules()
	}
	defaultClass := policy.DefaultClass
	if defaultClass == "" {
		defaultClass = layout.DefaultClass()
	}

	return classify.NewClassifier(classify.Config{
		Rules:           rules,
		DefaultClass:    defaultClass,
		SnapshotMarkers: policy.SnapshotMarkers,
	})
}

// registryHost returns the registry of the first parseable reference,
// skipping the no-network scratch base.
func registryHost(refs ...string) string {
	for _, ref := range refs {
		if ref == "" || ref == registry.BaseScratch {
			continue
		}
		parsed, err := name.ParseReference(ref, name.WeakValidation)
		if err != nil {
			continue
		}
		return parsed.Context().RegistryStr()
	}
	return ""
}

// advanceState validates one plan state transition.
func advanceState(current, next types.PlanState) (types.PlanState, error) {
	if !current.CanTransition(next) {
		return current, errors.NewAssemblyError("state_transition",
			fmt.Sprintf("illegal plan state transition %s to %s", current, next), nil)
	}
	return next, nil
}

func (p *Planner) startStage(name string) {
	p.progress.StartStage(name)
	p.metrics.StartPhase(name)
}

func (p *Planner) completeStage(name string) {
	p.progress.CompleteStage(name, true, "")
	p.metrics.EndPhase(name, true)
}

func (p *Planner) failStage(name string, err error) error {
	p.progress.CompleteStage(name, false, err.Error())
	p.metrics.EndPhase(name, false)
	p.logger.LogError(err, name)
	return err
}

// checkCanceled turns context cancellation into a stage failure before the
// stage starts any work.
func (p *Planner) checkCanceled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		planErr := errors.NewErrorBuilder().
			Category(errors.ErrorCategoryTimeout).
			Operation(stage).
			Messagef("planning canceled before %s", stage).
			Cause(err).
			Build()
		p.logger.LogError(planErr, stage)
		return planErr
	}
	return nil
}
