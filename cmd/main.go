package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/stratumbuild/stratum/backends"
	"github.com/stratumbuild/stratum/cache"
	"github.com/stratumbuild/stratum/classify"
	"github.com/stratumbuild/stratum/engine"
	"github.com/stratumbuild/stratum/internal/types"
	"github.com/stratumbuild/stratum/layouts"
	"github.com/stratumbuild/stratum/plan"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stratum",
		Short: "Deterministic layer planner for container images",
		Long: `Stratum plans cache-optimal container image layers for language-runtime
applications. It scans a build output tree, classifies every file by how
often it changes, groups the classes into layers ordered least volatile
first, and assembles the result into an OCI image without a daemon.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newPlanCommand())
	cmd.AddCommand(newAssembleCommand())
	cmd.AddCommand(newClassifyCommand())
	cmd.AddCommand(newDiffCommand())
	cmd.AddCommand(newCacheCommand())

	return cmd
}

// planFlags are the flags shared by the plan and assemble commands.
type planFlags struct {
	layout         string
	policyFile     string
	baseImage      string
	entrypoint     string
	entrypointArgs []string
	optionsEnv     string
	excludes       []string
	cacheDir       string
	verbose        bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.layout, "layout", "", fmt.Sprintf("Build output layout (%v, default: %s)", layouts.ListLayouts(), layouts.DefaultLayoutName))
	cmd.Flags().StringVar(&f.policyFile, "policy", "", "Path to a layer policy YAML file")
	cmd.Flags().StringVar(&f.baseImage, "base-image", "", "Base image reference (use \"scratch\" for none)")
	cmd.Flags().StringVar(&f.entrypoint, "entrypoint", "", "Entrypoint executable, relative to the tree root")
	cmd.Flags().StringArrayVar(&f.entrypointArgs, "entrypoint-arg", nil, "Entrypoint argument template tokens ({0}, {*}, or literals)")
	cmd.Flags().StringVar(&f.optionsEnv, "options-env", "", "Environment variable consulted for runtime options")
	cmd.Flags().StringArrayVar(&f.excludes, "exclude", nil, "Glob patterns to leave out of the plan")
	cmd.Flags().StringVar(&f.cacheDir, "cache-dir", "", "Cache directory (default: ~/.stratum/cache)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
}

// policy merges the policy file and the entrypoint flags over the defaults.
func (f *planFlags) policy() (*types.LayerPolicy, error) {
	policy := types.DefaultLayerPolicy()
	if f.policyFile != "" {
		data, err := os.ReadFile(f.policyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %v", err)
		}
		if err := yaml.Unmarshal(data, policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy file: %v", err)
		}
	}
	if f.entrypoint != "" {
		policy.Entrypoint.Executable = f.entrypoint
	}
	if len(f.entrypointArgs) > 0 {
		policy.Entrypoint.Args = f.entrypointArgs
	}
	if f.optionsEnv != "" {
		policy.Entrypoint.OptionsEnv = f.optionsEnv
	}
	return policy, nil
}

func resolveContext(args []string) (string, error) {
	contextDir := "."
	if len(args) > 0 {
		contextDir = args[0]
	}
	absContext, err := filepath.Abs(contextDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve context path: %v", err)
	}
	if _, err := os.Stat(absContext); os.IsNotExist(err) {
		return "", fmt.Errorf("context directory does not exist: %s", absContext)
	}
	return absContext, nil
}

func newPlanCommand() *cobra.Command {
	var (
		flags  planFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "plan [context]",
		Short: "Derive a layer plan from a build output tree",
		Long: `Scan the build output tree, classify every file by volatility, partition
the classes into layers, and write the deterministic plan as JSON. The
same tree and policy always produce the same plan.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absContext, err := resolveContext(args)
			if err != nil {
				return err
			}

			policy, err := flags.policy()
			if err != nil {
				return err
			}

			config := &types.PlanConfig{
				Context:   absContext,
				Layout:    flags.layout,
				Policy:    policy,
				Excludes:  flags.excludes,
				BaseImage: flags.baseImage,
				CacheDir:  flags.cacheDir,
				Verbose:   flags.verbose,
			}

			planner, err := engine.NewPlanner(config)
			if err != nil {
				return fmt.Errorf("failed to create planner: %v", err)
			}

			buildPlan, err := planner.Plan(context.Background())
			planner.Finish(err == nil)
			if err != nil {
				return fmt.Errorf("planning failed: %v", err)
			}

			if err := plan.Save(buildPlan, output); err != nil {
				return fmt.Errorf("failed to write plan: %v", err)
			}

			fmt.Printf("Plan %s (base %s)\n", buildPlan.ID, buildPlan.BaseImage)
			for _, layer := range buildPlan.Layers {
				fmt.Printf("  layer %d: %-20s %4d files  %s\n",
					layer.OrderIndex, layer.Class, len(layer.Entries), humanize.Bytes(uint64(layer.Size)))
			}
			fmt.Printf("Total: %d files, %s\n", buildPlan.TotalEntries(), humanize.Bytes(uint64(buildPlan.TotalSize())))
			fmt.Printf("Plan written to %s\n", output)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "stratum-plan.json", "Path for the plan JSON")
	cmd.MarkFlagRequired("base-image")

	return cmd
}

func newAssembleCommand() *cobra.Command {
	var (
		flags              planFlags
		planFile           string
		backend            string
		output             string
		tag                string
		platform           string
		compression        string
		noCache            bool
		progress           bool
		runtimeArgs        []string
		pushTimeout        time.Duration
		insecureRegistries []string
	)

	cmd := &cobra.Command{
		Use:   "assemble [context]",
		Short: "Assemble a plan into a container image",
		Long: `Assemble the layers of a plan into an image artifact through the chosen
backend. Without --plan the tree is planned first; with --plan the stored
plan is assembled as-is and the tree must not have drifted since planning.
Layers whose digests are already cached are reused without re-reading the
tree.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absContext, err := resolveContext(args)
			if err != nil {
				return err
			}

			policy, err := flags.policy()
			if err != nil {
				return err
			}

			config := &types.PlanConfig{
				Context:            absContext,
				Layout:             flags.layout,
				Policy:             policy,
				Excludes:           flags.excludes,
				BaseImage:          flags.baseImage,
				Backend:            backend,
				Output:             output,
				Tag:                tag,
				Platform:           platform,
				Args:               runtimeArgs,
				Compression:        compression,
				CacheDir:           flags.cacheDir,
				NoCache:            noCache,
				RegistryTimeout:    pushTimeout,
				InsecureRegistries: insecureRegistries,
				Progress:           progress,
				Verbose:            flags.verbose,
			}

			var buildPlan *types.BuildPlan
			if planFile != "" {
				buildPlan, err = plan.Load(planFile)
				if err != nil {
					return fmt.Errorf("failed to load plan: %v", err)
				}
				config.BaseImage = buildPlan.BaseImage
			} else if config.BaseImage == "" {
				return fmt.Errorf("either --plan or --base-image is required")
			}

			planner, err := engine.NewPlanner(config)
			if err != nil {
				return fmt.Errorf("failed to create planner: %v", err)
			}

			ctx := context.Background()
			var result *types.AssembleResult
			if buildPlan == nil {
				buildPlan, result, err = planner.PlanAndAssemble(ctx)
			} else {
				result, err = planner.Assemble(ctx, buildPlan)
			}
			planner.Finish(err == nil)
			if err != nil {
				return fmt.Errorf("assembly failed: %v", err)
			}

			fmt.Printf("Assembled plan %s with the %s backend\n", buildPlan.ID, result.Backend)
			if result.ImageRef != "" {
				fmt.Printf("Image: %s\n", result.ImageRef)
			}
			for name, value := range result.Outputs {
				fmt.Printf("  %s: %s\n", name, value)
			}
			fmt.Printf("Cache hits: %d/%d layers\n", result.LayersReused, result.LayersTotal)
			fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&planFile, "plan", "", "Assemble a previously written plan JSON instead of planning")
	cmd.Flags().StringVarP(&backend, "backend", "b", backends.DefaultBackendName, fmt.Sprintf("Assembly backend (%v)", backends.ListBackends()))
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (backend specific)")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Image tag in the 'name:tag' format")
	cmd.Flags().StringVar(&platform, "platform", "", "Target platform (e.g. linux/amd64)")
	cmd.Flags().StringVar(&compression, "compression", "", "Layer compression (none, gzip, zstd)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Materialize every layer even when cached")
	cmd.Flags().BoolVar(&progress, "progress", true, "Show progress")
	cmd.Flags().StringArrayVar(&runtimeArgs, "arg", nil, "Runtime arguments substituted into the entrypoint template")
	cmd.Flags().DurationVar(&pushTimeout, "push-timeout", 0, "Timeout for each registry operation")
	cmd.Flags().StringArrayVar(&insecureRegistries, "insecure-registry", nil, "Registries reached over plain HTTP")

	return cmd
}

func newClassifyCommand() *cobra.Command {
	var flags planFlags

	cmd := &cobra.Command{
		Use:   "classify [context]",
		Short: "Show the volatility class of every file in the tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absContext, err := resolveContext(args)
			if err != nil {
				return err
			}

			policy, err := flags.policy()
			if err != nil {
				return err
			}

			classifier, err := engine.ResolveClassifier(policy, flags.layout)
			if err != nil {
				return fmt.Errorf("failed to create classifier: %v", err)
			}

			scanner := classify.NewScanner(absContext, classify.ScanOptions{Excludes: flags.excludes})
			entries, err := scanner.Scan()
			if err != nil {
				return fmt.Errorf("scan failed: %v", err)
			}

			classified, err := classifier.ClassifyAll(entries)
			if err != nil {
				return fmt.Errorf("classification failed: %v", err)
			}

			for _, entry := range classified {
				fmt.Printf("%-20s %s\n", entry.Class, entry.Path)
			}

			counts := classify.Counts(classified)
			fmt.Printf("\n%d files", len(classified))
			for _, class := range types.DefaultVolatilityOrder() {
				if count := counts[class.String()]; count > 0 {
					fmt.Printf("  %s: %d", class, count)
				}
			}
			fmt.Println()
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func newDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <old-plan> <new-plan>",
		Short: "Compare two plan files layer by layer",
		Long: `Compare two plan files position by position. Unchanged layers keep their
cache identity across the two builds; the first changed layer invalidates
everything after it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldPlan, err := plan.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load %s: %v", args[0], err)
			}
			newPlan, err := plan.Load(args[1])
			if err != nil {
				return fmt.Errorf("failed to load %s: %v", args[1], err)
			}

			if oldPlan.Digest == newPlan.Digest {
				fmt.Printf("Plans are identical (%s)\n", oldPlan.Digest)
				return nil
			}

			for _, change := range plan.Diff(oldPlan, newPlan) {
				switch change.Change {
				case plan.ChangeUnchanged:
					fmt.Printf("  layer %d: %-20s unchanged  %s\n", change.OrderIndex, change.Class, change.OldDigest)
				case plan.ChangeModified:
					fmt.Printf("~ layer %d: %-20s modified   %s -> %s\n", change.OrderIndex, change.Class, change.OldDigest, change.NewDigest)
				case plan.ChangeAdded:
					fmt.Printf("+ layer %d: %-20s added      %s\n", change.OrderIndex, change.Class, change.NewDigest)
				case plan.ChangeRemoved:
					fmt.Printf("- layer %d: %-20s removed    %s\n", change.OrderIndex, change.Class, change.OldDigest)
				}
			}
			return nil
		},
	}

	return cmd
}

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the layer cache",
	}

	cmd.AddCommand(newCacheInfoCommand())
	cmd.AddCommand(newCachePruneCommand())
	cmd.AddCommand(newCacheClearCommand())

	return cmd
}

func openStore(cacheDir string) (*cache.Store, error) {
	if cacheDir == "" {
		dir, err := cache.DefaultDir()
		if err != nil {
			return nil, err
		}
		cacheDir = dir
	}
	return cache.Open(cacheDir)
}

func newCacheInfoCommand() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cacheDir)
			if err != nil {
				return fmt.Errorf("failed to open cache: %v", err)
			}

			info, err := store.Info()
			if err != nil {
				return fmt.Errorf("failed to get cache info: %v", err)
			}

			fmt.Printf("Location: %s\n", info.Location)
			fmt.Printf("Records: %d\n", info.TotalRecords)
			fmt.Printf("Blobs: %d\n", info.TotalBlobs)
			fmt.Printf("Total size: %s\n", humanize.Bytes(uint64(info.TotalSize)))
			if !info.OldestRecord.IsZero() {
				fmt.Printf("Oldest record: %s\n", humanize.Time(info.OldestRecord))
			}
			if !info.NewestRecord.IsZero() {
				fmt.Printf("Newest record: %s\n", humanize.Time(info.NewestRecord))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default: ~/.stratum/cache)")

	return cmd
}

func newCachePruneCommand() *cobra.Command {
	var (
		cacheDir string
		maxAge   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old records and unreferenced blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cacheDir)
			if err != nil {
				return fmt.Errorf("failed to open cache: %v", err)
			}

			removed, reclaimed, err := store.Prune(maxAge)
			if err != nil {
				return fmt.Errorf("failed to prune cache: %v", err)
			}

			fmt.Printf("Removed %d records\n", removed)
			fmt.Printf("Reclaimed %s\n", humanize.Bytes(uint64(reclaimed)))
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default: ~/.stratum/cache)")
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Remove records older than this")

	return cmd
}

func newCacheClearCommand() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every record and blob",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cacheDir)
			if err != nil {
				return fmt.Errorf("failed to open cache: %v", err)
			}

			if err := store.Clear(); err != nil {
				return fmt.Errorf("failed to clear cache: %v", err)
			}

			fmt.Printf("Cache cleared\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default: ~/.stratum/cache)")

	return cmd
}

func init() {
	// Registry credentials can come from a .env file next to the build
	// (STRATUM_REGISTRY_USERNAME and friends); absence is not an error.
	_ = godotenv.Load()
}
