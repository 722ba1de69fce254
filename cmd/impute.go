package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctimpute/ctimpute/internal/cache"
	"github.com/ctimpute/ctimpute/internal/hmm"
	"github.com/ctimpute/ctimpute/internal/refpanel"
	"github.com/ctimpute/ctimpute/internal/stream"
	"github.com/ctimpute/ctimpute/internal/symbol"
)

var (
	imputePanelPath  string
	imputeTargetPath string
	imputeOutPath    string
	imputeMode       string
	imputeCache      string
	imputeCacheAddr  string
	imputeCacheRoot  string
	imputeCacheBound int
	imputeWorkers    int
	imputeConfigPath string
)

var imputeCmd = &cobra.Command{
	Use:   "impute",
	Short: "Impute missing genotypes against a reference panel",
	RunE:  runImpute,
}

func init() {
	f := imputeCmd.Flags()
	f.StringVar(&imputePanelPath, "panel", "", "Reference panel file (M3VCF text, optionally .gz, or binary wire format)")
	f.StringVar(&imputeTargetPath, "target", "", "Target haplotype symbol stream")
	f.StringVar(&imputeOutPath, "out", "", "Output dosage stream path")
	f.StringVar(&imputeMode, "mode", "linear", "Engine mode: linear or const-time")
	f.StringVar(&imputeCache, "cache", "local", "Offload cache backend: local, file, encrypted, or tcp")
	f.StringVar(&imputeCacheAddr, "cache-addr", "", "host:port for the tcp cache backend")
	f.StringVar(&imputeCacheRoot, "cache-root", "", "Root directory for the file/encrypted cache backend (defaults to CTIMPUTE_CACHE_ROOT or os.TempDir())")
	f.IntVar(&imputeCacheBound, "cache-bound", 4, "In-memory ring size per forward-state cache")
	f.IntVar(&imputeWorkers, "workers", 1, "Maximum concurrent targets imputed at once")
	f.StringVar(&imputeConfigPath, "config", "", "Optional YAML engine config; flags override its values")
	_ = imputeCmd.MarkFlagRequired("panel")
	_ = imputeCmd.MarkFlagRequired("target")
	_ = imputeCmd.MarkFlagRequired("out")
}

func runImpute(cmd *cobra.Command, args []string) error {
	cfg := &EngineConfig{Mode: imputeMode, Cache: imputeCache, CacheAddr: imputeCacheAddr, CacheRoot: imputeCacheRoot, CacheBound: imputeCacheBound, Workers: imputeWorkers}
	if imputeConfigPath != "" {
		fileCfg, err := LoadEngineConfig(imputeConfigPath)
		if err != nil {
			return err
		}
		mergeEngineConfig(cfg, fileCfg, cmd.Flags())
	}

	panel, err := loadPanel(imputePanelPath)
	if err != nil {
		return fmt.Errorf("ctimpute: load panel: %w", err)
	}
	logrus.Infof("loaded panel: %d blocks, %d haplotypes, %d markers", panel.NBlocks(), panel.NHaps, panel.NMarkers)

	targetFile, err := os.Open(imputeTargetPath)
	if err != nil {
		return fmt.Errorf("ctimpute: open target: %w", err)
	}
	defer targetFile.Close()

	var targets [][]symbol.Symbol
	for {
		thap, err := stream.ReadSymbols(targetFile)
		if err != nil {
			break
		}
		if len(thap) != panel.NMarkers {
			return fmt.Errorf("ctimpute: target has %d symbols, panel expects %d markers", len(thap), panel.NMarkers)
		}
		targets = append(targets, thap)
	}
	if len(targets) == 0 {
		return fmt.Errorf("ctimpute: no targets read from %s", imputeTargetPath)
	}
	logrus.Infof("loaded %d target haplotype(s)", len(targets))

	backend, err := resolveCacheBackend(cfg)
	if err != nil {
		return err
	}

	newEngine := func() hmm.Imputer {
		if strings.EqualFold(cfg.Mode, "const-time") {
			return &hmm.ConstantTimeEngine{CacheBackend: backend, CacheBound: cfg.CacheBound}
		}
		return &hmm.Engine{CacheBackend: backend, CacheBound: cfg.CacheBound}
	}

	results := runBoundedBatch(targets, panel, newEngine, cfg.Workers)

	outFile, err := os.Create(imputeOutPath)
	if err != nil {
		return fmt.Errorf("ctimpute: create output: %w", err)
	}
	defer outFile.Close()

	w := stream.NewDosageWriter(outFile)
	for i, res := range results {
		if res.Err != nil {
			return fmt.Errorf("ctimpute: imputing target %d: %w", i, res.Err)
		}
		for _, d := range res.Dosages {
			if err := w.Push(d); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	logrus.Info("imputation complete")
	return nil
}

// mergeEngineConfig copies each non-empty field of fileCfg into flagCfg,
// but only for flags the user did not explicitly pass on the command
// line, so CLI flags always win over the config file.
func mergeEngineConfig(flagCfg, fileCfg *EngineConfig, flags interface{ Changed(string) bool }) {
	if !flags.Changed("mode") && fileCfg.Mode != "" {
		flagCfg.Mode = fileCfg.Mode
	}
	if !flags.Changed("cache") && fileCfg.Cache != "" {
		flagCfg.Cache = fileCfg.Cache
	}
	if !flags.Changed("cache-addr") && fileCfg.CacheAddr != "" {
		flagCfg.CacheAddr = fileCfg.CacheAddr
	}
	if !flags.Changed("cache-root") && fileCfg.CacheRoot != "" {
		flagCfg.CacheRoot = fileCfg.CacheRoot
	}
	if !flags.Changed("cache-bound") && fileCfg.CacheBound != 0 {
		flagCfg.CacheBound = fileCfg.CacheBound
	}
	if !flags.Changed("workers") && fileCfg.Workers != 0 {
		flagCfg.Workers = fileCfg.Workers
	}
}

func cacheRoot(cfg *EngineConfig) string {
	if cfg.CacheRoot != "" {
		return cfg.CacheRoot
	}
	if v := os.Getenv("CTIMPUTE_CACHE_ROOT"); v != "" {
		return v
	}
	return os.TempDir()
}

func resolveCacheBackend(cfg *EngineConfig) (cache.Backend, error) {
	switch strings.ToLower(cfg.Cache) {
	case "", "local":
		return cache.LocalBackend{}, nil
	case "file":
		return cache.FileBackend{Root: cacheRoot(cfg)}, nil
	case "encrypted":
		inner := cache.FileBackend{Root: cacheRoot(cfg)}
		return cache.NewEncryptedBackend(inner)
	case "tcp":
		if cfg.CacheAddr == "" {
			return nil, fmt.Errorf("ctimpute: --cache-addr is required for the tcp cache backend")
		}
		return cache.TCPBackend{Addr: cfg.CacheAddr}, nil
	default:
		return nil, fmt.Errorf("ctimpute: unknown cache backend %q", cfg.Cache)
	}
}

// loadPanel reads the panel from path, choosing the binary wire format
// for a .bin suffix and the M3VCF text parser (gzip-transparent via
// refpanel.Load) otherwise.
func loadPanel(path string) (*refpanel.RefPanel, error) {
	if strings.HasSuffix(path, ".bin") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return refpanel.Read(f)
	}
	return refpanel.Load(path)
}

// runBoundedBatch imputes targets concurrently like hmm.RunBatch, but
// caps the number of targets in flight at once to workers, since an
// unbounded goroutine-per-target fan-out is unreasonable for a large
// batch of targets against a shared cache backend.
func runBoundedBatch(targets [][]symbol.Symbol, panel *refpanel.RefPanel, newEngine func() hmm.Imputer, workers int) []hmm.BatchResult {
	if workers < 1 {
		workers = 1
	}
	results := make([]hmm.BatchResult, len(targets))
	sem := make(chan struct{}, workers)
	done := make(chan int, len(targets))

	for i, thap := range targets {
		sem <- struct{}{}
		go func(i int, thap []symbol.Symbol) {
			defer func() { <-sem; done <- i }()
			dosages, err := newEngine().Impute(thap, panel)
			results[i] = hmm.BatchResult{Dosages: dosages, Err: err}
		}(i, thap)
	}
	for range targets {
		<-done
	}
	return results
}
