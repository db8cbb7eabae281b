package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/cocluster/internal/util"
	"github.com/yumyai/cocluster/logger"
	"github.com/yumyai/cocluster/pkg/consensus"
	"github.com/yumyai/cocluster/pkg/expr"
	"github.com/yumyai/cocluster/pkg/pipeline"
	"github.com/yumyai/cocluster/pkg/render"
	"github.com/yumyai/cocluster/pkg/store"
)

var (
	VERSION = "0.2.0"

	countsFiles   []string
	outDir        string
	logLevel      string
	ks            []int
	methods       []string
	thresholdR    float64
	thresholdL    float64
	combineMode   string
	sepThreshold  float64
	compThreshold float64
	mergeCutoff   float64
	overlapping   bool
	universeMode  string
	topGenes      int
	workers       int
	seed          int64
)

func main() {

	root := &cobra.Command{
		Use:   "cocluster",
		Short: "Consensus clustering of genes across expression datasets",
		Long: `cocluster combines many base clustering runs (different methods, cluster
counts and datasets) into tight consensus seed clusters, validates them
pairwise, and completes the clustering with the genes left over.`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringSliceVarP(&countsFiles, "counts", "c", nil, "counts file (repeat for multiple datasets)")
	root.Flags().StringVarP(&outDir, "out-dir", "o", "./out", "output directory")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().IntSliceVarP(&ks, "k", "k", []int{4, 8, 12}, "cluster counts to try per dataset")
	root.Flags().StringSliceVarP(&methods, "method", "m", []string{"kmeans", "hierarchical"}, "base clustering methods")
	root.Flags().Float64Var(&thresholdR, "restrictive", 0.8, "restrictive consensus threshold R")
	root.Flags().Float64Var(&thresholdL, "relaxed", 0.5, "relaxed consensus threshold L")
	root.Flags().StringVar(&combineMode, "combine", "intersection", "cross-dataset combination (intersection, union)")
	root.Flags().Float64Var(&sepThreshold, "separation", 0.25, "pairwise separation threshold")
	root.Flags().Float64Var(&compThreshold, "completion", 0.7, "completion similarity threshold")
	root.Flags().Float64Var(&mergeCutoff, "merge-cutoff", 0.8, "membership overlap at which clusters merge")
	root.Flags().BoolVar(&overlapping, "overlapping", false, "allow a gene in several final clusters")
	root.Flags().StringVar(&universeMode, "universe", "intersection", "gene universe reconciliation (intersection, union)")
	root.Flags().IntVar(&topGenes, "num-genes", 2000, "keep the N most variable genes per dataset (0 keeps all)")
	root.Flags().IntVar(&workers, "workers", 0, "parallel workers (0 uses all CPUs)")
	root.Flags().Int64Var(&seed, "seed", 1, "random seed")
	_ = root.MarkFlagRequired("counts")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {

	// Establish logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	if err := logger.InitLogger(level); err != nil {
		panic(err)
	}
	defer logger.Sync() // Make sure that the buffered is flushed.

	// Try load env
	if dotenvErr := godotenv.Load(); dotenvErr != nil {
		logger.Warn("No .env found, using local environment")
	}

	if env := os.Getenv("COCLUSTER_OUT"); env != "" && !cmd.Flags().Changed("out-dir") {
		outDir = env
	}
	if err := util.EnsureDir(outDir); err != nil {
		return err
	}

	logger.Info("Start:", zap.String("Version", VERSION))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn("Interrupted, cancelling run")
		cancel()
	}()

	// Load, normalise and reconcile the datasets.
	uMode := expr.UniverseIntersection
	if universeMode == "union" {
		uMode = expr.UniverseUnion
	}
	normOpts := expr.DefaultNormalize()
	normOpts.TopGenes = topGenes

	tables := make([]*expr.CountsTable, 0, len(countsFiles))
	for _, f := range countsFiles {
		t, err := expr.LoadCounts(f)
		if err != nil {
			return err
		}
		tables = append(tables, expr.Normalize(t, normOpts))
	}
	universe, err := expr.BuildUniverse(tables, uMode)
	if err != nil {
		return err
	}
	datasets, err := expr.BuildDatasets(universe, tables)
	if err != nil {
		return err
	}
	logger.Info("Universe fixed",
		zap.Int("genes", universe.Size()),
		zap.Int("datasets", len(datasets)),
		zap.String("mode", uMode.String()))

	mode, err := consensus.ParseMode(combineMode)
	if err != nil {
		return err
	}
	cfg := pipeline.Config{
		Ks:                  ks,
		Methods:             methods,
		Consensus:           consensus.Params{R: thresholdR, L: thresholdL, Mode: mode},
		SeparationThreshold: sepThreshold,
		CompletionThreshold: compThreshold,
		MergeCutoff:         mergeCutoff,
		Overlapping:         overlapping,
		Seed:                seed,
		Workers:             workers,
		MaxRetries:          2,
	}

	runner := pipeline.NewRunner(cfg, newProgress())
	result, err := runner.Run(ctx, universe, datasets)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		logger.Warn(w)
	}

	// Reports
	tsvPath := path.Join(outDir, "clusters.tsv")
	tsv, err := os.Create(tsvPath)
	if err != nil {
		return err
	}
	if err := render.WriteClustersTSV(tsv, universe, result); err != nil {
		tsv.Close()
		return err
	}
	tsv.Close()

	jsonPath := path.Join(outDir, "result.json")
	js, err := os.Create(jsonPath)
	if err != nil {
		return err
	}
	if err := render.WriteResultJSON(js, universe, result); err != nil {
		js.Close()
		return err
	}
	js.Close()

	// Persist the run
	dbPath := path.Join(outDir, "runs.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveRun(ctx, cfg, result, universe.ID); err != nil {
		return err
	}

	logger.Info("Run complete",
		zap.String("run", result.RunID),
		zap.Int("clusters", len(result.Clusters)),
		zap.String("tsv", tsvPath),
		zap.String("db", dbPath))
	return nil
}

// progress renders the partition and evaluation checkpoints as a terminal
// progress bar, one bar per stage.
type progress struct {
	bar *progressbar.ProgressBar
}

func newProgress() *progress { return &progress{} }

func (p *progress) Stage(name string) {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
	logger.Info("Stage", zap.String("name", name))
}

func (p *progress) PartitionDone(done, total int) { p.tick("Clustering", done, total) }

func (p *progress) PairDone(done, total int) { p.tick("Validating", done, total) }

func (p *progress) tick(desc string, done, total int) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
		)
	}
	_ = p.bar.Set(done)
}
