// Package main implements the pulsekit-verify CLI. It recomputes the
// analysis chain for a stored or exported result bundle and prints the
// stability verdict, without touching the execution backend.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solitonlabs/pulsekit/internal/database"
	"github.com/solitonlabs/pulsekit/internal/domain"
	"github.com/solitonlabs/pulsekit/internal/modules/fitting"
	"github.com/solitonlabs/pulsekit/internal/modules/stability"
	"github.com/solitonlabs/pulsekit/internal/pipeline"
	"github.com/solitonlabs/pulsekit/internal/resultstore"
)

var (
	flagJob       string
	flagBundle    string
	flagSpec      string
	flagDataDir   string
	flagJSON      bool
	flagDecayRate float64
	flagSSE       float64
	flagWindow    int
	flagTolerance float64
)

var rootCmd = &cobra.Command{
	Use:   "pulsekit-verify",
	Short: "Recompute the stability verdict for a completed experiment run",
	Long: `Recomputes normalization, model fitting, and the stability verdict
from raw measurement records. The records come either from the local
results database (--job) or from an exported JSON bundle plus its spec
file (--bundle and --spec).`,
	SilenceUsage: true,
	RunE:         runVerify,
}

func init() {
	rootCmd.Flags().StringVar(&flagJob, "job", "", "job handle to load from the results database")
	rootCmd.Flags().StringVar(&flagBundle, "bundle", "", "path to an exported JSON result bundle")
	rootCmd.Flags().StringVar(&flagSpec, "spec", "", "path to the experiment spec YAML (required with --bundle)")
	rootCmd.Flags().StringVar(&flagDataDir, "data-dir", "./data", "data directory holding results.db")
	rootCmd.Flags().BoolVar(&flagJSON, "json", false, "emit the full report as JSON")
	rootCmd.Flags().Float64Var(&flagDecayRate, "decay-rate-threshold", 0.05, "maximum passing decay rate 1/T2*")
	rootCmd.Flags().Float64Var(&flagSSE, "sse-threshold", 0.0008, "maximum passing solitonic stability error")
	rootCmd.Flags().IntVar(&flagWindow, "plateau-window", 4, "sliding window length for plateau detection")
	rootCmd.Flags().Float64Var(&flagTolerance, "plateau-tolerance", 1e-4, "variance tolerance for plateau detection")
}

func runVerify(cmd *cobra.Command, args []string) error {
	batch, spec, err := loadInputs()
	if err != nil {
		return err
	}

	engine := stability.NewEngine(stability.Thresholds{
		DecayRate: flagDecayRate,
		SSE:       flagSSE,
	})

	fitOpts := fitting.DefaultOptions()
	fitOpts.PlateauWindow = flagWindow
	fitOpts.PlateauTolerance = flagTolerance

	report, err := pipeline.Analyze(batch, spec, fitOpts, engine)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

// loadInputs resolves the bundle and spec from either the database or files.
func loadInputs() (*domain.RawResultBatch, domain.ExperimentSpec, error) {
	var spec domain.ExperimentSpec

	switch {
	case flagJob != "" && flagBundle != "":
		return nil, spec, fmt.Errorf("--job and --bundle are mutually exclusive")

	case flagJob != "":
		db, err := database.New(database.Config{
			Path:    flagDataDir + "/results.db",
			Profile: database.ProfileResults,
			Name:    "results",
		})
		if err != nil {
			return nil, spec, fmt.Errorf("opening results database: %w", err)
		}
		defer db.Close()

		store, err := resultstore.NewRepository(db.Conn())
		if err != nil {
			return nil, spec, err
		}

		job, err := store.GetJob(domain.JobHandle(flagJob))
		if err != nil {
			return nil, spec, err
		}
		if err := yaml.Unmarshal([]byte(job.SpecYAML), &spec); err != nil {
			return nil, spec, fmt.Errorf("decoding stored spec: %w", err)
		}
		batch, err := store.GetBundle(job.Handle)
		if err != nil {
			return nil, spec, err
		}
		return batch, spec, nil

	case flagBundle != "":
		if flagSpec == "" {
			return nil, spec, fmt.Errorf("--spec is required with --bundle")
		}
		raw, err := os.ReadFile(flagBundle)
		if err != nil {
			return nil, spec, fmt.Errorf("reading bundle: %w", err)
		}
		var batch domain.RawResultBatch
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, spec, fmt.Errorf("decoding bundle: %w", err)
		}
		rawSpec, err := os.ReadFile(flagSpec)
		if err != nil {
			return nil, spec, fmt.Errorf("reading spec: %w", err)
		}
		if err := yaml.Unmarshal(rawSpec, &spec); err != nil {
			return nil, spec, fmt.Errorf("decoding spec: %w", err)
		}
		return &batch, spec, nil

	default:
		return nil, spec, fmt.Errorf("either --job or --bundle is required")
	}
}

func printReport(report *pipeline.Report) {
	fmt.Printf("experiment: %s\n", report.Spec.Type)
	fmt.Printf("handle:     %s\n", report.Handle)
	fmt.Printf("points:     %d\n", len(report.Points))
	fmt.Printf("model:      %s\n", report.Fit.Model)
	for i, name := range report.Fit.ParamNames {
		fmt.Printf("  %-18s %.6g (stderr %.3g)\n", name, report.Fit.Params[i], report.Fit.StdErrs[i])
	}
	for name, value := range report.Fit.Diagnostics {
		fmt.Printf("  %-18s %.6g\n", name, value)
	}
	fmt.Printf("verdict:    %s\n", report.Verdict)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
