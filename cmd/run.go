package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantmetrics/greenaccess/internal/access"
	"github.com/verdantmetrics/greenaccess/internal/config"
	"github.com/verdantmetrics/greenaccess/internal/kernel"
	"github.com/verdantmetrics/greenaccess/internal/registry"
	"github.com/verdantmetrics/greenaccess/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full accessibility pipeline",
	Long:  "Aligns population and land-cover grids, builds the decay kernel, convolves supply against population-weighted demand, and writes the per-capita accessibility grid.",
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().String("population", "", "Population-count grid (.asc)")
	runCmd.Flags().String("lulc", "", "Land-cover classification grid (.asc)")
	runCmd.Flags().StringP("workspace", "w", "workspace", "Workspace directory for artifacts")
	runCmd.Flags().String("suffix", "", "Result-file naming suffix")
	runCmd.Flags().Float64("search-distance", 0, "Search radius in ground units (overrides config)")
	runCmd.Flags().String("decay", "", "Decay function: binary, linear, gaussian, exponential, power (overrides config)")
	runCmd.Flags().Bool("normalize-kernel", false, "Normalize kernel weights to sum to 1")
	runCmd.Flags().Int("workers", 0, "Parallel convolution workers (overrides config)")
	runCmd.Flags().Bool("summary", false, "Write an xlsx summary workbook of the run artifacts")
	_ = runCmd.MarkFlagRequired("population")
	_ = runCmd.MarkFlagRequired("lulc")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	args, err := pipelineArgs(cmd)
	if err != nil {
		return err
	}

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return err
	}
	defer reg.Close()
	if err := reg.Migrate(ctx); err != nil {
		return err
	}

	runID, err := reg.Begin(ctx, registry.Run{
		PopulationPath: args.PopulationPath,
		LULCPath:       args.LULCPath,
		WorkspaceDir:   args.WorkspaceDir,
		ResultsSuffix:  args.ResultsSuffix,
		SearchDistance: args.SearchDistance,
		DecayFunction:  args.DecayFamily.String(),
	})
	if err != nil {
		return err
	}
	zap.L().Info("run started", zap.String("run_id", runID))

	res, err := access.Execute(ctx, args)
	if err != nil {
		if ferr := reg.Fail(context.WithoutCancel(ctx), runID, err.Error()); ferr != nil {
			zap.L().Warn("run registry update failed", zap.Error(ferr))
		}
		return err
	}
	if err := reg.Complete(ctx, runID, res.AccessibilityPath); err != nil {
		return err
	}

	if summary, _ := cmd.Flags().GetBool("summary"); summary {
		if err := writeRunSummary(args.WorkspaceDir, args.ResultsSuffix, res); err != nil {
			return err
		}
	}

	zap.L().Info("run succeeded",
		zap.String("run_id", runID),
		zap.String("accessibility", res.AccessibilityPath),
	)
	return nil
}

func pipelineArgs(cmd *cobra.Command) (access.Args, error) {
	var args access.Args

	args.PopulationPath, _ = cmd.Flags().GetString("population")
	args.LULCPath, _ = cmd.Flags().GetString("lulc")
	args.WorkspaceDir, _ = cmd.Flags().GetString("workspace")
	args.ResultsSuffix, _ = cmd.Flags().GetString("suffix")

	for _, path := range []string{args.PopulationPath, args.LULCPath} {
		if _, err := os.Stat(path); err != nil {
			return args, eris.Wrapf(err, "input grid %s", path)
		}
	}

	args.SearchDistance = cfg.Access.SearchDistance
	if v, _ := cmd.Flags().GetFloat64("search-distance"); v > 0 {
		args.SearchDistance = v
	}
	if args.SearchDistance <= 0 {
		return args, eris.New("search distance is required (flag --search-distance or config access.search_distance)")
	}

	decayName := cfg.Access.DecayFunction
	if v, _ := cmd.Flags().GetString("decay"); v != "" {
		decayName = v
	}
	if decayName == "" {
		return args, eris.New("decay function is required (flag --decay or config access.decay_function)")
	}
	family, err := kernel.ParseFamily(decayName)
	if err != nil {
		return args, err
	}
	args.DecayFamily = family

	args.NormalizeKernel = cfg.Access.NormalizeKernel
	if v, _ := cmd.Flags().GetBool("normalize-kernel"); v {
		args.NormalizeKernel = true
	}

	supplyMap, err := config.ParseSupplyMap(cfg.Access.SupplyMap)
	if err != nil {
		return args, err
	}
	if len(supplyMap) == 0 {
		return args, eris.New("land-cover to supply mapping is required (config access.land_cover_to_supply_map)")
	}
	args.SupplyMap = supplyMap

	args.Tolerance = cfg.Access.Tolerance
	args.BlockRows = cfg.Access.BlockRows
	args.Workers = cfg.Access.Workers
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		args.Workers = v
	}

	return args, nil
}

func writeRunSummary(workspaceDir, suffix string, res *access.Result) error {
	summaries, err := report.SummarizeAll(map[string]string{
		"aligned_population": res.AlignedPopulationPath,
		"supply":             res.SupplyPath,
		"decayed_supply":     res.DecayedSupplyPath,
		"decayed_demand":     res.DecayedDemandPath,
		"accessibility":      res.AccessibilityPath,
	}, cfg.Report.Quantiles)
	if err != nil {
		return err
	}

	name := "summary.xlsx"
	if suffix != "" {
		name = "summary_" + suffix + ".xlsx"
	}
	path := filepath.Join(workspaceDir, "output", name)
	if err := report.WriteWorkbook(path, summaries); err != nil {
		return err
	}
	zap.L().Info("summary workbook written", zap.String("path", path))
	return nil
}
