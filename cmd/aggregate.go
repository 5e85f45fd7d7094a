package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantmetrics/greenaccess/internal/access"
	"github.com/verdantmetrics/greenaccess/internal/boundary"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate accessibility by administrative boundary",
	Long:  "Reads a run manifest, overlays boundary polygons from a shapefile, and writes per-zone population and accessibility statistics as CSV.",
	RunE:  runAggregate,
}

func init() {
	aggregateCmd.Flags().String("manifest", "", "Run manifest (manifest.yaml from a prior run)")
	aggregateCmd.Flags().String("zones", "", "Boundary polygon shapefile (.shp)")
	aggregateCmd.Flags().String("id-field", "GEOID", "Shapefile attribute holding the zone identifier")
	aggregateCmd.Flags().String("name-field", "NAME", "Shapefile attribute holding the zone name")
	aggregateCmd.Flags().StringP("out", "o", "zonal_accessibility.csv", "Output CSV path")
	_ = aggregateCmd.MarkFlagRequired("manifest")
	_ = aggregateCmd.MarkFlagRequired("zones")
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	zonesPath, _ := cmd.Flags().GetString("zones")
	idField, _ := cmd.Flags().GetString("id-field")
	nameField, _ := cmd.Flags().GetString("name-field")
	out, _ := cmd.Flags().GetString("out")

	manifest, err := access.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	zones, err := boundary.LoadZones(zonesPath, idField, nameField)
	if err != nil {
		return err
	}
	zap.L().Info("zones loaded", zap.Int("count", len(zones)))

	stats, err := boundary.Aggregate(cmd.Context(),
		manifest.Artifacts.AccessibilityPath,
		manifest.Artifacts.AlignedPopulationPath,
		manifest.Artifacts.SupplyPath,
		zones,
	)
	if err != nil {
		return err
	}
	if err := boundary.WriteCSV(out, stats); err != nil {
		return err
	}

	zap.L().Info("zonal statistics written",
		zap.String("path", out),
		zap.Int("zones", len(stats)),
	)
	return nil
}
