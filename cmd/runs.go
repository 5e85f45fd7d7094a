package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/verdantmetrics/greenaccess/internal/registry"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs",
	RunE:  listRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func listRuns(cmd *cobra.Command, _ []string) error {
	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return err
	}
	defer reg.Close()
	if err := reg.Migrate(cmd.Context()); err != nil {
		return err
	}

	runs, err := reg.List(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tSEARCH\tDECAY\tACCESSIBILITY")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\t%s\n",
			run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"),
			run.SearchDistance, run.DecayFunction, run.Accessibility,
		)
	}
	return w.Flush()
}
