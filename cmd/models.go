package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/batchquery/internal/cost"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List supported models and their prices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flavors := cost.Flavors()
		if client, _ := cmd.Flags().GetString("client"); client != "" {
			f, err := cost.ParseFlavor(client)
			if err != nil {
				return err
			}
			flavors = []cost.Flavor{f}
		}

		rates, err := cost.LoadRates(cfg.Pricing.File)
		if err != nil {
			return err
		}
		formatModels(cmd.OutOrStdout(), flavors, cost.NewCalculator(rates))
		return nil
	},
}

func init() {
	modelsCmd.Flags().String("client", "", "only list models of this flavor (local or azure)")
	rootCmd.AddCommand(modelsCmd)
}

// formatModels writes one row per flavor/model pair. Prices are per 1000
// tokens and only reported for the local flavor.
func formatModels(out io.Writer, flavors []cost.Flavor, calc *cost.Calculator) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLIENT\tMODEL\tPRICED_AS\tPROMPT/1K\tCOMPLETION/1K")
	_, _ = fmt.Fprintln(w, "------\t-----\t---------\t---------\t-------------")

	for _, f := range flavors {
		for _, name := range cost.SupportedModels(f) {
			canonical, _ := cost.ResolveAlias(name)
			prompt, completion := "-", "-"
			if f == cost.FlavorLocal {
				if r, ok := calc.PriceFor(name); ok {
					prompt = fmt.Sprintf("$%.4f", r.Prompt)
					completion = fmt.Sprintf("$%.4f", r.Completion)
				}
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f, name, canonical, prompt, completion)
		}
	}
	_ = w.Flush()
}
