package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/streamtune/pkg/engine"
)

func newParamsCommand() *cobra.Command {
	var withOptions bool

	cmd := &cobra.Command{
		Use:   "params",
		Short: "List the searchable parameters",
		Long: `List every parameter of the program's configuration with its kind,
domain and default value. With --options the runtime options are listed too.`,
		Example: `  # List configuration parameters
  streamtune params

  # Include runtime options, as JSON
  streamtune params --options --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings(ctx)
			if err != nil {
				return err
			}
			configuration, err := loadConfiguration(settings)
			if err != nil {
				return err
			}
			params := configuration.AllParameters()

			if withOptions {
				options, err := loadRuntimeOptions(ctx, settings)
				if err != nil {
					return err
				}
				for _, o := range options {
					params = append(params, o.Parameter)
				}
			}

			if jsonOutput {
				return printJSON(params)
			}
			return printParameters(params)
		},
	}

	cmd.Flags().BoolVar(&withOptions, "options", false, "include runtime options")

	return cmd
}

// printParameters writes one line per parameter. The domain column is the
// parameter's own JSON form without name and value.
func printParameters(params []engine.Parameter) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tDEFAULT\tDOMAIN")
	for _, p := range params {
		value, err := json.Marshal(p.Value())
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", p.Name(), err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name(), p.Kind(), value, domainOf(p))
	}
	return w.Flush()
}

func domainOf(p engine.Parameter) string {
	data, err := p.MarshalJSON()
	if err != nil {
		return "?"
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return "?"
	}
	switch p.Kind() {
	case engine.KindInteger, engine.KindFloat:
		return fmt.Sprintf("[%v, %v]", fields["min"], fields["max"])
	case engine.KindSwitch, engine.KindPermutation:
		if universe, ok := fields["universe"].([]interface{}); ok {
			return fmt.Sprintf("%d values", len(universe))
		}
	case engine.KindComposition:
		if values, ok := fields["values"].([]interface{}); ok {
			return fmt.Sprintf("%d shares", len(values))
		}
	}
	return ""
}
