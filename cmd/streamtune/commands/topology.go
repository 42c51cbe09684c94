package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/streamtune/pkg/engine"
)

func newTopologyCommand() *cobra.Command {
	var cpuinfo string

	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Show the processor topology used for core affinity",
		Long: `Show the logical processors of this machine grouped by socket and core,
and the order in which the cross-socket affinity technique assigns them to
workers: one core per socket first, hyperthread siblings last.`,
		Example: `  # Show this machine's topology
  streamtune topology

  # Read another machine's processor table
  streamtune topology --cpuinfo ./cpuinfo.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cpuinfo
			if path == "" {
				path = engine.CPUInfoPath
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			topo, err := engine.ParseCPUInfo(string(data))
			if err != nil {
				return err
			}

			order := topo.PreferenceOrder()
			if jsonOutput {
				return printJSON(map[string]interface{}{
					"topology":         topo,
					"sockets":          topo.Sockets(),
					"preference_order": order,
				})
			}

			if topo.Model != "" {
				fmt.Printf("Model: %s\n", topo.Model)
			}
			fmt.Printf("Sockets: %d, logical processors: %d\n", topo.Sockets(), len(topo.CPUs))
			for _, cpu := range topo.CPUs {
				fmt.Printf("  cpu %-3d socket %d core %d\n", cpu.Processor, cpu.Socket, cpu.Core)
			}
			fmt.Printf("Preference order: %v\n", order)
			return nil
		},
	}

	cmd.Flags().StringVar(&cpuinfo, "cpuinfo", "", "processor table to read instead of "+engine.CPUInfoPath)

	return cmd
}
