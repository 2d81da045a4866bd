package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshchat/agent"
	"github.com/hupe1980/meshchat/config"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents declared in the catalog",
	RunE:  runAgents,
}

func runAgents(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	catalog, err := agent.LoadCatalog(cfg.Agents.Catalog)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCAPABILITIES\tPROVIDER\tMODEL\tCOST")

	for _, e := range catalog.Agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.4f\n",
			e.ID, e.Name, strings.Join(e.Capabilities, ","), e.Provider, e.Model, e.Cost)
	}

	return w.Flush()
}
