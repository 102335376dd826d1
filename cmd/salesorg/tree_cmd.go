package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/salesorg/modules/org/services"
)

type treeLine struct {
	UnitCode string              `json:"unit_code"`
	Nodes    []services.TreeNode `json:"nodes"`
}

func newTreeCmd(g *globalOptions) *cobra.Command {
	var unitCode string

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the supervision adjacency list of a unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, "tree")
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.org.Directory.GetUnitByCode(a.ctx, unitCode)
			if err != nil {
				return serviceExit(err)
			}
			nodes, err := a.org.Analyzer.GetTeamHierarchyTree(a.ctx, u.ID)
			if err != nil {
				return serviceExit(err)
			}
			return writeJSONLine(cmd.OutOrStdout(), treeLine{UnitCode: u.Code, Nodes: nodes})
		},
	}

	cmd.Flags().StringVar(&unitCode, "unit", "", "Unit code (required)")
	_ = cmd.MarkFlagRequired("unit")
	return cmd
}
