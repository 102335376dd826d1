package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iota-uz/salesorg/modules/org/services"
)

type validateLine struct {
	UnitCode  string              `json:"unit_code"`
	Conflicts []services.Conflict `json:"conflicts"`
	Errors    int                 `json:"errors"`
	Warnings  int                 `json:"warnings"`
}

func newValidateCmd(g *globalOptions) *cobra.Command {
	var unitCode string
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Report cycles, duplicate primaries and commission table problems of a unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, "validate")
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.org.Directory.GetUnitByCode(a.ctx, unitCode)
			if err != nil {
				return serviceExit(err)
			}
			conflicts, err := a.org.Analyzer.ValidateHierarchyConsistency(a.ctx, u.ID)
			if err != nil {
				return serviceExit(err)
			}

			line := validateLine{UnitCode: u.Code, Conflicts: conflicts}
			if line.Conflicts == nil {
				line.Conflicts = []services.Conflict{}
			}
			for _, c := range conflicts {
				if c.Severity == services.SeverityError {
					line.Errors++
				} else {
					line.Warnings++
				}
			}
			if err := writeJSONLine(cmd.OutOrStdout(), line); err != nil {
				return err
			}
			if strict && line.Errors > 0 {
				return withCode(exitFindings, fmt.Errorf("unit %s has %d hierarchy errors", u.Code, line.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&unitCode, "unit", "", "Unit code (required)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when error-severity conflicts are found")
	_ = cmd.MarkFlagRequired("unit")
	return cmd
}
