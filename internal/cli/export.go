package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tomyleexrp/xrplmeta/internal/app"
)

var (
	exportCurrency  string
	exportIssuer    string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a token's trades against the native currency as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportCurrency == "" {
			return fmt.Errorf("--currency is required")
		}

		opts := app.ExportOptions{
			Currency:  exportCurrency,
			Issuer:    exportIssuer,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCurrency, "currency", "", "Token currency code")
	exportCmd.Flags().StringVar(&exportIssuer, "issuer", "", "Token issuer account")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
