package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tomyleexrp/xrplmeta/internal/app"
)

var (
	showLimit    int
	showCurrency string
	showIssuer   string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display top cached tokens by rolling volume, or one token in detail",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Currency: showCurrency,
			Issuer:   showIssuer,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of tokens to display")
	showCmd.Flags().StringVar(&showCurrency, "currency", "", "Show a single token's full cache row")
	showCmd.Flags().StringVar(&showIssuer, "issuer", "", "Issuer of the token passed via --currency")
}
