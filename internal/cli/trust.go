package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
)

var (
	trustCurrency string
	trustIssuer   string
	trustRevoke   bool
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Flag a token as curated-list trusted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if trustCurrency == "" || trustIssuer == "" {
			return fmt.Errorf("--currency and --issuer are required")
		}

		token := ledger.Token{Currency: trustCurrency, Issuer: trustIssuer}
		return getApp().Trust(cmd.Context(), token, !trustRevoke)
	},
}

func init() {
	trustCmd.Flags().StringVar(&trustCurrency, "currency", "", "Token currency code")
	trustCmd.Flags().StringVar(&trustIssuer, "issuer", "", "Token issuer account")
	trustCmd.Flags().BoolVar(&trustRevoke, "revoke", false, "Remove the trusted flag instead of setting it")
}
