package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
)

// Show prints the top token cache rows by 7-day volume, or the full cache row
// of a single token when one is named.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show tokens")
	}
	defer closeStore()

	if opts.Currency != "" {
		return a.showToken(ctx, store, ledger.Token{Currency: opts.Currency, Issuer: opts.Issuer})
	}

	rows, err := store.ListCacheByVolume(ctx, opts.Limit, 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no tokens cached")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Token\tPrice\tPrice 24h%\tVolume 7d\tTrustlines\tHolders\tSupply")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%.2f\t%s\t%d\t%d\t%s\n",
			row.Token.Key(),
			formatDecimal(row.Price, 6),
			row.PricePercent24H,
			formatDecimal(row.Volume7D, 2),
			row.Trustlines,
			row.Holders,
			formatDecimal(row.Supply, 2),
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showToken(ctx context.Context, store *storage.Store, token ledger.Token) error {
	row, found, err := store.GetTokenCache(ctx, token)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(os.Stdout, "token %s not cached\n", token.Key())
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Token\t%s\n", row.Token.Key())
	fmt.Fprintf(writer, "Trusted\t%t\n", row.Trusted)
	fmt.Fprintf(writer, "Price\t%s (24h %+.2f%%, 7d %+.2f%%)\n",
		formatDecimal(row.Price, 6), row.PricePercent24H, row.PricePercent7D)
	fmt.Fprintf(writer, "Volume\t24h %s, 7d %s\n",
		formatDecimal(row.Volume24H, 2), formatDecimal(row.Volume7D, 2))
	fmt.Fprintf(writer, "Trustlines\t%d (24h %+d, 7d %+d)\n",
		row.Trustlines, row.TrustlinesDelta24H, row.TrustlinesDelta7D)
	fmt.Fprintf(writer, "Holders\t%d (24h %+d, 7d %+d)\n",
		row.Holders, row.HoldersDelta24H, row.HoldersDelta7D)
	fmt.Fprintf(writer, "Supply\t%s (24h %s, 7d %s)\n",
		formatDecimal(row.Supply, 2),
		formatDecimal(row.SupplyDelta24H, 2),
		formatDecimal(row.SupplyDelta7D, 2))
	fmt.Fprintf(writer, "Updated\t%s\n", row.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))

	writer.Flush()
	return nil
}

// Trust flags or unflags a token as curated-list trusted.
func (a *App) Trust(ctx context.Context, token ledger.Token, trusted bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot update trust flag")
	}
	defer closeStore()

	if err := store.SetCacheTrusted(ctx, token, trusted); err != nil {
		return err
	}

	a.Logger.Info().Str("token", token.Key()).Bool("trusted", trusted).Msg("trust flag updated")
	return nil
}
