package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sheikh-saqib/offline-payments-sync/internal/config"
	"github.com/sheikh-saqib/offline-payments-sync/internal/connectivity"
	"github.com/sheikh-saqib/offline-payments-sync/internal/coordinator"
	"github.com/sheikh-saqib/offline-payments-sync/internal/logger"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"github.com/sheikh-saqib/offline-payments-sync/internal/remote"
	"github.com/sheikh-saqib/offline-payments-sync/internal/storage/sqlite"
	"github.com/shopspring/decimal"
)

const usage = `usage: transfer-client <command> [arguments]

commands:
  create -to <email> -amount <amount> [-note <text>]
  sync <id>
  cancel <id>
  history
  wipe
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	appLog := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat, "transfer-client")

	store, err := sqlite.Open(cfg.LocalDBPath)
	if err != nil {
		appLog.Fatal("failed to open local store", "path", cfg.LocalDBPath, "error", err)
	}
	defer store.Close()

	client := remote.NewClient(cfg.ServerURL, cfg.AuthToken, cfg.RequestTimeout).WithLogger(appLog.WithPrefix("remote"))
	prober := connectivity.NewProber(client, cfg.ConnectivityTTL, cfg.RequestTimeout)
	coord := coordinator.New(store, client, prober, cfg.OwnerID,
		coordinator.WithRequestTimeout(cfg.RequestTimeout),
		coordinator.WithHistoryPageSize(cfg.HistoryPageSize),
		coordinator.WithLogger(appLog),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, coord, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, coord *coordinator.Coordinator, command string, args []string, out io.Writer) error {
	switch command {
	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		to := fs.String("to", "", "recipient email")
		amount := fs.String("amount", "", "amount to transfer")
		note := fs.String("note", "", "optional note")
		if err := fs.Parse(args); err != nil {
			return err
		}
		value, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("%w: amount '%s' is not a number", models.ErrValidation, *amount)
		}
		tx, err := coord.Create(ctx, *to, value, *note)
		if err != nil {
			return err
		}
		printTransactions(out, tx)
		return nil

	case "sync", "cancel":
		if len(args) != 1 {
			return fmt.Errorf("%s needs exactly one transaction id", command)
		}
		op := coord.Sync
		if command == "cancel" {
			op = coord.Cancel
		}
		tx, err := op(ctx, args[0])
		if tx.ID != "" {
			printTransactions(out, tx)
		}
		return err

	case "history":
		txs, err := coord.History(ctx)
		if err != nil {
			return err
		}
		printTransactions(out, txs...)
		return nil

	case "wipe":
		return coord.Wipe(ctx)
	}
	return fmt.Errorf("unknown command %q\n%s", command, usage)
}

func printTransactions(out io.Writer, txs ...models.Transaction) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRECIPIENT\tAMOUNT\tSTATUS\tREASON\tCREATED")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID,
			tx.RecipientIdentifier,
			tx.Amount.String(),
			tx.Status,
			tx.Reason(),
			humanize.Time(tx.CreatedAt),
		)
	}
	w.Flush()
}

// describe turns error kinds into a message for the terminal.
func describe(err error) string {
	switch {
	case errors.Is(err, models.ErrTransport):
		return "server unreachable, the transfer is kept pending locally (" + err.Error() + ")"
	case errors.Is(err, models.ErrUnauthenticated):
		return "authentication rejected, check AUTH_TOKEN"
	case errors.Is(err, models.ErrNotEligible):
		return "operation not allowed in the current status: " + err.Error()
	}
	return err.Error()
}
