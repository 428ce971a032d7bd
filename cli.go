package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"spot-ladder-bot/config"
	"spot-ladder-bot/internal/auth"
	"spot-ladder-bot/internal/database"
)

var (
	statusFormat string
	statusEvents int
	closeAPIURL  string
	closeToken   string
	samplePath   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show wallet, open positions and recent events from the store",
	RunE:  runStatus,
}

var closeCmd = &cobra.Command{
	Use:   "close <symbol>",
	Short: "Ask a running engine to close a position",
	Long: `Queues a manual close on a running engine through its HTTP API.
The control loop executes the sell on its next wake-up.

Examples:
  spot-ladder-bot close SOLUSDT
  spot-ladder-bot close SOLUSDT --token $TOKEN --api http://10.0.0.5:8000`,
	Args: cobra.ExactArgs(1),
	RunE: runClose,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for auth.admin_password_hash",
	Long: `Hashes the operator password for the API login. The password is read
from the argument or, when omitted, from the first line of stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashPassword,
}

var sampleConfigCmd = &cobra.Command{
	Use:   "sample-config",
	Short: "Write the default configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.GenerateSampleConfig(samplePath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sample configuration written to %s\n", samplePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, closeCmd, hashPasswordCmd, sampleConfigCmd)

	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "Output format: table or json")
	statusCmd.Flags().IntVar(&statusEvents, "events", 10, "Number of recent system events to show")

	closeCmd.Flags().StringVar(&closeAPIURL, "api", "", "Engine API base URL (default from server config)")
	closeCmd.Flags().StringVar(&closeToken, "token", os.Getenv("SPOTBOT_TOKEN"), "Bearer token when auth is enabled")

	sampleConfigCmd.Flags().StringVar(&samplePath, "output", "config.sample.json", "Destination file")
}

type statusReport struct {
	Wallet    database.WalletSummary `json:"wallet"`
	Positions []*database.Position   `json:"positions"`
	Events    []database.SystemEvent `json:"events"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var report statusReport
	report.Wallet, err = store.GetWallet(ctx)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("wallet: %w", err)
	}
	if report.Positions, err = store.ListPositions(ctx); err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	if report.Events, err = store.ListSystemEvents(ctx, statusEvents); err != nil {
		return fmt.Errorf("events: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printStatus(out, report)
}

func printStatus(out io.Writer, r statusReport) error {
	updated := "never"
	if !r.Wallet.UpdatedAt.IsZero() {
		updated = r.Wallet.UpdatedAt.Local().Format(time.DateTime)
	}
	fmt.Fprintf(out, "Equity: %.2f (updated %s)\n\n", r.Wallet.CurrentEquity, updated)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tSTRATEGY\tENTRY\tHIGH\tSTOP\tAMOUNT\tSTATUS\tOPENED")
	for _, p := range r.Positions {
		fmt.Fprintf(w, "%s\t%s\t%.6g\t%.6g\t%.6g\t%.2f\t%s\t%s\n",
			p.Symbol, p.Strategy, p.EntryPrice, p.HighestPrice, p.StopPrice, p.AmountUSDT,
			p.StatusLabel, p.EntryTime.Local().Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(r.Events) > 0 {
		fmt.Fprintln(out, "\nRecent events:")
		for _, e := range r.Events {
			fmt.Fprintf(out, "  %s [%s] %s: %s\n", e.Timestamp.Local().Format(time.DateTime), e.Level, e.Category, e.Message)
		}
	}
	return nil
}

func runClose(cmd *cobra.Command, args []string) error {
	base := closeAPIURL
	if base == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		host := cfg.ServerConfig.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		base = fmt.Sprintf("http://%s:%d", host, cfg.ServerConfig.Port)
	}

	symbol := strings.ToUpper(args[0])
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(base, "/")+"/api/trade/sell/"+symbol, nil)
	if err != nil {
		return err
	}
	if closeToken != "" {
		req.Header.Set("Authorization", "Bearer "+closeToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine API unreachable: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("close %s rejected: %s %s", symbol, resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Close of %s queued\n", symbol)
	return nil
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.NewPasswordManager(bcrypt.DefaultCost).HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
