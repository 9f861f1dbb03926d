// cryptoquote — multi-source crypto price aggregation
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/skelhq/cryptoquote/api"
	"github.com/skelhq/cryptoquote/internal/config"
	"github.com/skelhq/cryptoquote/internal/infra"
	"github.com/skelhq/cryptoquote/internal/news"
	"github.com/skelhq/cryptoquote/internal/pricing"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cryptoquote",
	Short: "cryptoquote — multi-source crypto price aggregation",
	Long: `cryptoquote aggregates price quotes from CoinGecko, Binance, Bybit,
CoinMarketCap and DefiLlama, filters outliers against the cross-source
consensus, and converts the result into any fiat currency.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.HTTP.TimeoutSec > 0 {
			infra.SetHTTPTimeout(cfg.HTTPTimeout())
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(newsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cryptoquote %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Price Command ---

var priceCmd = &cobra.Command{
	Use:   "price [symbol]",
	Short: "Fetch aggregated price quotes for a crypto symbol",
	Long: `Fetch price quotes from all configured sources, filter outliers
against the cross-source consensus, and print the survivors.

Examples:
  cryptoquote price btc
  cryptoquote price eth --currency inr
  cryptoquote price sol --currency eur --limit 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := strings.ToUpper(args[0])
		currency, _ := cmd.Flags().GetString("currency")
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.Pricing.DefaultLimit
		}

		svc := pricing.NewServiceFromConfig(cfg)
		defer svc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		quotes, err := svc.GetPrices(ctx, symbol, currency, limit)
		if err != nil {
			return err
		}
		if len(quotes) == 0 {
			fmt.Printf("No price data for %s\n", symbol)
			return nil
		}

		for _, q := range quotes {
			line := fmt.Sprintf("%-14s %s %s", q.Source, q.Price.String(), q.Currency)
			if q.Change24h != nil {
				line += fmt.Sprintf("  (24h %s%%)", q.Change24h.StringFixed(2))
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	priceCmd.Flags().StringP("currency", "c", "", "target currency (default USD)")
	priceCmd.Flags().IntP("limit", "l", 0, "maximum number of quotes")
}

// --- Convert Command ---

var convertCmd = &cobra.Command{
	Use:   "convert [amount] [from] [to]",
	Short: "Convert an amount between fiat currencies",
	Long: `Convert between fiat currencies using cached exchange rates.
USD-pegged stablecoins (USDT, USDC, BUSD) are accepted as USD.

Examples:
  cryptoquote convert 100 usd inr
  cryptoquote convert 50 eur usdt`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}
		from := strings.ToUpper(args[1])
		to := strings.ToUpper(args[2])

		svc := pricing.NewServiceFromConfig(cfg)
		defer svc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		rate, err := svc.Converter().Convert(ctx, from, to)
		if err != nil {
			return err
		}

		fmt.Printf("%s %s = %s %s  (rate %s)\n",
			amount.String(), from, amount.Mul(rate).String(), to, rate.String())
		return nil
	},
}

// --- News Command ---

var newsCmd = &cobra.Command{
	Use:   "news [symbol]",
	Short: "Show recent news for a crypto symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := strings.ToUpper(args[0])
		limit, _ := cmd.Flags().GetInt("limit")

		svc := news.NewService(cfg.News.CryptoPanicKey)

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		items, err := svc.GetNews(ctx, symbol, limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Printf("No news found for %s\n", symbol)
			return nil
		}

		for _, item := range items {
			fmt.Printf("[%s] %s\n", item.Source, item.Title)
			if !item.PublishedAt.IsZero() {
				fmt.Printf("    %s\n", item.PublishedAt.Format(time.RFC1123))
			}
			fmt.Printf("    %s\n", item.URL)
		}
		return nil
	},
}

func init() {
	newsCmd.Flags().IntP("limit", "l", 10, "maximum number of news items")
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.API.Addr()
		fmt.Printf("Starting cryptoquote API server on %s\n", addr)
		return api.NewServer(cfg).ListenAndServe(addr)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  cryptoquote — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:      %s (%s)\n", version, commit)
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    API Server:     %s\n", cfg.API.Addr())
		fmt.Printf("    Default Limit:  %d\n", cfg.Pricing.DefaultLimit)
		fmt.Printf("    Consensus Band: [%s, %s]\n", cfg.Pricing.BandLower, cfg.Pricing.BandUpper)
		fmt.Printf("    Fiat Cache TTL: %ds\n", cfg.Fiat.CacheTTLSec)
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
