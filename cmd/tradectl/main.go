package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tradeflow/attention"
	"tradeflow/config"
	"tradeflow/connection"
	"tradeflow/db"
	"tradeflow/issue"
	"tradeflow/ledger"
	"tradeflow/logging"
	"tradeflow/order"
	"tradeflow/overview"
	"tradeflow/payment"
)

var rootCmd = &cobra.Command{
	Use:           "tradectl",
	Short:         "Operator tooling for tradeflow",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRADECTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(attentionCmd())
	rootCmd.AddCommand(healthCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool, _ *zap.Logger) error {
				applied, err := db.Migrate(ctx, pool)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
					return nil
				}
				for _, v := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
				}
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Auto-accept payments left unanswered for 48h",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool, logger *zap.Logger) error {
				n, err := payment.NewSweep(payment.NewRepository(pool), logger).Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "accepted %d payment(s)\n", n)
				return nil
			})
		},
	}
}

func attentionCmd() *cobra.Command {
	var business string
	cmd := &cobra.Command{
		Use:   "attention",
		Short: "Show the attention worklist of a business",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverview(cmd.Context(), func(ctx context.Context, svc *overview.Service) error {
				items, err := svc.Attention(ctx, business)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), items)
				}
				renderAttention(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&business, "business", "", "business id")
	_ = cmd.MarkFlagRequired("business")
	return cmd
}

func healthCmd() *cobra.Command {
	var connectionID string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Recompute and show the health of a connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOverview(cmd.Context(), func(ctx context.Context, svc *overview.Service) error {
				if err := svc.RefreshHealth(ctx, connectionID); err != nil {
					return err
				}
				rep, err := svc.Health(ctx, connectionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), rep)
				}
				renderReport(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection", "", "connection id")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}

func withPool(ctx context.Context, fn func(context.Context, *config.Config, *pgxpool.Pool, *zap.Logger) error) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg.Database.URL, db.WithMaxConns(cfg.Database.MaxConns), db.WithApplicationName("tradectl"))
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool, logger)
}

func withOverview(ctx context.Context, fn func(context.Context, *overview.Service) error) error {
	return withPool(ctx, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) error {
		connRepo := connection.NewRepository(pool)
		orderRepo := order.NewRepository(pool)
		loader := ledger.NewLoader(connRepo, orderRepo, payment.NewRepository(pool), issue.NewRepository(pool))
		svc := overview.NewService(loader, orderRepo, connRepo).
			WithLocation(cfg.TimeLocation()).
			WithLogger(logger)
		return fn(ctx, svc)
	})
}

func renderAttention(w io.Writer, items []attention.Item) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Category", "Since", "Connection", "Order", "Issue", "Pending"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.Priority, it.Category, it.FrictionStartedAt.Format(time.RFC3339), it.ConnectionID, it.OrderID, it.IssueID, it.Pending})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "Total", len(items)})
	tw.Render()
}

func renderReport(w io.Writer, rep overview.Report) {
	st, op, q := rep.Signals.Settlement, rep.Signals.Operational, rep.Signals.Quality
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("connection %s: %s", rep.ConnectionID, rep.Health))
	tw.AppendHeader(table.Row{"Signal", "Value"})
	tw.AppendRows([]table.Row{
		{"on time", st.OnTime},
		{"late", st.Late},
		{"partial", st.Partial},
		{"overdue", st.Overdue},
		{"unpaid", st.Unpaid},
		{"orders last 7d", st.RecentOrders},
	})
	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{"mean acceptance (h)", fmt.Sprintf("%.1f", op.MeanAcceptanceHours)},
		{"mean dispatch (h)", fmt.Sprintf("%.1f", op.MeanDispatchHours)},
		{"delivery consistency", fmt.Sprintf("%.2f", op.DeliveryConsistency)},
		{"awaiting acceptance", op.AwaitingAcceptance},
		{"stalled dispatch", op.StalledDispatch},
	})
	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{"open issues", q.OpenIssues},
		{"issues last 30d", q.IssuesInWindow},
		{"recurring types", len(q.RecurringTypes)},
	})
	tw.Render()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
