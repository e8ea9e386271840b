package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"obraflow/internal/app"
	"obraflow/internal/db"
	"obraflow/internal/engine"
	"obraflow/internal/logging"
	"obraflow/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "obra",
	Short: "Obra back-office CLI",
	Long: `Obra runs the back office of a small contracting business.
Core concepts:
- Workspace: a directory holding the SQLite database and an optional .env.
- Tenant: one business. Its configuration (tax defaults, policies, payroll) lives in the DB.
- Budget: a numbered quote. Accepting it with a planned start date promotes it to a work.
- Work: the job on site, with tasks generated from the budget lines, payments and costs.
- Invoice: a numbered bill, issued from a budget snapshot or ad hoc.
- Clock: workers punch start/pause/resume/stop; the day is reconstructed from those events.
- Ranking: validated tasks earn points; a reset archives them.
- Event log: every change is recorded, view it with 'obra log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OBRA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("tenant", "", "tenant id (defaults to OBRA_TENANT or the only tenant)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json, logfmt)")
	for _, name := range []string{"workspace", "json", "actor-id", "tenant", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(clockCmd())
	rootCmd.AddCommand(rankingCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(statusCmd())
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace database and schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			version, err := migrate.Version(e.DB)
			if err != nil {
				return err
			}
			tenants, err := e.Repo.ListTenants(cmd.Context())
			if err != nil {
				return err
			}
			info := map[string]any{
				"database":       db.Path(viper.GetString("workspace")),
				"schema_version": version,
				"tenants":        len(tenants),
			}
			if jsonOutput() {
				return printJSON(info)
			}
			fmt.Printf("database: %s\nschema version: %d\ntenants: %d\n", info["database"], version, len(tenants))
			return nil
		},
	}
}

// --- helpers ---

func newLogger() (*log.Logger, error) {
	return logging.New(os.Stderr, viper.GetString("log-level"), viper.GetString("log-format"))
}

func openEngine() (engine.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	logger, err := newLogger()
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, nil)
	e.Logger = logger
	return e, func() { conn.Close() }, nil
}

// withEngine opens the workspace and resolves the active tenant.
func withEngine(ctx context.Context, fn func(ctx context.Context, e engine.Engine, tenantID string) error) error {
	e, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()
	tenantID, cfg, err := app.ResolveTenantAndConfig(ctx, strings.TrimSpace(viper.GetString("tenant")), actorID(), e)
	if err != nil {
		return err
	}
	e.Config = cfg
	return fn(ctx, e, tenantID)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printOne prints a single record. Both modes emit JSON; lists get tables.
func printOne(v any) error {
	return printJSON(v)
}

// printTable renders rows unless --json is set, in which case raw is printed.
func printTable(raw any, header table.Row, rows []table.Row) error {
	if jsonOutput() {
		return printJSON(raw)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func parseDecimal(flag, v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %q is not a decimal", flag, v)
	}
	return d, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
