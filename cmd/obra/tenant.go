package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"obraflow/internal/config"
	"obraflow/internal/engine"
	"obraflow/internal/repo"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	cmd.AddCommand(tenantInitCmd())
	cmd.AddCommand(tenantListCmd())
	cmd.AddCommand(tenantShowCmd())
	cmd.AddCommand(tenantUseCmd())
	cmd.AddCommand(tenantConfigCmd())
	return cmd
}

func tenantInitCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a tenant with the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			t, err := e.InitTenant(cmd.Context(), strings.TrimSpace(id), strings.TrimSpace(name), actorID())
			if err != nil {
				return err
			}
			return printOne(t)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "business name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			items, err := e.Repo.ListTenants(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(items))
			for _, t := range items {
				rows = append(rows, table.Row{t.ID, t.Name, t.CreatedAt})
			}
			return printTable(items, table.Row{"ID", "Name", "Created"}, rows)
		},
	}
}

func tenantShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				t, err := e.Repo.GetTenant(ctx, tenantID)
				if err != nil {
					return err
				}
				return printOne(t)
			})
		},
	}
}

func tenantUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default tenant for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := strings.TrimSpace(args[0])
			if tenantID == "" {
				return fmt.Errorf("tenant id is required")
			}
			path := filepath.Join(viper.GetString("workspace"), ".env")
			env, err := godotenv.Read(path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				env = map[string]string{}
			}
			env["OBRA_TENANT"] = tenantID
			if err := godotenv.Write(env, path); err != nil {
				return err
			}
			fmt.Printf("Set OBRA_TENANT=%s in %s\n", tenantID, path)
			return nil
		},
	}
}

func tenantConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage tenant configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the configuration stored in the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				return printOne(e.Config)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(viper.GetString("tenant"))
			if id == "" {
				id = "my-business"
			}
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	})
	var filePath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import tenant configuration from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			if err := e.ImportTenantConfig(cmd.Context(), cfg.Tenant.ID, cfg, actorID()); err != nil {
				return err
			}
			return printOne(cfg)
		},
	}
	importCmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = importCmd.MarkFlagRequired("file")
	cmd.AddCommand(importCmd)
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					TenantID:   tenantID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, ev := range items {
					rows = append(rows, table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				return printTable(items, table.Row{"ID", "TS", "Type", "Entity", "Entity ID", "Actor"}, rows)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	logc.AddCommand(tail)
	return logc
}
