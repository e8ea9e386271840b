package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"obraflow/internal/engine"
	"obraflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	var corsOrigins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and webhook dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowActorHeader,
				Logger:                 e.Logger,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("OBRA_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:      e,
				BasePath:    basePath,
				Auth:        authCfg,
				Logger:      e.Logger,
				CORSOrigins: corsOrigins,
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			go server.NewWebhookDispatcher(e, e.Logger).Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Obra API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (local development only)")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "allowed CORS origin (repeatable)")
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Issue tokens and API keys"}

	var subject, bindTenant string
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with OBRA_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("OBRA_JWT_SECRET is not set")
			}
			if subject == "" {
				subject = actorID()
			}
			tok, err := server.IssueToken(secret, subject, bindTenant, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "", "actor id carried in the token (default --actor-id)")
	token.Flags().StringVar(&bindTenant, "bind-tenant", "", "restrict the token to one tenant")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 never expires")
	cmd.AddCommand(token)
	cmd.AddCommand(apiKeyCmd())
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "api-key", Short: "Manage tenant API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				k, plain, err := e.CreateAPIKey(ctx, tenantID, actorID(), name)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]string{"id": k.ID, "actor_id": k.ActorID, "key": plain})
				}
				fmt.Printf("%s\n  id: %s\n", plain, k.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	cmd.AddCommand(create)
	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				keys, err := e.Repo.ListAPIKeys(ctx, tenantID, owner)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				return printTable(keys, table.Row{"ID", "Actor", "Name", "Created"}, rows)
			})
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "filter by actor id")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				return e.Repo.DeleteAPIKey(ctx, tenantID, args[0])
			})
		},
	})
	return cmd
}
