package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/repo"
)

func workCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "work", Short: "Track works and their tasks"}

	var status, client string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List works",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.ListWorks(ctx, repo.WorkFilters{TenantID: tenantID, Status: status, ClientID: client, Limit: limit})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, w := range items {
					rows = append(rows, table.Row{w.ID, w.Title, w.Status, fmt.Sprintf("%d%%", w.ProgressPercent), w.StartDate, w.PaymentStatus, w.PaidAmount.StringFixed(2) + "/" + w.TotalBudgetAmount.StringFixed(2)})
				}
				return printTable(items, table.Row{"ID", "Title", "Status", "Progress", "Start", "Payment", "Paid"}, rows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().StringVar(&client, "client", "", "client id filter")
	list.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a work and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				w, err := e.GetWork(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(w)
				}
				fmt.Printf("%s  %s  [%s, %d%%]  start %s  paid %s of %s (%s)\n",
					w.ID, w.Title, w.Status, w.ProgressPercent, w.StartDate,
					w.PaidAmount.StringFixed(2), w.TotalBudgetAmount.StringFixed(2), w.PaymentStatus)
				rows := make([]table.Row, 0, len(w.Tasks))
				for _, t := range w.Tasks {
					rows = append(rows, table.Row{t.Position, t.ID, t.Title, t.Status, t.Points, strings.Join(t.AssignedWorkerIDs, ",")})
				}
				return printTable(w.Tasks, table.Row{"#", "Task", "Title", "Status", "Points", "Assignees"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <id> <pending|in_progress|paused|done>",
		Short: "Set a work's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				w, err := e.SetWorkStatus(ctx, tenantID, args[0], domain.WorkStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printOne(w)
			})
		},
	})
	cmd.AddCommand(amountCmd("pay <id> <amount>", "Record a client payment", func(ctx context.Context, e engine.Engine, tenantID, id string, amount string) (domain.Work, error) {
		d, err := parseDecimal("amount", amount)
		if err != nil {
			return domain.Work{}, err
		}
		return e.RecordPayment(ctx, tenantID, id, d, actorID())
	}))
	cmd.AddCommand(amountCmd("cost <id> <amount>", "Add a cost to a work", func(ctx context.Context, e engine.Engine, tenantID, id string, amount string) (domain.Work, error) {
		d, err := parseDecimal("amount", amount)
		if err != nil {
			return domain.Work{}, err
		}
		return e.AddWorkCost(ctx, tenantID, id, d, actorID())
	}))
	cmd.AddCommand(taskCmd())
	return cmd
}

func amountCmd(use, short string, fn func(ctx context.Context, e engine.Engine, tenantID, id, amount string) (domain.Work, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				w, err := fn(ctx, e, tenantID, args[0], args[1])
				if err != nil {
					return err
				}
				return printOne(w)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Advance and assign work tasks"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status <work-id> <task-id> <status>",
		Short: "Move a task one step along pending, in_progress, completed, validated",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				t, err := e.UpdateTaskStatus(ctx, tenantID, args[0], args[1], domain.TaskStatus(args[2]), actorID())
				if err != nil {
					return err
				}
				return printOne(t)
			})
		},
	})
	var workers []string
	assign := &cobra.Command{
		Use:   "assign <work-id> <task-id>",
		Short: "Replace a task's assignees",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				t, err := e.AssignTask(ctx, tenantID, args[0], args[1], workers, actorID())
				if err != nil {
					return err
				}
				return printOne(t)
			})
		},
	}
	assign.Flags().StringSliceVar(&workers, "worker", nil, "worker id (repeatable, empty clears)")
	cmd.AddCommand(assign)
	return cmd
}

func printClock(r engine.ClockReport) error {
	if jsonOutput() {
		return printJSON(r)
	}
	elapsed := time.Duration(r.ElapsedMs) * time.Millisecond
	fmt.Printf("%s %s: %s, %s worked\n", r.WorkerID, r.Day, r.Status, elapsed.Round(time.Second))
	if r.Pay != nil {
		fmt.Printf("  standard %sh, overtime %sh, total %s\n",
			r.Pay.StandardHours.StringFixed(2), r.Pay.OvertimeHours.StringFixed(2), r.Pay.Total.StringFixed(2))
	}
	for _, ev := range r.Ignored {
		fmt.Printf("  ignored %s at %s\n", ev.Kind, ev.At.Format(time.RFC3339))
	}
	return nil
}

func clockEventCmd(kind domain.TimeEventKind) *cobra.Command {
	var at, photo string
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   string(kind) + " <worker-id>",
		Short: "Record a " + string(kind) + " clock event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := domain.TimeEvent{WorkerID: args[0], Kind: kind, PhotoRef: photo}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				ev.At = t
			}
			if cmd.Flags().Changed("lat") {
				ev.Lat = &lat
			}
			if cmd.Flags().Changed("lng") {
				ev.Lng = &lng
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				r, err := e.RecordTimeEvent(ctx, tenantID, ev, actorID())
				if err != nil {
					return err
				}
				return printClock(r)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "event time, RFC3339 (default now)")
	cmd.Flags().StringVar(&photo, "photo", "", "photo reference")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	return cmd
}

func clockCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "clock", Short: "Worker time clock"}
	for _, k := range []domain.TimeEventKind{domain.TimeStart, domain.TimePause, domain.TimeResume, domain.TimeStop} {
		cmd.AddCommand(clockEventCmd(k))
	}
	var day string
	status := &cobra.Command{
		Use:   "status <worker-id>",
		Short: "Show a worker's clock state for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				r, err := e.ClockStatus(ctx, tenantID, args[0], day)
				if err != nil {
					return err
				}
				return printClock(r)
			})
		},
	}
	status.Flags().StringVar(&day, "day", "", "UTC day (YYYY-MM-DD, default today)")
	cmd.AddCommand(status)

	var earnDay string
	earnings := &cobra.Command{
		Use:   "earnings <worker-id>",
		Short: "Price a worker's day at salary and overtime rates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				r, err := e.ClockEarnings(ctx, tenantID, args[0], earnDay)
				if err != nil {
					return err
				}
				return printClock(r)
			})
		},
	}
	earnings.Flags().StringVar(&earnDay, "day", "", "UTC day (YYYY-MM-DD, default today)")
	cmd.AddCommand(earnings)
	return cmd
}

func rankingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Worker ranking by validated task points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				entries, err := e.Ranking(ctx, tenantID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(entries))
				for i, en := range entries {
					rows = append(rows, table.Row{i + 1, en.WorkerName, en.Points, en.Tasks})
				}
				return printTable(entries, table.Row{"#", "Worker", "Points", "Tasks"}, rows)
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Archive validated tasks, starting a new ranking period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				n, err := e.ResetRanking(ctx, tenantID, actorID())
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]int{"archived": n})
				}
				fmt.Printf("archived %d tasks\n", n)
				return nil
			})
		},
	})
	return cmd
}

func calendarCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "List scheduled work starts in a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				from = time.Now().UTC().Format(domain.DateLayout)
			}
			if to == "" {
				f, err := domain.ParseDate(from)
				if err != nil {
					return err
				}
				to = f.AddDate(0, 0, 30).Format(domain.DateLayout)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				entries, err := e.ListCalendar(ctx, tenantID, from, to)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(entries))
				for _, c := range entries {
					rows = append(rows, table.Row{c.Date, c.Kind, c.Title, c.WorkID})
				}
				return printTable(entries, table.Row{"Date", "Kind", "Title", "Work"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last day (default from + 30 days)")
	return cmd
}
