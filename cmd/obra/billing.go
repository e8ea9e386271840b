package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"obraflow/internal/domain"
	"obraflow/internal/engine"
	"obraflow/internal/engine/money"
	"obraflow/internal/repo"
)

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "client", Short: "Manage clients"}
	var c domain.Client
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				res, err := e.CreateClient(ctx, tenantID, c, actorID())
				if err != nil {
					return err
				}
				return printOne(res)
			})
		},
	}
	create.Flags().StringVar(&c.Name, "name", "", "client name")
	create.Flags().StringVar(&c.TaxID, "tax-id", "", "tax id")
	create.Flags().StringVar(&c.Email, "email", "", "email")
	create.Flags().StringVar(&c.Phone, "phone", "", "phone")
	create.Flags().StringVar(&c.Address, "address", "", "address")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.Repo.ListClients(ctx, tenantID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					rows = append(rows, table.Row{c.ID, c.Name, c.TaxID, c.Phone})
				}
				return printTable(items, table.Row{"ID", "Name", "Tax ID", "Phone"}, rows)
			})
		},
	})
	return cmd
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "worker", Short: "Manage workers"}
	var name, salary, overtime string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseDecimal("salary", salary)
			if err != nil {
				return err
			}
			o, err := parseDecimal("overtime-rate", overtime)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				w, err := e.CreateWorker(ctx, tenantID, domain.Worker{Name: name, MonthlySalary: s, OvertimeRate: o}, actorID())
				if err != nil {
					return err
				}
				return printOne(w)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "worker name")
	create.Flags().StringVar(&salary, "salary", "0", "monthly salary")
	create.Flags().StringVar(&overtime, "overtime-rate", "0", "hourly overtime rate")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.Repo.ListWorkers(ctx, nil, tenantID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, w := range items {
					rows = append(rows, table.Row{w.ID, w.Name, w.MonthlySalary.StringFixed(2), w.OvertimeRate.StringFixed(2)})
				}
				return printTable(items, table.Row{"ID", "Name", "Salary", "Overtime/h"}, rows)
			})
		},
	})
	return cmd
}

// parseSubTask reads "title:points:minutes".
func parseSubTask(v string) (domain.SubTaskTemplate, error) {
	parts := strings.Split(v, ":")
	st := domain.SubTaskTemplate{Title: strings.TrimSpace(parts[0])}
	var err error
	if len(parts) > 1 {
		if st.Points, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			return st, fmt.Errorf("--sub-task %q: bad points", v)
		}
	}
	if len(parts) > 2 {
		if st.TimeLimitMinutes, err = strconv.Atoi(strings.TrimSpace(parts[2])); err != nil {
			return st, fmt.Errorf("--sub-task %q: bad minutes", v)
		}
	}
	return st, nil
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "template", Short: "Manage service templates"}
	var title, desc, rate, tax string
	var subs []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a service template",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseDecimal("rate", rate)
			if err != nil {
				return err
			}
			tx, err := parseDecimal("tax", tax)
			if err != nil {
				return err
			}
			t := domain.ServiceTemplate{Title: title, Description: desc, DefaultRate: r, DefaultTaxPercent: tx}
			for _, s := range subs {
				st, err := parseSubTask(s)
				if err != nil {
					return err
				}
				t.SubTasks = append(t.SubTasks, st)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				res, err := e.CreateTemplate(ctx, tenantID, t, actorID())
				if err != nil {
					return err
				}
				return printOne(res)
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "template title")
	create.Flags().StringVar(&desc, "description", "", "description")
	create.Flags().StringVar(&rate, "rate", "0", "default unit rate")
	create.Flags().StringVar(&tax, "tax", "", "default tax percent")
	create.Flags().StringArrayVar(&subs, "sub-task", nil, "sub-task as title:points:minutes (repeatable)")
	_ = create.MarkFlagRequired("title")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List service templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.Repo.ListTemplates(ctx, nil, tenantID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Title, t.DefaultRate.StringFixed(2), len(t.SubTasks)})
				}
				return printTable(items, table.Row{"ID", "Title", "Rate", "Sub-tasks"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a service template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				return e.DeleteTemplate(ctx, tenantID, args[0], actorID())
			})
		},
	})
	return cmd
}

type itemFile struct {
	ID          string `yaml:"id"`
	TemplateID  string `yaml:"template_id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Quantity    string `yaml:"quantity"`
	UnitRate    string `yaml:"unit_rate"`
	TaxPercent  string `yaml:"tax_percent"`
}

// itemFlags collects line items from --item and --items-file.
type itemFlags struct {
	inline []string
	file   string
}

func (f *itemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.inline, "item", nil, `line item as "title|qty|rate|tax|template" (repeatable)`)
	cmd.Flags().StringVar(&f.file, "items-file", "", "YAML list of line items")
}

func (f *itemFlags) set() bool { return len(f.inline) > 0 || f.file != "" }

func (f *itemFlags) parse() ([]domain.LineItem, error) {
	var raw []itemFile
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", f.file, err)
		}
	}
	for _, v := range f.inline {
		parts := strings.Split(v, "|")
		it := itemFile{Title: parts[0]}
		fields := []*string{&it.Quantity, &it.UnitRate, &it.TaxPercent, &it.TemplateID}
		for i, p := range parts[1:] {
			if i < len(fields) {
				*fields[i] = strings.TrimSpace(p)
			}
		}
		raw = append(raw, it)
	}
	items := make([]domain.LineItem, 0, len(raw))
	for _, r := range raw {
		if r.Quantity == "" {
			r.Quantity = "1"
		}
		qty, err := parseDecimal("item quantity", r.Quantity)
		if err != nil {
			return nil, err
		}
		rate, err := parseDecimal("item rate", r.UnitRate)
		if err != nil {
			return nil, err
		}
		tax, err := parseDecimal("item tax", r.TaxPercent)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.LineItem{
			ID:          r.ID,
			TemplateID:  r.TemplateID,
			Title:       r.Title,
			Description: r.Description,
			Quantity:    qty,
			UnitRate:    rate,
			TaxPercent:  tax,
		})
	}
	return items, nil
}

// clientFlags selects a registered client or a walk-in snapshot.
type clientFlags struct {
	id, name, taxID, phone string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "client", "", "registered client id")
	cmd.Flags().StringVar(&f.name, "walk-in", "", "walk-in client name")
	cmd.Flags().StringVar(&f.taxID, "walk-in-tax-id", "", "walk-in client tax id")
	cmd.Flags().StringVar(&f.phone, "walk-in-phone", "", "walk-in client phone")
}

func (f *clientFlags) ref() (*string, *domain.ClientSnapshot) {
	var snap *domain.ClientSnapshot
	if f.name != "" {
		snap = &domain.ClientSnapshot{Name: f.name, TaxID: f.taxID, Phone: f.phone}
	}
	return optionalString(f.id), snap
}

// dueInFlag is nil unless --due-in was given, leaving the tenant default.
func dueInFlag(cmd *cobra.Command, days int) *int {
	if !cmd.Flags().Changed("due-in") {
		return nil
	}
	return &days
}

func parseDepositFlag(v string) (domain.DepositPolicy, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return domain.DepositPolicy{Kind: domain.DepositNone}, nil
	case strings.HasSuffix(v, "%"):
		d, err := parseDecimal("deposit", strings.TrimSuffix(v, "%"))
		return domain.DepositPolicy{Kind: domain.DepositPercentage, Value: d}, err
	default:
		d, err := parseDecimal("deposit", v)
		return domain.DepositPolicy{Kind: domain.DepositFixed, Value: d}, err
	}
}

func budgetRows(items []domain.Budget) []table.Row {
	rows := make([]table.Row, 0, len(items))
	for _, b := range items {
		client := deref(b.ClientID)
		if b.ClientSnapshot != nil {
			client = b.ClientSnapshot.Name + " (walk-in)"
		}
		rows = append(rows, table.Row{b.Number, b.ID, client, b.Status, money.Aggregate(b.Items).Total.StringFixed(2), deref(b.PlannedStartDate)})
	}
	return rows
}

func budgetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "budget", Short: "Manage budgets"}
	cmd.AddCommand(budgetCreateCmd())
	cmd.AddCommand(budgetListCmd())
	cmd.AddCommand(budgetShowCmd())
	cmd.AddCommand(budgetUpdateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "promote <id>",
		Short: "Promote an accepted, scheduled budget to a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				w, err := e.PromoteBudget(ctx, tenantID, args[0], actorID())
				if err != nil {
					return err
				}
				if w == nil {
					fmt.Println("budget is not accepted with a planned start date; nothing to promote")
					return nil
				}
				return printOne(w)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "register-client <id>",
		Short: "Register the budget's walk-in client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				b, err := e.RegisterBudgetClient(ctx, tenantID, args[0], actorID())
				if err != nil {
					return err
				}
				return printOne(b)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				return e.DeleteBudget(ctx, tenantID, args[0], actorID())
			})
		},
	})
	var dueDays int
	invoice := &cobra.Command{
		Use:   "invoice <id>",
		Short: "Issue an invoice from a budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				inv, err := e.DeriveInvoice(ctx, tenantID, args[0], dueInFlag(cmd, dueDays), actorID())
				if err != nil {
					return err
				}
				return printOne(inv)
			})
		},
	}
	invoice.Flags().IntVar(&dueDays, "due-in", 0, "days until due, 0 for due on issue (default from tenant config)")
	cmd.AddCommand(invoice)
	return cmd
}

func budgetCreateCmd() *cobra.Command {
	var clients clientFlags
	var items itemFlags
	var deposit, start, comments, terms, date string
	var validity int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			lineItems, err := items.parse()
			if err != nil {
				return err
			}
			dep, err := parseDepositFlag(deposit)
			if err != nil {
				return err
			}
			clientID, snap := clients.ref()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				b, err := e.CreateBudget(ctx, tenantID, engine.BudgetInput{
					ClientID:         clientID,
					ClientSnapshot:   snap,
					Items:            lineItems,
					Deposit:          dep,
					PlannedStartDate: optionalString(start),
					ValidityDays:     validity,
					Comments:         comments,
					Terms:            terms,
					Date:             date,
				}, actorID())
				if err != nil {
					return err
				}
				return printOne(b)
			})
		},
	}
	clients.register(cmd)
	items.register(cmd)
	cmd.Flags().StringVar(&deposit, "deposit", "", `deposit, "30%" or a fixed amount`)
	cmd.Flags().StringVar(&start, "start", "", "planned start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	cmd.Flags().StringVar(&terms, "terms", "", "terms (default from tenant config)")
	cmd.Flags().StringVar(&date, "date", "", "issue date (default today)")
	cmd.Flags().IntVar(&validity, "validity-days", 0, "days the quote stays valid")
	return cmd
}

func budgetListCmd() *cobra.Command {
	var status, client string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List budgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.ListBudgets(ctx, repo.BudgetFilters{TenantID: tenantID, Status: status, ClientID: client, Limit: limit})
				if err != nil {
					return err
				}
				return printTable(items, table.Row{"#", "ID", "Client", "Status", "Total", "Start"}, budgetRows(items))
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&client, "client", "", "client id filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func budgetShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a budget with totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				b, err := e.GetBudget(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				totals := money.Aggregate(b.Items)
				return printOne(map[string]any{
					"budget":  b,
					"totals":  totals,
					"deposit": money.DepositAmount(totals.Total, b.Deposit).StringFixed(2),
				})
			})
		},
	}
}

func budgetUpdateCmd() *cobra.Command {
	var clients clientFlags
	var items itemFlags
	var status, deposit, start, comments, terms string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a budget; accepting with a start date promotes it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd engine.BudgetUpdate
			flags := cmd.Flags()
			if items.set() {
				lineItems, err := items.parse()
				if err != nil {
					return err
				}
				upd.Items = &lineItems
			}
			if flags.Changed("deposit") {
				dep, err := parseDepositFlag(deposit)
				if err != nil {
					return err
				}
				upd.Deposit = &dep
			}
			if flags.Changed("status") {
				s := domain.BudgetStatus(status)
				upd.Status = &s
			}
			if flags.Changed("start") {
				upd.PlannedStartDate = &start
			}
			if flags.Changed("comments") {
				upd.Comments = &comments
			}
			if flags.Changed("terms") {
				upd.Terms = &terms
			}
			upd.ClientID, upd.ClientSnapshot = clients.ref()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				b, err := e.UpdateBudget(ctx, tenantID, args[0], upd, actorID())
				if err != nil {
					return err
				}
				return printOne(b)
			})
		},
	}
	clients.register(cmd)
	items.register(cmd)
	cmd.Flags().StringVar(&status, "status", "", "draft, sent, accepted or rejected")
	cmd.Flags().StringVar(&deposit, "deposit", "", `deposit, "30%" or a fixed amount`)
	cmd.Flags().StringVar(&start, "start", "", "planned start date; empty clears it")
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	cmd.Flags().StringVar(&terms, "terms", "", "terms")
	return cmd
}

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "invoice", Short: "Manage invoices"}

	var clients clientFlags
	var items itemFlags
	var deposit, comments, terms string
	var dueDays int
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an ad hoc invoice",
		RunE: func(cmd *cobra.Command, args []string) error {
			lineItems, err := items.parse()
			if err != nil {
				return err
			}
			dep, err := parseDepositFlag(deposit)
			if err != nil {
				return err
			}
			clientID, snap := clients.ref()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				inv, err := e.CreateInvoice(ctx, tenantID, engine.InvoiceInput{
					ClientID:       clientID,
					ClientSnapshot: snap,
					Items:          lineItems,
					Deposit:        dep,
					Comments:       comments,
					Terms:          terms,
					DueInDays:      dueInFlag(cmd, dueDays),
				}, actorID())
				if err != nil {
					return err
				}
				return printOne(inv)
			})
		},
	}
	clients.register(create)
	items.register(create)
	create.Flags().StringVar(&deposit, "deposit", "", `deposit, "30%" or a fixed amount`)
	create.Flags().StringVar(&comments, "comments", "", "comments")
	create.Flags().StringVar(&terms, "terms", "", "terms")
	create.Flags().IntVar(&dueDays, "due-in", 0, "days until due, 0 for due on issue (default from tenant config)")
	cmd.AddCommand(create)

	var status, budgetID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.ListInvoices(ctx, repo.InvoiceFilters{TenantID: tenantID, Status: status, SourceBudgetID: budgetID})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, inv := range items {
					rows = append(rows, table.Row{inv.Number, inv.ID, inv.Status, money.Aggregate(inv.Items).Total.StringFixed(2), inv.DueDate, deref(inv.SourceBudgetID)})
				}
				return printTable(items, table.Row{"#", "ID", "Status", "Total", "Due", "Budget"}, rows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().StringVar(&budgetID, "budget", "", "source budget filter")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				inv, err := e.GetInvoice(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				return printOne(map[string]any{"invoice": inv, "totals": money.Aggregate(inv.Items)})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status <id> <paid|void>",
		Short: "Settle or void an issued invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				inv, err := e.SetInvoiceStatus(ctx, tenantID, args[0], domain.InvoiceStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printOne(inv)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "register-client <id>",
		Short: "Register the invoice's walk-in client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				inv, err := e.RegisterInvoiceClient(ctx, tenantID, args[0], actorID())
				if err != nil {
					return err
				}
				return printOne(inv)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				return e.DeleteInvoice(ctx, tenantID, args[0], actorID())
			})
		},
	})
	return cmd
}
