package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var (
	ErrInvalidClientRef = errors.New("exactly one of client_id or client_snapshot is required")
	ErrNegativeAmount   = errors.New("amounts must be non-negative")
	ErrInvalidTitle     = errors.New("title is required")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidDeposit   = errors.New("invalid deposit policy")
	ErrInvalidName      = errors.New("name is required")
)

// ParseDate parses a calendar date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

func (li LineItem) Validate() error {
	if strings.TrimSpace(li.Title) == "" {
		return ErrInvalidTitle
	}
	if li.Quantity.IsNegative() || li.UnitRate.IsNegative() || li.TaxPercent.IsNegative() {
		return fmt.Errorf("item %q: %w", li.Title, ErrNegativeAmount)
	}
	return nil
}

func (d DepositPolicy) Validate() error {
	switch d.Kind {
	case "", DepositNone:
		return nil
	case DepositPercentage, DepositFixed:
		if d.Value.IsNegative() {
			return fmt.Errorf("%w: value must be non-negative", ErrInvalidDeposit)
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidDeposit, d.Kind)
	}
}

func validateClientRef(clientID *string, snap *ClientSnapshot) error {
	hasID := clientID != nil && strings.TrimSpace(*clientID) != ""
	hasSnap := snap != nil
	if hasID == hasSnap {
		return ErrInvalidClientRef
	}
	if hasSnap && strings.TrimSpace(snap.Name) == "" {
		return fmt.Errorf("client snapshot: %w", ErrInvalidName)
	}
	return nil
}

func validateItems(items []LineItem) error {
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s BudgetStatus) Valid() bool {
	switch s {
	case BudgetDraft, BudgetSent, BudgetAccepted, BudgetRejected:
		return true
	}
	return false
}

// Validate checks the invariants every persisted budget must hold.
func (b Budget) Validate() error {
	if err := validateClientRef(b.ClientID, b.ClientSnapshot); err != nil {
		return err
	}
	if err := validateItems(b.Items); err != nil {
		return err
	}
	if err := b.Deposit.Validate(); err != nil {
		return err
	}
	if !b.Status.Valid() {
		return fmt.Errorf("%w: budget status %q", ErrInvalidStatus, b.Status)
	}
	if b.PlannedStartDate != nil {
		if _, err := ParseDate(*b.PlannedStartDate); err != nil {
			return err
		}
	}
	if b.ValidityDays < 0 {
		return fmt.Errorf("validity_days: %w", ErrNegativeAmount)
	}
	return nil
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceIssued, InvoicePaid, InvoiceVoid:
		return true
	}
	return false
}

func (inv Invoice) Validate() error {
	if err := validateClientRef(inv.ClientID, inv.ClientSnapshot); err != nil {
		return err
	}
	if err := validateItems(inv.Items); err != nil {
		return err
	}
	if err := inv.Deposit.Validate(); err != nil {
		return err
	}
	if !inv.Status.Valid() {
		return fmt.Errorf("%w: invoice status %q", ErrInvalidStatus, inv.Status)
	}
	return nil
}

func (s WorkStatus) Valid() bool {
	switch s {
	case WorkPending, WorkInProgress, WorkPaused, WorkDone:
		return true
	}
	return false
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskValidated, TaskArchived:
		return true
	}
	return false
}

func (k TimeEventKind) Valid() bool {
	switch k {
	case TimeStart, TimePause, TimeResume, TimeStop:
		return true
	}
	return false
}

func (t ServiceTemplate) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrInvalidTitle
	}
	if t.DefaultRate.IsNegative() || t.DefaultTaxPercent.IsNegative() {
		return ErrNegativeAmount
	}
	for _, st := range t.SubTasks {
		if strings.TrimSpace(st.Title) == "" {
			return fmt.Errorf("sub task: %w", ErrInvalidTitle)
		}
		if st.Points < 0 || st.TimeLimitMinutes < 0 {
			return fmt.Errorf("sub task %q: %w", st.Title, ErrNegativeAmount)
		}
	}
	return nil
}

func (w Worker) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return ErrInvalidName
	}
	if w.MonthlySalary.IsNegative() || w.OvertimeRate.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

func (c Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrInvalidName
	}
	return nil
}
