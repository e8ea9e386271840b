package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy decides how a non-fatal numeric edge case is treated.
type Policy string

const (
	PolicyAllow  Policy = "allow"
	PolicyWarn   Policy = "warn"
	PolicyReject Policy = "reject"
)

// Config models a tenant's obra.yml.
type Config struct {
	Tenant struct {
		ID       string `yaml:"id" json:"id"`
		Name     string `yaml:"name" json:"name"`
		Currency string `yaml:"currency" json:"currency"`
	} `yaml:"tenant" json:"tenant"`
	Invoicing struct {
		DueInDays         int     `yaml:"due_in_days" json:"due_in_days"`
		DefaultTaxPercent float64 `yaml:"default_tax_percent" json:"default_tax_percent"`
		PaymentTerms      string  `yaml:"payment_terms" json:"payment_terms,omitempty"`
	} `yaml:"invoicing" json:"invoicing"`
	Policies struct {
		DepositOverTotal Policy `yaml:"deposit_over_total" json:"deposit_over_total"`
		Overpayment      Policy `yaml:"overpayment" json:"overpayment"`
	} `yaml:"policies" json:"policies"`
	Tasks struct {
		BulletPoints           int `yaml:"bullet_points" json:"bullet_points"`
		BulletTimeLimitMinutes int `yaml:"bullet_time_limit_minutes" json:"bullet_time_limit_minutes"`
		GenericPoints          int `yaml:"generic_points" json:"generic_points"`
		GenericTimeLimit       int `yaml:"generic_time_limit_minutes" json:"generic_time_limit_minutes"`
	} `yaml:"tasks" json:"tasks"`
	Payroll struct {
		MonthlyHours     int `yaml:"monthly_hours" json:"monthly_hours"`
		StandardDayHours int `yaml:"standard_day_hours" json:"standard_day_hours"`
	} `yaml:"payroll" json:"payroll"`
	Webhooks []Webhook `yaml:"webhooks" json:"webhooks,omitempty"`
}

type Webhook struct {
	URL    string   `yaml:"url" json:"url"`
	Events []string `yaml:"events" json:"events,omitempty"`
	Secret string   `yaml:"secret" json:"secret,omitempty"`
}

// Wants reports whether the hook subscribes to evtType. An empty list or "*"
// subscribes to everything; a trailing ".*" matches a prefix.
func (w Webhook) Wants(evtType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		switch {
		case e == "*", e == evtType:
			return true
		case strings.HasSuffix(e, ".*") && strings.HasPrefix(evtType, strings.TrimSuffix(e, "*")):
			return true
		}
	}
	return false
}

func validPolicy(p Policy) bool {
	switch p {
	case PolicyAllow, PolicyWarn, PolicyReject:
		return true
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	if c.Invoicing.DueInDays < 0 {
		return fmt.Errorf("config.invoicing.due_in_days must be >= 0")
	}
	if c.Invoicing.DefaultTaxPercent < 0 {
		return fmt.Errorf("config.invoicing.default_tax_percent must be >= 0")
	}
	if !validPolicy(c.Policies.DepositOverTotal) {
		return fmt.Errorf("config.policies.deposit_over_total must be allow, warn or reject")
	}
	if !validPolicy(c.Policies.Overpayment) {
		return fmt.Errorf("config.policies.overpayment must be allow, warn or reject")
	}
	if c.Tasks.BulletPoints < 0 || c.Tasks.GenericPoints < 0 {
		return fmt.Errorf("config.tasks points must be >= 0")
	}
	if c.Tasks.BulletTimeLimitMinutes < 0 || c.Tasks.GenericTimeLimit < 0 {
		return fmt.Errorf("config.tasks time limits must be >= 0")
	}
	if c.Payroll.MonthlyHours <= 0 {
		return fmt.Errorf("config.payroll.monthly_hours must be > 0")
	}
	if c.Payroll.StandardDayHours <= 0 || c.Payroll.StandardDayHours > 24 {
		return fmt.Errorf("config.payroll.standard_day_hours must be between 1 and 24")
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID, tenantID)
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(tenantID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left out
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	var probe struct {
		Tenant struct {
			ID string `yaml:"id"`
		} `yaml:"tenant"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg := Default(probe.Tenant.ID)
	cfg.Webhooks = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tenant:
  id: %s
  name: %s
  currency: EUR

invoicing:
  due_in_days: 30
  default_tax_percent: 21

policies:
  # allow | warn | reject
  deposit_over_total: warn
  overpayment: warn

tasks:
  bullet_points: 1
  bullet_time_limit_minutes: 30
  generic_points: 1
  generic_time_limit_minutes: 60

payroll:
  monthly_hours: 160
  standard_day_hours: 8

webhooks: []
`
