// Package sla holds the SLA policy table and the pure deadline evaluator.
package sla

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
)

// DefaultCriticalMultiplier halves the standard duration for critical tickets.
const DefaultCriticalMultiplier = 0.5

// PolicyConfig is the on-disk shape of the `sla` section of the policy file.
type PolicyConfig struct {
	CriticalMultiplier float64                                 `yaml:"critical_multiplier"`
	Standard           time.Duration                           `yaml:"standard"`
	Priorities         map[domain.TicketPriority]time.Duration `yaml:"priorities"`
	Categories         []CategoryConfig                        `yaml:"categories"`
}

// CategoryConfig configures one issue category.
type CategoryConfig struct {
	Name       string                                  `yaml:"name"`
	Department string                                  `yaml:"department"`
	Standard   time.Duration                           `yaml:"standard"`
	Priorities map[domain.TicketPriority]time.Duration `yaml:"priorities"`
}

type policyFile struct {
	SLA PolicyConfig `yaml:"sla"`
}

// Entry is one resolved (category, priority) policy.
type Entry struct {
	Category   string
	Priority   domain.TicketPriority
	Duration   time.Duration
	Department string
}

type categoryPolicy struct {
	name       string
	department string
	standard   time.Duration
	priorities map[domain.TicketPriority]time.Duration
}

// PolicyTable maps (category, priority) to an expected resolution duration.
// It is read-only after construction.
type PolicyTable struct {
	standard   time.Duration
	priorities map[domain.TicketPriority]time.Duration
	categories map[string]categoryPolicy
	multiplier float64
}

// DefaultPolicyConfig is used when no policy file is configured.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		CriticalMultiplier: DefaultCriticalMultiplier,
		Standard:           120 * time.Hour,
		Priorities: map[domain.TicketPriority]time.Duration{
			domain.TicketPriorityHigh:   72 * time.Hour,
			domain.TicketPriorityMedium: 120 * time.Hour,
			domain.TicketPriorityLow:    168 * time.Hour,
		},
		Categories: []CategoryConfig{
			{Name: "Pothole", Department: "Roads & Transport", Standard: 72 * time.Hour},
			{Name: "Water Leak", Department: "Water & Sanitation", Standard: 48 * time.Hour},
			{Name: "Sewage Overflow", Department: "Water & Sanitation", Standard: 24 * time.Hour},
			{Name: "Garbage Collection", Department: "Environment", Standard: 48 * time.Hour,
				Priorities: map[domain.TicketPriority]time.Duration{domain.TicketPriorityLow: 96 * time.Hour}},
			{Name: "Streetlight", Department: "Public Works", Standard: 96 * time.Hour},
			{Name: "Drainage", Department: "Public Works", Standard: 72 * time.Hour},
		},
	}
}

// DefaultPolicyTable builds the table from DefaultPolicyConfig.
func DefaultPolicyTable() *PolicyTable {
	table, err := NewPolicyTable(DefaultPolicyConfig())
	if err != nil {
		panic(fmt.Sprintf("sla: invalid default policy: %v", err))
	}
	return table
}

// LoadPolicyFile reads the `sla` section of a YAML policy file. An empty path
// yields the default table.
func LoadPolicyFile(path string) (*PolicyTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicyTable(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sla policy: %w", err)
	}
	return ParsePolicy(content)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(content []byte) (*PolicyTable, error) {
	var file policyFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("decode sla policy: %w", err)
	}
	return NewPolicyTable(file.SLA)
}

// NewPolicyTable validates cfg and builds the lookup table.
func NewPolicyTable(cfg PolicyConfig) (*PolicyTable, error) {
	if cfg.Standard <= 0 {
		return nil, fmt.Errorf("sla policy: standard duration must be positive")
	}
	multiplier := cfg.CriticalMultiplier
	if multiplier == 0 {
		multiplier = DefaultCriticalMultiplier
	}
	if multiplier < 0 || multiplier > 1 {
		return nil, fmt.Errorf("sla policy: critical_multiplier %v out of range (0,1]", multiplier)
	}
	priorities, err := validatePriorities("default", cfg.Priorities)
	if err != nil {
		return nil, err
	}

	table := &PolicyTable{
		standard:   cfg.Standard,
		priorities: priorities,
		categories: make(map[string]categoryPolicy, len(cfg.Categories)),
		multiplier: multiplier,
	}
	for _, cat := range cfg.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return nil, fmt.Errorf("sla policy: category name required")
		}
		key := categoryKey(name)
		if _, exists := table.categories[key]; exists {
			return nil, fmt.Errorf("sla policy: duplicate category %q", name)
		}
		if cat.Standard < 0 {
			return nil, fmt.Errorf("sla policy: category %q standard duration must be positive", name)
		}
		catPriorities, err := validatePriorities(name, cat.Priorities)
		if err != nil {
			return nil, err
		}
		table.categories[key] = categoryPolicy{
			name:       name,
			department: strings.TrimSpace(cat.Department),
			standard:   cat.Standard,
			priorities: catPriorities,
		}
	}
	return table, nil
}

func validatePriorities(scope string, in map[domain.TicketPriority]time.Duration) (map[domain.TicketPriority]time.Duration, error) {
	out := make(map[domain.TicketPriority]time.Duration, len(in))
	for raw, d := range in {
		p, ok := domain.ParseTicketPriority(string(raw))
		if !ok {
			return nil, fmt.Errorf("sla policy: %s: unknown priority %q", scope, raw)
		}
		if d <= 0 {
			return nil, fmt.Errorf("sla policy: %s: duration for %s must be positive", scope, p)
		}
		out[p] = d
	}
	return out, nil
}

// Lookup resolves the expected duration for (category, priority). Lookup
// order is category+priority, category standard, default priority, default
// standard. Standard durations are scaled by the critical multiplier for
// critical tickets.
func (p *PolicyTable) Lookup(category string, priority domain.TicketPriority) Entry {
	entry := Entry{Category: strings.TrimSpace(category), Priority: priority}
	if cat, ok := p.categories[categoryKey(category)]; ok {
		entry.Category = cat.name
		entry.Department = cat.department
		if d, ok := cat.priorities[priority]; ok {
			entry.Duration = d
			return entry
		}
		if cat.standard > 0 {
			entry.Duration = p.scale(cat.standard, priority)
			return entry
		}
	}
	if d, ok := p.priorities[priority]; ok {
		entry.Duration = d
		return entry
	}
	entry.Duration = p.scale(p.standard, priority)
	return entry
}

// Duration is shorthand for Lookup(...).Duration.
func (p *PolicyTable) Duration(category string, priority domain.TicketPriority) time.Duration {
	return p.Lookup(category, priority).Duration
}

// Department returns the owning department configured for category, if any.
func (p *PolicyTable) Department(category string) string {
	return p.categories[categoryKey(category)].department
}

// Entries expands every configured category against every priority, sorted
// by category then priority.
func (p *PolicyTable) Entries() []Entry {
	names := make([]string, 0, len(p.categories))
	for _, cat := range p.categories {
		names = append(names, cat.name)
	}
	sort.Strings(names)
	entries := make([]Entry, 0, len(names)*len(domain.AllPriorities))
	for _, name := range names {
		for _, pr := range domain.AllPriorities {
			entries = append(entries, p.Lookup(name, pr))
		}
	}
	return entries
}

func (p *PolicyTable) scale(d time.Duration, priority domain.TicketPriority) time.Duration {
	if priority != domain.TicketPriorityCritical {
		return d
	}
	scaled := time.Duration(float64(d) * p.multiplier)
	if scaled <= 0 {
		return d
	}
	return scaled
}

func categoryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
