// Package escalation holds the tiered escalation matrix and the pure rule
// evaluation that decides which level an overdue ticket should reach.
package escalation

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-sla-service/internal/domain"
)

// Rule escalates a ticket once it is overdue by at least OverdueAfter.
// A zero threshold matches any overdue amount.
type Rule struct {
	OverdueAfter time.Duration     `yaml:"overdue_after"`
	Level        int               `yaml:"level"`
	Role         domain.NotifyRole `yaml:"role"`
	Trigger      string            `yaml:"trigger"`
}

// CriticalRule escalates critical tickets that nobody picked up in time.
type CriticalRule struct {
	UnassignedFor time.Duration     `yaml:"unassigned_for"`
	Level         int               `yaml:"level"`
	Role          domain.NotifyRole `yaml:"role"`
	Trigger       string            `yaml:"trigger"`
}

// MatrixConfig is the on-disk shape of the `escalation` section.
type MatrixConfig struct {
	Rules              []Rule        `yaml:"rules"`
	CriticalUnassigned *CriticalRule `yaml:"critical_unassigned"`
}

type matrixFile struct {
	Escalation *MatrixConfig `yaml:"escalation"`
}

// Matrix is the validated, read-only rule set.
type Matrix struct {
	rules    []Rule
	critical CriticalRule
}

// DefaultMatrixConfig returns the standard four-tier matrix.
func DefaultMatrixConfig() MatrixConfig {
	return MatrixConfig{
		Rules: []Rule{
			{OverdueAfter: 0, Level: 1, Role: domain.RoleResolver, Trigger: "overdue_0_24h"},
			{OverdueAfter: 24 * time.Hour, Level: 2, Role: domain.RoleTeamLead, Trigger: "overdue_24_48h"},
			{OverdueAfter: 48 * time.Hour, Level: 3, Role: domain.RoleDepartmentHead, Trigger: "overdue_48_72h"},
			{OverdueAfter: 72 * time.Hour, Level: 4, Role: domain.RoleDirectorCoordinator, Trigger: "overdue_72h_plus"},
		},
		CriticalUnassigned: &CriticalRule{
			UnassignedFor: 4 * time.Hour,
			Level:         3,
			Role:          domain.RoleDepartmentHead,
			Trigger:       "critical_unassigned_4h",
		},
	}
}

// DefaultMatrix builds the matrix from DefaultMatrixConfig.
func DefaultMatrix() *Matrix {
	m, err := NewMatrix(DefaultMatrixConfig())
	if err != nil {
		panic(fmt.Sprintf("escalation: invalid default matrix: %v", err))
	}
	return m
}

// LoadMatrixFile reads the `escalation` section of the policy file. An empty
// path, or a file without that section, yields the default matrix.
func LoadMatrixFile(path string) (*Matrix, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultMatrix(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read escalation matrix: %w", err)
	}
	return ParseMatrix(content)
}

// ParseMatrix decodes a YAML document holding an `escalation` section.
func ParseMatrix(content []byte) (*Matrix, error) {
	var file matrixFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("decode escalation matrix: %w", err)
	}
	if file.Escalation == nil {
		return DefaultMatrix(), nil
	}
	cfg := *file.Escalation
	if cfg.CriticalUnassigned == nil {
		cfg.CriticalUnassigned = DefaultMatrixConfig().CriticalUnassigned
	}
	return NewMatrix(cfg)
}

// NewMatrix validates cfg. Rules are sorted by threshold; levels must rise
// with the threshold and stay within 1..MaxEscalationLevel.
func NewMatrix(cfg MatrixConfig) (*Matrix, error) {
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("escalation matrix: at least one rule required")
	}
	rules := append([]Rule(nil), cfg.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].OverdueAfter < rules[j].OverdueAfter })

	for i := range rules {
		r := &rules[i]
		if r.OverdueAfter < 0 {
			return nil, fmt.Errorf("escalation matrix: negative threshold %s", r.OverdueAfter)
		}
		if err := checkLevel(r.Level, r.Role); err != nil {
			return nil, err
		}
		if i > 0 {
			prev := rules[i-1]
			if r.OverdueAfter == prev.OverdueAfter {
				return nil, fmt.Errorf("escalation matrix: duplicate threshold %s", r.OverdueAfter)
			}
			if r.Level <= prev.Level {
				return nil, fmt.Errorf("escalation matrix: level %d at %s does not exceed level %d", r.Level, r.OverdueAfter, prev.Level)
			}
		}
		if r.Trigger == "" {
			r.Trigger = fmt.Sprintf("overdue_%s", r.OverdueAfter)
		}
	}

	m := &Matrix{rules: rules}
	if cfg.CriticalUnassigned != nil {
		c := *cfg.CriticalUnassigned
		if c.UnassignedFor <= 0 {
			return nil, fmt.Errorf("escalation matrix: critical_unassigned.unassigned_for must be positive")
		}
		if err := checkLevel(c.Level, c.Role); err != nil {
			return nil, err
		}
		if c.Trigger == "" {
			c.Trigger = "critical_unassigned"
		}
		m.critical = c
	}
	return m, nil
}

func checkLevel(level int, role domain.NotifyRole) error {
	if level < 1 || level > domain.MaxEscalationLevel {
		return fmt.Errorf("escalation matrix: level %d out of range 1..%d", level, domain.MaxEscalationLevel)
	}
	if strings.TrimSpace(string(role)) == "" {
		return fmt.Errorf("escalation matrix: role required for level %d", level)
	}
	return nil
}

// Rules returns the overdue rules ordered by threshold.
func (m *Matrix) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// CriticalUnassigned returns the critical rule and whether one is configured.
func (m *Matrix) CriticalUnassigned() (CriticalRule, bool) {
	return m.critical, m.critical.Level > 0
}

// RoleForLevel names the party notified at level. Levels absent from the
// matrix fall back to the closest configured level below them.
func (m *Matrix) RoleForLevel(level int) (domain.NotifyRole, bool) {
	var role domain.NotifyRole
	for _, r := range m.rules {
		if r.Level > level {
			break
		}
		role = r.Role
	}
	if m.critical.Level == level {
		role = m.critical.Role
	}
	return role, role != ""
}

// ruleFor returns the highest rule whose threshold overdueBy has reached.
func (m *Matrix) ruleFor(overdueBy time.Duration) (Rule, bool) {
	if overdueBy <= 0 {
		return Rule{}, false
	}
	var (
		match Rule
		found bool
	)
	for _, r := range m.rules {
		if overdueBy < r.OverdueAfter {
			break
		}
		match, found = r, true
	}
	return match, found
}
