package module

import (
	"fmt"
	"slices"
	"strings"
)

// Priority orders modules during bulk operations. Lower sorts first.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// PriorityOrder lists priorities in execution order. The index of a
// priority in this slice is its sort key.
var PriorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns the sort key of p. The zero value ranks as MEDIUM; unknown
// values rank after every known tier.
func (p Priority) Rank() int {
	if p == "" {
		p = PriorityMedium
	}
	if i := slices.Index(PriorityOrder, p); i >= 0 {
		return i
	}
	return len(PriorityOrder)
}

// Valid reports whether p is one of the known tiers.
func (p Priority) Valid() bool {
	return slices.Contains(PriorityOrder, p)
}

// ParsePriority parses a case-insensitive priority name. NORMAL is accepted
// as an alias for MEDIUM and the empty string defaults to MEDIUM.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case "NORMAL":
		return PriorityMedium, nil
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPriority, s)
	}
}

// UnmarshalText lets priorities be read from YAML, TOML and env values.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ComparePriority orders two (priority, name) pairs: by rank first, then
// by name.
func ComparePriority(pa Priority, na string, pb Priority, nb string) int {
	if ra, rb := pa.Rank(), pb.Rank(); ra != rb {
		return ra - rb
	}
	return strings.Compare(na, nb)
}

// SortByPriority sorts configs in place by priority tier, then by name.
func SortByPriority(configs []Config) {
	slices.SortStableFunc(configs, func(a, b Config) int {
		return ComparePriority(a.Priority, a.Name, b.Priority, b.Name)
	})
}
