package types

import (
	"fmt"
	"strings"
)

// Priority orders tasks in the ready queue and messages on the bus.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns a comparable weight; higher runs first. Unknown values rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// ParsePriority normalizes a caller supplied priority. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}
