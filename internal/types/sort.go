package types

import (
	"slices"
	"strings"
)

// SortField identifies an issue attribute usable for ordering list output.
type SortField string

// Sort field constants
const (
	SortFieldPriority SortField = "priority"
	SortFieldCreated  SortField = "created"
	SortFieldUpdated  SortField = "updated"
	SortFieldTitle    SortField = "title"
)

// SortDirection is the ordering direction for a sort field.
type SortDirection string

// Sort direction constants
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortOption pairs a field with a direction.
type SortOption struct {
	Field     SortField
	Direction SortDirection
}

// DefaultSortOptions returns the default ordering for issue listings:
// priority ascending with updated timestamp fallback.
func DefaultSortOptions() []SortOption {
	return []SortOption{
		{Field: SortFieldPriority, Direction: SortAsc},
		{Field: SortFieldUpdated, Direction: SortDesc},
	}
}

// ParseSortOrder converts a comma-delimited string (e.g. "priority-asc,title-desc")
// into a slice of SortOption values. Unrecognised fields or directions are skipped.
func ParseSortOrder(raw string) []SortOption {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	options := make([]SortOption, 0, len(parts))
	seen := make(map[SortField]bool)

	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}

		field, dir := splitSortToken(token)
		sortField := mapSortField(field)
		if sortField == "" {
			continue
		}
		direction := mapSortDirection(dir)
		if direction == "" {
			continue
		}

		if seen[sortField] {
			continue
		}
		seen[sortField] = true

		options = append(options, SortOption{
			Field:     sortField,
			Direction: direction,
		})
	}

	return options
}

// SortIssues orders issues in place by the given options, falling back to ID
// order so output is deterministic regardless of load order.
func SortIssues(issues []*Issue, options []SortOption) {
	if len(options) == 0 {
		options = DefaultSortOptions()
	}
	slices.SortStableFunc(issues, func(a, b *Issue) int {
		for _, opt := range options {
			c := compareByField(a, b, opt.Field)
			if c == 0 {
				continue
			}
			if opt.Direction == SortDesc {
				return -c
			}
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func compareByField(a, b *Issue, field SortField) int {
	switch field {
	case SortFieldPriority:
		return a.Priority - b.Priority
	case SortFieldCreated:
		return a.CreatedAt.Compare(b.CreatedAt)
	case SortFieldUpdated:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case SortFieldTitle:
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	default:
		return 0
	}
}

func splitSortToken(token string) (string, string) {
	if idx := strings.IndexAny(token, ":-"); idx >= 0 {
		left := strings.TrimSpace(token[:idx])
		right := strings.TrimSpace(token[idx+1:])
		return strings.ToLower(left), strings.ToLower(right)
	}
	// Bare field name defaults to ascending.
	return strings.ToLower(token), "asc"
}

func mapSortField(raw string) SortField {
	switch raw {
	case "updated", "updated_at":
		return SortFieldUpdated
	case "created", "created_at":
		return SortFieldCreated
	case "priority":
		return SortFieldPriority
	case "title":
		return SortFieldTitle
	default:
		return ""
	}
}

func mapSortDirection(raw string) SortDirection {
	switch raw {
	case "asc", "ascending":
		return SortAsc
	case "desc", "descending":
		return SortDesc
	default:
		return ""
	}
}
