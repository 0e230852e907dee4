package store

import (
	"fmt"
	"sort"
)

// MergeOrder returns the final page order: ids named in order first, then the
// remaining current ids in their existing order. Unknown or repeated ids are
// rejected.
func MergeOrder(current, order []string) ([]string, error) {
	known := make(map[string]bool, len(current))
	for _, id := range current {
		known[id] = true
	}
	seen := make(map[string]bool, len(order))
	final := make([]string, 0, len(current))
	for _, id := range order {
		if !known[id] {
			return nil, fmt.Errorf("reorder slides: page %s: %w", id, ErrNotFound)
		}
		if seen[id] {
			return nil, fmt.Errorf("reorder slides: page %s listed twice", id)
		}
		seen[id] = true
		final = append(final, id)
	}
	for _, id := range current {
		if !seen[id] {
			final = append(final, id)
		}
	}
	return final, nil
}

// sortElements orders elements for painting: z ascending, then id.
func sortElements(elements []Element) {
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Z != elements[j].Z {
			return elements[i].Z < elements[j].Z
		}
		return elements[i].ID < elements[j].ID
	})
}

func sortPages(pages []Page) {
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].Position != pages[j].Position {
			return pages[i].Position < pages[j].Position
		}
		return pages[i].ID < pages[j].ID
	})
}
