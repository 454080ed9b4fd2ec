package catalog

import (
	"sort"
	"strings"
)

// Filter narrows a restaurant list. Zero values disable the corresponding
// predicate, so the zero Filter is the identity.
type Filter struct {
	Query     string
	Cuisine   string
	MinRating int
}

// Apply returns the restaurants matching every set predicate. The query
// matches case-insensitively against name, tags, and address. The cuisine
// predicate is substring containment against the tags field, not an exact
// tag match.
func (f Filter) Apply(restaurants []Restaurant) []Restaurant {
	filtered := restaurants

	if strings.TrimSpace(f.Query) != "" {
		query := strings.ToLower(f.Query)
		filtered = keep(filtered, func(r Restaurant) bool {
			return strings.Contains(strings.ToLower(r.Name), query) ||
				strings.Contains(strings.ToLower(r.Tags), query) ||
				strings.Contains(strings.ToLower(r.Address), query)
		})
	}

	if f.Cuisine != "" {
		cuisine := strings.ToLower(f.Cuisine)
		filtered = keep(filtered, func(r Restaurant) bool {
			return strings.Contains(strings.ToLower(r.Tags), cuisine)
		})
	}

	if f.MinRating > 0 {
		filtered = keep(filtered, func(r Restaurant) bool {
			return r.Rating >= f.MinRating
		})
	}

	return filtered
}

func keep(restaurants []Restaurant, predicate func(Restaurant) bool) []Restaurant {
	kept := make([]Restaurant, 0, len(restaurants))
	for _, restaurant := range restaurants {
		if predicate(restaurant) {
			kept = append(kept, restaurant)
		}
	}
	return kept
}

// Cuisines enumerates the distinct cuisine tags across the provided
// restaurants: the comma-separated tags fields are split, trimmed,
// deduplicated, and sorted lexicographically.
func Cuisines(restaurants []Restaurant) []string {
	seen := make(map[string]struct{})
	cuisines := make([]string, 0)
	for _, restaurant := range restaurants {
		for _, tag := range strings.Split(restaurant.Tags, ",") {
			trimmed := strings.TrimSpace(tag)
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; ok {
				continue
			}
			seen[trimmed] = struct{}{}
			cuisines = append(cuisines, trimmed)
		}
	}
	sort.Strings(cuisines)
	return cuisines
}
