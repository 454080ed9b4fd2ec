package catalog

import (
	_ "embed"
	"encoding/json"
	"math"
	"strings"
)

// SampleData is the bundled seed dataset shipped with the application.
//
//go:embed restaurants.json
var SampleData []byte

const defaultName = "Unnamed"

// ParseSeed decodes a seed dataset. The dataset must be a JSON array;
// entries that are not JSON objects are skipped, and missing or mistyped
// fields within an entry fall back to defaults rather than failing the
// batch. An entry's id defaults to its array index. Coordinates are kept
// only when the key is present and holds a finite number, so absence stays
// distinct from zero. A blank image is treated as absent.
func ParseSeed(data []byte) ([]Restaurant, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	restaurants := make([]Restaurant, 0, len(entries))
	for index, entry := range entries {
		var fields map[string]any
		if err := json.Unmarshal(entry, &fields); err != nil {
			continue
		}
		restaurants = append(restaurants, restaurantFromSeed(fields, index))
	}
	return restaurants, nil
}

func restaurantFromSeed(fields map[string]any, index int) Restaurant {
	restaurant := Restaurant{
		ID:      seedInt(fields, "id", index),
		Name:    seedString(fields, "name", defaultName),
		Tags:    seedString(fields, "tags", ""),
		Rating:  seedInt(fields, "rating", 0),
		Address: seedString(fields, "address", ""),
		Phone:   seedString(fields, "phone", ""),
	}
	restaurant.Latitude = seedCoordinate(fields, "lat")
	restaurant.Longitude = seedCoordinate(fields, "lng")
	if image := seedString(fields, "image", ""); strings.TrimSpace(image) != "" {
		restaurant.Image = &image
	}
	return restaurant
}

func seedString(fields map[string]any, key, fallback string) string {
	if value, ok := fields[key].(string); ok {
		return value
	}
	return fallback
}

func seedInt(fields map[string]any, key string, fallback int) int {
	if value, ok := fields[key].(float64); ok && !math.IsNaN(value) && !math.IsInf(value, 0) {
		return int(value)
	}
	return fallback
}

func seedCoordinate(fields map[string]any, key string) *float64 {
	value, ok := fields[key].(float64)
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}
