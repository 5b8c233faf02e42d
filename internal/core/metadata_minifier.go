package core

import "reflect"

const (
	minifiedFormat = "composer/2.0"
	unsetMarker    = "__unset"
)

// ExpandMetadata restores a "composer/2.0" minified version list. Every
// entry only carries the keys that changed since the previous one, and
// "__unset" removes a key.
func ExpandMetadata(versions []map[string]any) []map[string]any {
	expanded := make([]map[string]any, 0, len(versions))
	var current map[string]any
	for _, data := range versions {
		if current == nil {
			current = cloneMap(data)
			expanded = append(expanded, current)
			continue
		}
		next := cloneMap(current)
		for key, value := range data {
			if marker, ok := value.(string); ok && marker == unsetMarker {
				delete(next, key)
				continue
			}
			next[key] = value
		}
		current = next
		expanded = append(expanded, current)
	}
	return expanded
}

// MinifyMetadata is the inverse of ExpandMetadata.
func MinifyMetadata(versions []map[string]any) []map[string]any {
	minified := make([]map[string]any, 0, len(versions))
	var previous map[string]any
	for _, data := range versions {
		if previous == nil {
			minified = append(minified, cloneMap(data))
			previous = data
			continue
		}
		diff := map[string]any{}
		for key, value := range data {
			if old, ok := previous[key]; !ok || !reflect.DeepEqual(old, value) {
				diff[key] = value
			}
		}
		for key := range previous {
			if _, ok := data[key]; !ok {
				diff[key] = unsetMarker
			}
		}
		minified = append(minified, diff)
		previous = data
	}
	return minified
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
