package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var indexedSegment = regexp.MustCompile(`^([^[]+)\[(\d+)\]$`)

// pathSegment is either a map key or an array index.
type pathSegment struct {
	key   string
	index int
	isKey bool
}

// ExtractByPath reads a value out of a nested JSON-like object using a
// dot-notation path. Array elements are addressed with bracket notation,
// e.g. "recording[0].public_url". The second return is false when the
// path does not resolve; extraction never fails hard.
func ExtractByPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	var segments []pathSegment
	for _, raw := range strings.Split(path, ".") {
		if match := indexedSegment.FindStringSubmatch(raw); match != nil {
			index, err := strconv.Atoi(match[2])
			if err != nil {
				return nil, false
			}
			segments = append(segments,
				pathSegment{key: match[1], isKey: true},
				pathSegment{index: index},
			)
			continue
		}
		segments = append(segments, pathSegment{key: raw, isKey: true})
	}

	var current any = data
	for _, segment := range segments {
		if segment.isKey {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[segment.key]
			if !ok {
				return nil, false
			}
			continue
		}

		arr, ok := current.([]any)
		if !ok || segment.index >= len(arr) {
			return nil, false
		}
		current = arr[segment.index]
	}

	return current, true
}
