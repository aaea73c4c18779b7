package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey represents a unique identifier for a cached Horizon response.
type CacheKey struct {
	// Endpoint is the API endpoint path (e.g., "/Plant")
	Endpoint string

	// Params are the query parameters (e.g., {"plantId": "42"})
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: gpm:endpoint:param1=val1:param2=val2
//
// Example:
//
//	gpm:Plant/42/Element:includeDeleted=false
func (k CacheKey) String() string {
	parts := []string{"gpm"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Sorted for determinism
	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
