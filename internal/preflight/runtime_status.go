package preflight

import (
	"fmt"

	"relingo/internal/deps"
)

// DependencyResults converts binary availability into preflight results.
func DependencyResults(statuses []deps.Status) []Result {
	results := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		r := Result{Name: s.Name, Passed: s.Available, Optional: s.Optional, Detail: s.Detail}
		if s.Available {
			r.Detail = fmt.Sprintf("%s (found)", s.Command)
		}
		results = append(results, r)
	}
	return results
}
