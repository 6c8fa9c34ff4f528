package validation

import (
	"fmt"

	"github.com/rendis/conductor/pkg/schema"
)

// checkGraph performs graph analysis over a step set: self-dependencies,
// dangling references, and cycle detection (DFS with visiting/visited
// coloring). Every rule reports independently — no short-circuiting between
// them — except the cycle rule, which reports exactly one error for the
// first cycle found and stops. The reported node is the one the traversal
// started from when the cycle closed.
func checkGraph(steps []schema.Step) []schema.ValidationError {
	var errs []schema.ValidationError

	ids := make(map[string]bool, len(steps))
	for _, s := range steps {
		ids[s.ID] = true
	}

	adjacency := make(map[string][]string, len(steps))
	order := make([]string, 0, len(steps))
	for _, s := range steps {
		adjacency[s.ID] = s.DependsOn
		order = append(order, s.ID)

		for _, dep := range s.DependsOn {
			if !ids[dep] {
				errs = append(errs, schema.ValidationError{
					Code:    schema.ErrCodeInvalidDependency,
					Message: fmt.Sprintf("dependency %q not found", dep),
					StepID:  s.ID,
					Path:    "depends_on",
				})
			}
			if dep == s.ID {
				errs = append(errs, schema.ValidationError{
					Code:    schema.ErrCodeInvalidDependency,
					Message: "step cannot depend on itself",
					StepID:  s.ID,
					Path:    "depends_on",
				})
			}
		}
	}

	// Cycle detection. Visiting marks the current DFS path; re-entering a
	// visiting node closes a cycle. Deliberately stops at the first cycle
	// rather than enumerating all of them.
	visiting := make(map[string]bool, len(steps))
	visited := make(map[string]bool, len(steps))

	var dfs func(node string) bool
	dfs = func(node string) bool {
		if visiting[node] {
			return true
		}
		if visited[node] {
			return false
		}
		visiting[node] = true
		for _, next := range adjacency[node] {
			if dfs(next) {
				return true
			}
		}
		delete(visiting, node)
		visited[node] = true
		return false
	}

	for _, node := range order {
		if dfs(node) {
			errs = append(errs, schema.ValidationError{
				Code:    schema.ErrCodeInvalidDependency,
				Message: "cycle detected in dependencies",
				StepID:  node,
				Path:    "depends_on",
			})
			break
		}
	}

	return errs
}
