package authz

import (
	"context"
	"errors"
	"sort"
)

// roleReader is the slice of Store the hierarchy walker needs.
type roleReader interface {
	GetRole(ctx context.Context, id string) (Role, error)
}

// resolveClosure returns roleIDs unioned with every ancestor reachable via
// parent links. The walk carries a visited set so a misconfigured cycle
// terminates with the partial closure instead of hanging the decision path.
func resolveClosure(ctx context.Context, store roleReader, roleIDs []string) ([]string, error) {
	visited := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		current := id
		for current != "" {
			if _, seen := visited[current]; seen {
				break
			}
			visited[current] = struct{}{}
			role, err := store.GetRole(ctx, current)
			if errors.Is(err, ErrNotFound) {
				// Dangling assignment; the role itself stays in the closure
				// but contributes no ancestors.
				break
			}
			if err != nil {
				return nil, err
			}
			if role.ParentRoleID == nil {
				break
			}
			current = *role.ParentRoleID
		}
	}
	closure := make([]string, 0, len(visited))
	for id := range visited {
		closure = append(closure, id)
	}
	sort.Strings(closure)
	return closure, nil
}

// wouldCycle reports whether linking roleID under parentID closes a cycle.
// The upward walk is bounded by a visited set so it also terminates on an
// already-broken chain.
func wouldCycle(ctx context.Context, store roleReader, roleID, parentID string) (bool, error) {
	if roleID == parentID {
		return true, nil
	}
	visited := map[string]struct{}{}
	current := parentID
	for current != "" {
		if current == roleID {
			return true, nil
		}
		if _, seen := visited[current]; seen {
			// Existing chain is already cyclic; refuse to extend it.
			return true, nil
		}
		visited[current] = struct{}{}
		role, err := store.GetRole(ctx, current)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if role.ParentRoleID == nil {
			return false, nil
		}
		current = *role.ParentRoleID
	}
	return false, nil
}
