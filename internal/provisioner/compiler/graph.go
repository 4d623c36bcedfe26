package compiler

import (
	"fmt"

	appErr "github.com/stackforge/engine/pkg/errors"
)

// Manifest is one fully expanded stack: every owned resource declaration
// plus the read-only reference to the external AI account. The declaration
// set is fixed; dependency edges come from the declarations themselves.
type Manifest struct {
	Token       string                 `json:"token"`
	Plan        PlanDeclaration        `json:"plan"`
	Site        SiteDeclaration        `json:"site"`
	Workspace   WorkspaceDeclaration   `json:"workspace"`
	Diagnostics DiagnosticsDeclaration `json:"diagnostics"`
	AIAccount   AIAccountReference     `json:"ai_account"`
}

// Declarations returns all owned declarations in declaration order.
func (m *Manifest) Declarations() []Declaration {
	return []Declaration{m.Plan, m.Site, m.Workspace, m.Diagnostics}
}

// ExecutionOrder returns the declarations sorted leaves-first: every
// declaration appears after all of its dependencies. The order is stable
// across calls for identical manifests.
func (m *Manifest) ExecutionOrder() ([]Declaration, error) {
	decls := m.Declarations()
	byRef := make(map[ResourceRef]Declaration, len(decls))
	indegree := make(map[ResourceRef]int, len(decls))
	dependents := make(map[ResourceRef][]ResourceRef, len(decls))

	for _, d := range decls {
		ref := d.Ref()
		if _, dup := byRef[ref]; dup {
			return nil, appErr.New(appErr.CodeConflict, fmt.Sprintf("duplicate declaration %s", ref))
		}
		byRef[ref] = d
		indegree[ref] = 0
	}
	for _, d := range decls {
		for _, dep := range d.DependsOn() {
			if _, ok := byRef[dep]; !ok {
				return nil, appErr.New(appErr.CodeInvalid,
					fmt.Sprintf("declaration %s depends on unknown %s", d.Ref(), dep))
			}
			indegree[d.Ref()]++
			dependents[dep] = append(dependents[dep], d.Ref())
		}
	}

	// Kahn's algorithm seeded in declaration order so the result is stable.
	var ready []ResourceRef
	for _, d := range decls {
		if indegree[d.Ref()] == 0 {
			ready = append(ready, d.Ref())
		}
	}

	out := make([]Declaration, 0, len(decls))
	for len(ready) > 0 {
		ref := ready[0]
		ready = ready[1:]
		out = append(out, byRef[ref])
		for _, dep := range dependents[ref] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(out) != len(decls) {
		return nil, appErr.New(appErr.CodeInvalid, "dependency cycle in manifest")
	}
	return out, nil
}
