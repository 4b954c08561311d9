package client

import (
	"context"

	"github.com/pesio-ai/be-qms-documents/internal/config"
)

// StaticRoleGate answers role questions from a fixed set of assignments.
// Used in development and tests where no identity service runs.
type StaticRoleGate struct {
	roles map[string]map[string]bool // company/user -> role set
}

// NewStaticRoleGate builds a gate from configured assignments.
func NewStaticRoleGate(assignments []config.RoleAssignment) *StaticRoleGate {
	g := &StaticRoleGate{roles: make(map[string]map[string]bool)}
	for _, a := range assignments {
		key := a.CompanyID + "/" + a.UserID
		if g.roles[key] == nil {
			g.roles[key] = make(map[string]bool)
		}
		for _, r := range a.Roles {
			g.roles[key][r] = true
		}
	}
	return g
}

// HasRole implements service.AuthorizationGate.
func (g *StaticRoleGate) HasRole(_ context.Context, actorID, roleID, companyID string) (bool, error) {
	return g.roles[companyID+"/"+actorID][roleID], nil
}
