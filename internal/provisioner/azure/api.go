package azure

import (
	"context"

	"github.com/stackforge/engine/internal/provisioner/compiler"
)

// AIAccount is the resolved identity of the external Azure OpenAI account.
type AIAccount struct {
	ID       string
	Endpoint string
}

// ResourceInfo is the minimal identity of an upserted resource.
type ResourceInfo struct {
	ID string
}

// SiteInfo extends ResourceInfo with site-specific outputs.
type SiteInfo struct {
	ID              string
	DefaultHostName string
	PrincipalID     string
}

// API is the narrow Azure Resource Manager surface the applier needs. The
// production implementation wraps the ARM SDK clients; tests substitute a
// fake. Every Upsert call is an idempotent create-or-update.
type API interface {
	// ResolveAIAccount looks up the external AI account in its own
	// subscription scope. Read-only: a missing account is an error, never a
	// create.
	ResolveAIAccount(ctx context.Context, ref compiler.AIAccountReference) (*AIAccount, error)

	EnsureResourceGroup(ctx context.Context, name, location string, tags map[string]string) error

	UpsertPlan(ctx context.Context, resourceGroup string, d compiler.PlanDeclaration) (ResourceInfo, error)
	UpsertSite(ctx context.Context, resourceGroup string, d compiler.SiteDeclaration, planID string, settings []compiler.Setting) (SiteInfo, error)
	UpsertWorkspace(ctx context.Context, resourceGroup string, d compiler.WorkspaceDeclaration) (ResourceInfo, error)
	UpsertDiagnostics(ctx context.Context, siteID string, d compiler.DiagnosticsDeclaration, workspaceID string) (ResourceInfo, error)

	DeletePlan(ctx context.Context, resourceGroup, name string) error
	DeleteSite(ctx context.Context, resourceGroup, name string) error
	DeleteWorkspace(ctx context.Context, resourceGroup, name string) error
	DeleteDiagnostics(ctx context.Context, siteID, name string) error
}
