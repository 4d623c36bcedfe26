package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appservice/armappservice/v4"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/cognitiveservices/armcognitiveservices"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/operationalinsights/armoperationalinsights/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/stackforge/engine/internal/provisioner/compiler"
	appErr "github.com/stackforge/engine/pkg/errors"
)

// armAPI implements API against the real Azure Resource Manager.
type armAPI struct {
	subscriptionID string
	cred           azcore.TokenCredential
	opts           *arm.ClientOptions

	groups      *armresources.ResourceGroupsClient
	plans       *armappservice.PlansClient
	webApps     *armappservice.WebAppsClient
	workspaces  *armoperationalinsights.WorkspacesClient
	diagnostics *armmonitor.DiagnosticSettingsClient
}

// NewARMAPI builds ARM clients scoped to the deployment subscription. The
// credential is kept so the external AI account can be resolved in a
// different subscription scope.
func NewARMAPI(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (API, error) {
	groups, err := armresources.NewResourceGroupsClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("resource groups client: %w", err)
	}
	plans, err := armappservice.NewPlansClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("plans client: %w", err)
	}
	webApps, err := armappservice.NewWebAppsClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("web apps client: %w", err)
	}
	workspaces, err := armoperationalinsights.NewWorkspacesClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("workspaces client: %w", err)
	}
	diagnostics, err := armmonitor.NewDiagnosticSettingsClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("diagnostic settings client: %w", err)
	}
	return &armAPI{
		subscriptionID: subscriptionID,
		cred:           cred,
		opts:           opts,
		groups:         groups,
		plans:          plans,
		webApps:        webApps,
		workspaces:     workspaces,
		diagnostics:    diagnostics,
	}, nil
}

func (a *armAPI) ResolveAIAccount(ctx context.Context, ref compiler.AIAccountReference) (*AIAccount, error) {
	// The account lives in its own subscription, so the client cannot be
	// shared with the deployment-scoped ones.
	accounts, err := armcognitiveservices.NewAccountsClient(ref.SubscriptionID, a.cred, a.opts)
	if err != nil {
		return nil, fmt.Errorf("accounts client: %w", err)
	}
	resp, err := accounts.Get(ctx, ref.ResourceGroup, ref.AccountName, nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeNotFound,
			fmt.Sprintf("ai account %q not found in %s/%s", ref.AccountName, ref.SubscriptionID, ref.ResourceGroup))
	}
	out := &AIAccount{}
	if resp.ID != nil {
		out.ID = *resp.ID
	}
	if resp.Properties != nil && resp.Properties.Endpoint != nil {
		out.Endpoint = *resp.Properties.Endpoint
	}
	return out, nil
}

func (a *armAPI) EnsureResourceGroup(ctx context.Context, name, location string, tags map[string]string) error {
	_, err := a.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(location),
		Tags:     toTagMap(tags),
	}, nil)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "ensure resource group failed")
	}
	return nil
}

func (a *armAPI) UpsertPlan(ctx context.Context, resourceGroup string, d compiler.PlanDeclaration) (ResourceInfo, error) {
	poller, err := a.plans.BeginCreateOrUpdate(ctx, resourceGroup, d.Name, armappservice.Plan{
		Location: to.Ptr(d.Location),
		Kind:     to.Ptr("linux"),
		SKU: &armappservice.SKUDescription{
			Name: to.Ptr(d.SKUName),
			Tier: to.Ptr(d.SKUTier),
		},
		Properties: &armappservice.PlanProperties{
			Reserved: to.Ptr(d.Reserved),
		},
		Tags: toTagMap(d.Tags),
	}, nil)
	if err != nil {
		return ResourceInfo{}, appErr.Wrap(err, appErr.CodeInternal, "upsert plan failed")
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return ResourceInfo{}, appErr.Wrap(err, appErr.CodeInternal, "upsert plan polling failed")
	}
	return ResourceInfo{ID: deref(resp.ID)}, nil
}

func (a *armAPI) UpsertSite(ctx context.Context, resourceGroup string, d compiler.SiteDeclaration, planID string, settings []compiler.Setting) (SiteInfo, error) {
	appSettings := make([]*armappservice.NameValuePair, 0, len(settings))
	for _, s := range settings {
		appSettings = append(appSettings, &armappservice.NameValuePair{
			Name:  to.Ptr(s.Name),
			Value: to.Ptr(s.Value),
		})
	}

	site := armappservice.Site{
		Location: to.Ptr(d.Location),
		Tags:     toTagMap(d.Tags),
		Properties: &armappservice.SiteProperties{
			ServerFarmID: to.Ptr(planID),
			HTTPSOnly:    to.Ptr(d.HTTPSOnly),
			SiteConfig: &armappservice.SiteConfig{
				LinuxFxVersion: to.Ptr(d.RuntimeStack),
				AppSettings:    appSettings,
				MinTLSVersion:  to.Ptr(armappservice.SupportedTLSVersionsOne2),
				FtpsState:      to.Ptr(armappservice.FtpsStateDisabled),
			},
		},
	}
	if d.SystemIdentity {
		site.Identity = &armappservice.ManagedServiceIdentity{
			Type: to.Ptr(armappservice.ManagedServiceIdentityTypeSystemAssigned),
		}
	}

	poller, err := a.webApps.BeginCreateOrUpdate(ctx, resourceGroup, d.Name, site, nil)
	if err != nil {
		return SiteInfo{}, appErr.Wrap(err, appErr.CodeInternal, "upsert site failed")
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return SiteInfo{}, appErr.Wrap(err, appErr.CodeInternal, "upsert site polling failed")
	}

	info := SiteInfo{ID: deref(resp.ID)}
	if resp.Properties != nil {
		info.DefaultHostName = deref(resp.Properties.DefaultHostName)
	}
	if resp.Identity != nil {
		info.PrincipalID = deref(resp.Identity.PrincipalID)
	}
	return info, nil
}

func (a *armAPI) UpsertWorkspace(ctx context.Context, resourceGroup string, d compiler.WorkspaceDeclaration) (ResourceInfo, error) {
	poller, err := a.workspaces.BeginCreateOrUpdate(ctx, resourceGroup, d.Name, armoperationalinsights.Workspace{
		Location: to.Ptr(d.Location),
		Tags:     toTagMap(d.Tags),
		Properties: &armoperationalinsights.WorkspaceProperties{
			SKU: &armoperationalinsights.WorkspaceSKU{
				Name: to.Ptr(armoperationalinsights.WorkspaceSKUNameEnum(d.SKU)),
			},
			RetentionInDays: to.Ptr(d.RetentionDays),
		},
	}, nil)
	if err != nil {
		return ResourceInfo{}, appErr.Wrap(err, appErr.CodeInternal, "upsert workspace failed")
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return ResourceInfo{}, appErr.Wrap(err, appErr.CodeInternal, "upsert workspace polling failed")
	}
	return ResourceInfo{ID: deref(resp.ID)}, nil
}

func (a *armAPI) UpsertDiagnostics(ctx context.Context, siteID string, d compiler.DiagnosticsDeclaration, workspaceID string) (ResourceInfo, error) {
	logs := make([]*armmonitor.LogSettings, 0, len(d.Logs))
	for _, l := range d.Logs {
		logs = append(logs, &armmonitor.LogSettings{
			Category: to.Ptr(l.Category),
			Enabled:  to.Ptr(l.Enabled),
		})
	}
	metrics := make([]*armmonitor.MetricSettings, 0, len(d.Metrics))
	for _, m := range d.Metrics {
		metrics = append(metrics, &armmonitor.MetricSettings{
			Category: to.Ptr(m.Category),
			Enabled:  to.Ptr(m.Enabled),
		})
	}

	resp, err := a.diagnostics.CreateOrUpdate(ctx, siteID, d.Name, armmonitor.DiagnosticSettingsResource{
		Properties: &armmonitor.DiagnosticSettings{
			WorkspaceID: to.Ptr(workspaceID),
			Logs:        logs,
			Metrics:     metrics,
		},
	}, nil)
	if err != nil {
		return ResourceInfo{}, appErr.Wrap(err, appErr.CodeInternal, "upsert diagnostics failed")
	}
	return ResourceInfo{ID: deref(resp.ID)}, nil
}

func (a *armAPI) DeletePlan(ctx context.Context, resourceGroup, name string) error {
	if _, err := a.plans.Delete(ctx, resourceGroup, name, nil); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "delete plan failed")
	}
	return nil
}

func (a *armAPI) DeleteSite(ctx context.Context, resourceGroup, name string) error {
	if _, err := a.webApps.Delete(ctx, resourceGroup, name, nil); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "delete site failed")
	}
	return nil
}

func (a *armAPI) DeleteWorkspace(ctx context.Context, resourceGroup, name string) error {
	poller, err := a.workspaces.BeginDelete(ctx, resourceGroup, name, nil)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "delete workspace failed")
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "delete workspace polling failed")
	}
	return nil
}

func (a *armAPI) DeleteDiagnostics(ctx context.Context, siteID, name string) error {
	if _, err := a.diagnostics.Delete(ctx, siteID, name, nil); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "delete diagnostics failed")
	}
	return nil
}

func toTagMap(tags map[string]string) map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
