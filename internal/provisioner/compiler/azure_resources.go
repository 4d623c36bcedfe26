package compiler

// ResourceKind identifies one of the owned resource types in a manifest.
type ResourceKind string

const (
	KindPlan        ResourceKind = "appservice_plan"
	KindSite        ResourceKind = "appservice_site"
	KindWorkspace   ResourceKind = "log_workspace"
	KindDiagnostics ResourceKind = "diagnostic_settings"
)

// ResourceRef names one declaration inside a manifest.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	Name string       `json:"name"`
}

func (r ResourceRef) String() string { return string(r.Kind) + "/" + r.Name }

// Declaration is a single desired-state resource declaration. Declarations
// carry everything the applier needs to issue an idempotent create-or-update
// call, plus the references they must be ordered after.
type Declaration interface {
	Ref() ResourceRef
	DependsOn() []ResourceRef
}

// Setting is one name/value pair pushed to the hosted service at deploy
// time. Order is preserved.
type Setting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PlanDeclaration is the compute plan hosting the site.
type PlanDeclaration struct {
	Name     string            `json:"name"`
	Location string            `json:"location"`
	SKUName  string            `json:"sku_name"`
	SKUTier  string            `json:"sku_tier"`
	Reserved bool              `json:"reserved"`
	Tags     map[string]string `json:"tags"`
}

func (d PlanDeclaration) Ref() ResourceRef        { return ResourceRef{Kind: KindPlan, Name: d.Name} }
func (d PlanDeclaration) DependsOn() []ResourceRef { return nil }

// SiteDeclaration is the hosted service. It depends on the plan and carries
// the app settings wired from the stack parameters.
type SiteDeclaration struct {
	Name           string            `json:"name"`
	Location       string            `json:"location"`
	PlanName       string            `json:"plan_name"`
	HTTPSOnly      bool              `json:"https_only"`
	SystemIdentity bool              `json:"system_identity"`
	RuntimeStack   string            `json:"runtime_stack"`
	AppSettings    []Setting         `json:"app_settings"`
	Tags           map[string]string `json:"tags"`
}

func (d SiteDeclaration) Ref() ResourceRef { return ResourceRef{Kind: KindSite, Name: d.Name} }
func (d SiteDeclaration) DependsOn() []ResourceRef {
	return []ResourceRef{{Kind: KindPlan, Name: d.PlanName}}
}

// WorkspaceDeclaration is the log analytics workspace. It has no
// dependencies and is consumed by the diagnostics binding.
type WorkspaceDeclaration struct {
	Name          string            `json:"name"`
	Location      string            `json:"location"`
	SKU           string            `json:"sku"`
	RetentionDays int32             `json:"retention_days"`
	Tags          map[string]string `json:"tags"`
}

func (d WorkspaceDeclaration) Ref() ResourceRef {
	return ResourceRef{Kind: KindWorkspace, Name: d.Name}
}
func (d WorkspaceDeclaration) DependsOn() []ResourceRef { return nil }

// CategoryToggle is one independently toggleable log or metric category.
type CategoryToggle struct {
	Category string `json:"category"`
	Enabled  bool   `json:"enabled"`
}

// DiagnosticsDeclaration routes the site's logs and metrics to the
// workspace. Its scope is always the site declaration of the same manifest.
type DiagnosticsDeclaration struct {
	Name          string           `json:"name"`
	SiteName      string           `json:"site_name"`
	WorkspaceName string           `json:"workspace_name"`
	Logs          []CategoryToggle `json:"logs"`
	Metrics       []CategoryToggle `json:"metrics"`
}

func (d DiagnosticsDeclaration) Ref() ResourceRef {
	return ResourceRef{Kind: KindDiagnostics, Name: d.Name}
}
func (d DiagnosticsDeclaration) DependsOn() []ResourceRef {
	return []ResourceRef{
		{Kind: KindSite, Name: d.SiteName},
		{Kind: KindWorkspace, Name: d.WorkspaceName},
	}
}

func defaultLogCategories() []CategoryToggle {
	return []CategoryToggle{
		{Category: "AppServiceHTTPLogs", Enabled: true},
		{Category: "AppServiceConsoleLogs", Enabled: true},
		{Category: "AppServicePlatformLogs", Enabled: true},
	}
}

func defaultMetricCategories() []CategoryToggle {
	return []CategoryToggle{
		{Category: "AllMetrics", Enabled: true},
	}
}

// AIAccountReference points at the pre-existing Azure OpenAI account in its
// own subscription scope. The applier resolves it read-only; it is never
// part of the execution order and never created or mutated.
type AIAccountReference struct {
	AccountName    string `json:"account_name"`
	ResourceGroup  string `json:"resource_group"`
	SubscriptionID string `json:"subscription_id"`
}
