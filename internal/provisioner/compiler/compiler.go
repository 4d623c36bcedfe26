package compiler

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	appErr "github.com/stackforge/engine/pkg/errors"
	"github.com/stackforge/engine/pkg/utils"
)

// resourceTokenLength matches the length of the deterministic naming token
// appended to every owned resource name.
const resourceTokenLength = 13

// planSKUTiers enumerates the allowed App Service plan SKUs. Any value
// outside this set fails validation before a single declaration is produced.
var planSKUTiers = map[string]string{
	"F1":   "Free",
	"B1":   "Basic",
	"B2":   "Basic",
	"B3":   "Basic",
	"S1":   "Standard",
	"S2":   "Standard",
	"S3":   "Standard",
	"P1v3": "PremiumV3",
	"P2v3": "PremiumV3",
	"P3v3": "PremiumV3",
}

// PlanSKUs returns the allowed plan SKU names in sorted order.
func PlanSKUs() []string {
	out := make([]string, 0, len(planSKUTiers))
	for k := range planSKUTiers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// StackParams is the full input parameter set of one stack. Zero values are
// filled from defaults during Compile; the external AI account coordinates
// are deliberately required with no defaults so that one deployment's
// identity is never baked into the engine.
type StackParams struct {
	Location        string            `json:"location" validate:"required"`
	EnvironmentName string            `json:"environment_name" validate:"required"`
	ResourceToken   string            `json:"resource_token,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`

	PlanSKU        string `json:"plan_sku,omitempty"`
	PlanName       string `json:"plan_name,omitempty"`
	AppServiceName string `json:"app_service_name,omitempty"`

	WorkspaceName    string `json:"workspace_name,omitempty"`
	WorkspaceSKU     string `json:"workspace_sku,omitempty"`
	LogRetentionDays int32  `json:"log_retention_days,omitempty" validate:"gte=0,lte=730"`

	AIModelName             string `json:"ai_model_name,omitempty"`
	AIModelVersion          string `json:"ai_model_version,omitempty"`
	ChatDeploymentName      string `json:"chat_deployment_name,omitempty"`
	EmbeddingDeploymentName string `json:"embedding_deployment_name,omitempty"`
	SystemMessage           string `json:"system_message,omitempty"`

	SearchServiceURL string `json:"search_service_url,omitempty"`
	SearchIndexName  string `json:"search_index_name,omitempty"`

	// Coordinates of the pre-existing Azure OpenAI account. Resolved
	// read-only in its own subscription scope; never created or mutated.
	AIAccountName    string `json:"ai_account_name" validate:"required"`
	AIResourceGroup  string `json:"ai_resource_group" validate:"required"`
	AISubscriptionID string `json:"ai_subscription_id" validate:"required"`
}

const (
	defaultPlanSKU          = "F1"
	defaultWorkspaceSKU     = "PerGB2018"
	defaultLogRetentionDays = 30
	defaultModelName        = "gpt-35-turbo-16k"
	defaultModelVersion     = "0613"
	defaultChatDeployment   = "chat"
	defaultEmbedDeployment  = "embedding"
	defaultSystemMessage    = "You are an AI assistant that helps people find information."

	// envTagKey is applied to every owned resource; serviceTagKey is merged
	// into the hosted service's tags on top of the base set.
	envTagKey       = "stack-env-name"
	serviceTagKey   = "stack-service-name"
	serviceTagValue = "backend"

	runtimeStack = "PYTHON|3.11"
)

// Compiler expands stack parameters into desired-state resource
// declarations. Expansion is pure: no cloud API is touched and identical
// inputs always produce an identical manifest.
type Compiler struct {
	validate *validator.Validate
}

func NewCompiler() *Compiler {
	return &Compiler{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// withDefaults returns a copy of p with every omitted parameter replaced by
// its default. The receiver is never mutated. scopeID is the stable identity
// of the enclosing deployment scope (the subscription) and seeds the
// resource token derivation.
func (p StackParams) withDefaults(scopeID string) StackParams {
	out := p
	if out.ResourceToken == "" {
		out.ResourceToken = utils.ShortToken(scopeID+"/"+out.EnvironmentName, resourceTokenLength)
	}
	if out.Tags == nil {
		out.Tags = map[string]string{}
	}
	if _, ok := out.Tags[envTagKey]; !ok {
		tags := make(map[string]string, len(out.Tags)+1)
		for k, v := range out.Tags {
			tags[k] = v
		}
		tags[envTagKey] = out.EnvironmentName
		out.Tags = tags
	}
	if out.PlanSKU == "" {
		out.PlanSKU = defaultPlanSKU
	}
	if out.PlanName == "" {
		out.PlanName = "plan-" + out.ResourceToken
	}
	if out.AppServiceName == "" {
		out.AppServiceName = "app-" + out.ResourceToken
	}
	if out.WorkspaceName == "" {
		out.WorkspaceName = "law-" + out.ResourceToken
	}
	if out.WorkspaceSKU == "" {
		out.WorkspaceSKU = defaultWorkspaceSKU
	}
	if out.LogRetentionDays == 0 {
		out.LogRetentionDays = defaultLogRetentionDays
	}
	if out.AIModelName == "" {
		out.AIModelName = defaultModelName
	}
	if out.AIModelVersion == "" {
		out.AIModelVersion = defaultModelVersion
	}
	if out.ChatDeploymentName == "" {
		out.ChatDeploymentName = defaultChatDeployment
	}
	if out.EmbeddingDeploymentName == "" {
		out.EmbeddingDeploymentName = defaultEmbedDeployment
	}
	if out.SystemMessage == "" {
		out.SystemMessage = defaultSystemMessage
	}
	return out
}

// Compile validates params, applies defaults, and expands them into a
// manifest of resource declarations with dependency edges. A validation
// failure returns a nil manifest; nothing is partially expanded.
func (c *Compiler) Compile(params StackParams, scopeID string) (*Manifest, error) {
	if err := c.validate.Struct(params); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid stack parameters")
	}
	p := params.withDefaults(scopeID)
	if _, ok := planSKUTiers[p.PlanSKU]; !ok {
		return nil, appErr.New(appErr.CodeInvalid,
			fmt.Sprintf("plan sku %q is not allowed (allowed: %v)", p.PlanSKU, PlanSKUs()))
	}

	m := &Manifest{
		Token: p.ResourceToken,
		Plan: PlanDeclaration{
			Name:     p.PlanName,
			Location: p.Location,
			SKUName:  p.PlanSKU,
			SKUTier:  planSKUTiers[p.PlanSKU],
			Reserved: true,
			Tags:     cloneTags(p.Tags),
		},
		Site: SiteDeclaration{
			Name:           p.AppServiceName,
			Location:       p.Location,
			PlanName:       p.PlanName,
			HTTPSOnly:      true,
			SystemIdentity: true,
			RuntimeStack:   runtimeStack,
			AppSettings:    buildAppSettings(p),
			Tags:           mergeTags(p.Tags, serviceTagKey, serviceTagValue),
		},
		Workspace: WorkspaceDeclaration{
			Name:          p.WorkspaceName,
			Location:      p.Location,
			SKU:           p.WorkspaceSKU,
			RetentionDays: p.LogRetentionDays,
			Tags:          cloneTags(p.Tags),
		},
		Diagnostics: DiagnosticsDeclaration{
			Name:          "diag-" + p.ResourceToken,
			SiteName:      p.AppServiceName,
			WorkspaceName: p.WorkspaceName,
			Logs:          defaultLogCategories(),
			Metrics:       defaultMetricCategories(),
		},
		AIAccount: AIAccountReference{
			AccountName:    p.AIAccountName,
			ResourceGroup:  p.AIResourceGroup,
			SubscriptionID: p.AISubscriptionID,
		},
	}
	return m, nil
}

// buildAppSettings wires the hosted service's configuration to the stack
// parameters. The AI endpoint setting is intentionally absent here: its
// value only exists once the external account has been resolved, so the
// applier appends it at deploy time.
func buildAppSettings(p StackParams) []Setting {
	settings := []Setting{
		{Name: "AZURE_OPENAI_RESOURCE", Value: p.AIAccountName},
		{Name: "AZURE_OPENAI_MODEL", Value: p.ChatDeploymentName},
		{Name: "AZURE_OPENAI_MODEL_NAME", Value: p.AIModelName},
		{Name: "AZURE_OPENAI_EMBEDDING_NAME", Value: p.EmbeddingDeploymentName},
		{Name: "AZURE_OPENAI_SYSTEM_MESSAGE", Value: p.SystemMessage},
	}
	if p.SearchServiceURL != "" {
		settings = append(settings, Setting{Name: "AZURE_SEARCH_SERVICE", Value: p.SearchServiceURL})
	}
	if p.SearchIndexName != "" {
		settings = append(settings, Setting{Name: "AZURE_SEARCH_INDEX", Value: p.SearchIndexName})
	}
	settings = append(settings,
		Setting{Name: "DEBUG", Value: "false"},
		Setting{Name: "SCM_DO_BUILD_DURING_DEPLOYMENT", Value: "true"},
		Setting{Name: "UWSGI_PROCESSES", Value: "2"},
		Setting{Name: "UWSGI_THREADS", Value: "4"},
		Setting{Name: "WEBSITE_HTTPLOGGING_RETENTION_DAYS", Value: "1"},
	)
	return settings
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// mergeTags returns the union of base and one extra tag without mutating base.
func mergeTags(base map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
