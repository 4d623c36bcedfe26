package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/stackforge/engine/pkg/errors"
)

const testScopeID = "00000000-0000-0000-0000-000000000000"

func validParams() StackParams {
	return StackParams{
		Location:         "westeurope",
		EnvironmentName:  "dev",
		AIAccountName:    "shared-openai",
		AIResourceGroup:  "rg-shared-ai",
		AISubscriptionID: "11111111-1111-1111-1111-111111111111",
	}
}

func TestCompileDerivedNamesAreDeterministic(t *testing.T) {
	c := NewCompiler()

	first, err := c.Compile(validParams(), testScopeID)
	require.NoError(t, err)
	second, err := c.Compile(validParams(), testScopeID)
	require.NoError(t, err)

	require.Equal(t, first.Token, second.Token)
	require.Equal(t, first.Plan.Name, second.Plan.Name)
	require.Equal(t, first.Site.Name, second.Site.Name)
	require.Equal(t, first.Workspace.Name, second.Workspace.Name)

	// A different environment in the same scope yields a different token.
	other := validParams()
	other.EnvironmentName = "prod"
	third, err := c.Compile(other, testScopeID)
	require.NoError(t, err)
	require.NotEqual(t, first.Token, third.Token)
}

func TestCompileFixedTokenNaming(t *testing.T) {
	p := validParams()
	p.ResourceToken = "abc123"

	m, err := NewCompiler().Compile(p, testScopeID)
	require.NoError(t, err)

	require.Equal(t, "plan-abc123", m.Plan.Name)
	require.Equal(t, "app-abc123", m.Site.Name)
	require.Equal(t, "law-abc123", m.Workspace.Name)
}

func TestCompileRejectsUnknownPlanSKU(t *testing.T) {
	p := validParams()
	p.PlanSKU = "D1"

	m, err := NewCompiler().Compile(p, testScopeID)
	require.Error(t, err)
	require.Nil(t, m)
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestCompileRequiresAIAccountCoordinates(t *testing.T) {
	p := validParams()
	p.AISubscriptionID = ""

	m, err := NewCompiler().Compile(p, testScopeID)
	require.Error(t, err)
	require.Nil(t, m)
}

func TestCompileDefaults(t *testing.T) {
	m, err := NewCompiler().Compile(validParams(), testScopeID)
	require.NoError(t, err)

	require.Equal(t, "F1", m.Plan.SKUName)
	require.Equal(t, "Free", m.Plan.SKUTier)
	require.True(t, m.Plan.Reserved)
	require.Equal(t, "PerGB2018", m.Workspace.SKU)
	require.EqualValues(t, 30, m.Workspace.RetentionDays)
	require.True(t, m.Site.HTTPSOnly)
	require.True(t, m.Site.SystemIdentity)
}

func TestSiteTagUnion(t *testing.T) {
	p := validParams()
	p.Tags = map[string]string{"team": "platform"}

	m, err := NewCompiler().Compile(p, testScopeID)
	require.NoError(t, err)

	// The site carries every base tag plus the extra service tag.
	require.Equal(t, "platform", m.Site.Tags["team"])
	require.Equal(t, "dev", m.Site.Tags[envTagKey])
	require.Equal(t, serviceTagValue, m.Site.Tags[serviceTagKey])

	// Other resources carry the base set without the service tag.
	require.NotContains(t, m.Plan.Tags, serviceTagKey)
	require.NotContains(t, m.Workspace.Tags, serviceTagKey)

	// The caller's tag map is never mutated.
	require.Equal(t, map[string]string{"team": "platform"}, p.Tags)
}

func TestDiagnosticsScopeIsSite(t *testing.T) {
	m, err := NewCompiler().Compile(validParams(), testScopeID)
	require.NoError(t, err)

	require.Equal(t, m.Site.Name, m.Diagnostics.SiteName)
	require.Equal(t, m.Workspace.Name, m.Diagnostics.WorkspaceName)

	for _, l := range m.Diagnostics.Logs {
		require.True(t, l.Enabled)
	}
	require.Len(t, m.Diagnostics.Logs, 3)
	require.Len(t, m.Diagnostics.Metrics, 1)
	require.Equal(t, "AllMetrics", m.Diagnostics.Metrics[0].Category)
}

func TestAppSettingsWiredFromParams(t *testing.T) {
	p := validParams()
	p.ChatDeploymentName = "chat-prod"
	p.SearchServiceURL = "https://search.example.net"
	p.SearchIndexName = "docs"

	m, err := NewCompiler().Compile(p, testScopeID)
	require.NoError(t, err)

	settings := map[string]string{}
	for _, s := range m.Site.AppSettings {
		settings[s.Name] = s.Value
	}
	require.Equal(t, "chat-prod", settings["AZURE_OPENAI_MODEL"])
	require.Equal(t, "shared-openai", settings["AZURE_OPENAI_RESOURCE"])
	require.Equal(t, "https://search.example.net", settings["AZURE_SEARCH_SERVICE"])
	require.Equal(t, "docs", settings["AZURE_SEARCH_INDEX"])

	// The endpoint is resolved at deploy time from the external account and
	// must not appear in the compiled settings.
	require.NotContains(t, settings, "AZURE_OPENAI_ENDPOINT")
}

func TestExecutionOrder(t *testing.T) {
	m, err := NewCompiler().Compile(validParams(), testScopeID)
	require.NoError(t, err)

	order, err := m.ExecutionOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := map[ResourceKind]int{}
	for i, d := range order {
		pos[d.Ref().Kind] = i
	}
	require.Less(t, pos[KindPlan], pos[KindSite])
	require.Less(t, pos[KindSite], pos[KindDiagnostics])
	require.Less(t, pos[KindWorkspace], pos[KindDiagnostics])
}

func TestExecutionOrderRejectsUnknownDependency(t *testing.T) {
	m, err := NewCompiler().Compile(validParams(), testScopeID)
	require.NoError(t, err)

	m.Diagnostics.SiteName = "app-elsewhere"
	_, err = m.ExecutionOrder()
	require.Error(t, err)
}
