package azure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackforge/engine/internal/provisioner"
	"github.com/stackforge/engine/internal/provisioner/compiler"
	appErr "github.com/stackforge/engine/pkg/errors"
	"github.com/stackforge/engine/pkg/logger"
)

// endpointSettingName is appended to the compiled app settings once the
// external AI account has been resolved.
const endpointSettingName = "AZURE_OPENAI_ENDPOINT"

// Provisioner implements provisioner.Provisioner against Azure Resource
// Manager. All resource calls go through the narrow API surface so the
// apply logic is testable without Azure.
type Provisioner struct {
	subscriptionID string
	api            API
	compiler       *compiler.Compiler
	stateStore     provisioner.StateStore
}

func NewProvisioner(subscriptionID string, api API, stateStore provisioner.StateStore) *Provisioner {
	return &Provisioner{
		subscriptionID: subscriptionID,
		api:            api,
		compiler:       compiler.NewCompiler(),
		stateStore:     stateStore,
	}
}

var _ provisioner.Provisioner = (*Provisioner)(nil)

// stackState is the JSON snapshot persisted after Apply and consumed by
// Destroy.
type stackState struct {
	Token         string                 `json:"token"`
	ResourceGroup string                 `json:"resource_group"`
	Resources     []provisioner.Resource `json:"resources"`
}

func (p *Provisioner) Plan(ctx context.Context, config *provisioner.StackConfig) (*provisioner.Plan, error) {
	m, err := p.compiler.Compile(config.Params, p.subscriptionID)
	if err != nil {
		return nil, err
	}

	// Existence check only; a missing external account fails the plan the
	// same way it would fail the apply.
	if _, err := p.api.ResolveAIAccount(ctx, m.AIAccount); err != nil {
		return nil, err
	}

	order, err := m.ExecutionOrder()
	if err != nil {
		return nil, err
	}
	actions := make([]provisioner.PlannedAction, 0, len(order))
	for _, d := range order {
		actions = append(actions, provisioner.PlannedAction{
			Kind:      string(d.Ref().Kind),
			Name:      d.Ref().Name,
			Operation: "upsert",
		})
	}
	return &provisioner.Plan{Token: m.Token, Actions: actions}, nil
}

func (p *Provisioner) Apply(ctx context.Context, config *provisioner.StackConfig) (*provisioner.Result, error) {
	m, err := p.compiler.Compile(config.Params, p.subscriptionID)
	if err != nil {
		return nil, err
	}
	order, err := m.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	// Resolve the external account before anything is created; an
	// unresolvable reference fails the whole deployment with no resources
	// touched.
	account, err := p.api.ResolveAIAccount(ctx, m.AIAccount)
	if err != nil {
		return &provisioner.Result{Success: false, ErrorMessage: err.Error()},
			fmt.Errorf("resolve ai account: %w", err)
	}

	logger.L().Info("applying stack",
		zap.String("deployment_id", config.DeploymentID.String()),
		zap.String("resource_group", config.ResourceGroup),
		zap.String("token", m.Token),
	)

	if err := p.api.EnsureResourceGroup(ctx, config.ResourceGroup, config.Params.Location, m.Plan.Tags); err != nil {
		return &provisioner.Result{Success: false, ErrorMessage: err.Error()}, err
	}

	state := stackState{Token: m.Token, ResourceGroup: config.ResourceGroup}
	outputs := map[string]interface{}{
		"resource_token": m.Token,
		"ai_endpoint":    account.Endpoint,
	}

	var planID, siteID, workspaceID string
	for _, decl := range order {
		switch d := decl.(type) {
		case compiler.PlanDeclaration:
			info, err := p.api.UpsertPlan(ctx, config.ResourceGroup, d)
			if err != nil {
				return p.failed(ctx, config.DeploymentID, state, err)
			}
			planID = info.ID
			state.Resources = append(state.Resources, provisioner.Resource{
				Kind: string(compiler.KindPlan), Name: d.Name, AzureID: info.ID,
			})

		case compiler.WorkspaceDeclaration:
			info, err := p.api.UpsertWorkspace(ctx, config.ResourceGroup, d)
			if err != nil {
				return p.failed(ctx, config.DeploymentID, state, err)
			}
			workspaceID = info.ID
			outputs["workspace_id"] = info.ID
			state.Resources = append(state.Resources, provisioner.Resource{
				Kind: string(compiler.KindWorkspace), Name: d.Name, AzureID: info.ID,
			})

		case compiler.SiteDeclaration:
			settings := append(append([]compiler.Setting{}, d.AppSettings...),
				compiler.Setting{Name: endpointSettingName, Value: account.Endpoint})
			info, err := p.api.UpsertSite(ctx, config.ResourceGroup, d, planID, settings)
			if err != nil {
				return p.failed(ctx, config.DeploymentID, state, err)
			}
			siteID = info.ID
			outputs["site_hostname"] = info.DefaultHostName
			outputs["site_principal_id"] = info.PrincipalID
			state.Resources = append(state.Resources, provisioner.Resource{
				Kind: string(compiler.KindSite), Name: d.Name, AzureID: info.ID,
				Properties: map[string]interface{}{"hostname": info.DefaultHostName},
			})

		case compiler.DiagnosticsDeclaration:
			info, err := p.api.UpsertDiagnostics(ctx, siteID, d, workspaceID)
			if err != nil {
				return p.failed(ctx, config.DeploymentID, state, err)
			}
			state.Resources = append(state.Resources, provisioner.Resource{
				Kind: string(compiler.KindDiagnostics), Name: d.Name, AzureID: info.ID,
			})

		default:
			return nil, appErr.New(appErr.CodeInternal,
				fmt.Sprintf("unhandled declaration kind %s", decl.Ref().Kind))
		}
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal state failed")
	}
	if p.stateStore != nil {
		if err := p.stateStore.SaveState(ctx, config.DeploymentID, stateBytes); err != nil {
			logger.L().Error("save stack state failed",
				zap.String("deployment_id", config.DeploymentID.String()), zap.Error(err))
		}
	}

	return &provisioner.Result{
		Success:   true,
		Outputs:   outputs,
		State:     stateBytes,
		Resources: state.Resources,
	}, nil
}

// failed persists whatever was created so far; already-created resources
// are left intact and a later destroy or re-run can find them. The result
// carries the partial state and resources so the caller can persist them
// through its own channels as well.
func (p *Provisioner) failed(ctx context.Context, deploymentID uuid.UUID, state stackState, cause error) (*provisioner.Result, error) {
	stateBytes, merr := json.Marshal(state)
	if merr != nil {
		logger.L().Error("marshal partial stack state failed",
			zap.String("deployment_id", deploymentID.String()), zap.Error(merr))
		return &provisioner.Result{Success: false, ErrorMessage: cause.Error()}, cause
	}
	if p.stateStore != nil {
		if err := p.stateStore.SaveState(ctx, deploymentID, stateBytes); err != nil {
			logger.L().Error("save partial stack state failed",
				zap.String("deployment_id", deploymentID.String()), zap.Error(err))
		}
	}
	return &provisioner.Result{
		Success:      false,
		ErrorMessage: cause.Error(),
		State:        stateBytes,
		Resources:    state.Resources,
	}, cause
}

func (p *Provisioner) Destroy(ctx context.Context, deploymentID uuid.UUID, state []byte) (*provisioner.Result, error) {
	if len(state) == 0 && p.stateStore != nil {
		if s, err := p.stateStore.GetState(ctx, deploymentID); err == nil {
			state = s
		}
	}
	if len(state) == 0 {
		return nil, provisioner.ErrInvalidState
	}

	var st stackState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, provisioner.ErrInvalidState
	}

	// Reverse dependency order: the binding and the site go before the
	// plan and the workspace. The external AI account is never deleted.
	var siteID, siteName string
	for _, r := range st.Resources {
		if r.Kind == string(compiler.KindSite) {
			siteID, siteName = r.AzureID, r.Name
		}
	}
	for _, r := range st.Resources {
		if r.Kind == string(compiler.KindDiagnostics) {
			if err := p.api.DeleteDiagnostics(ctx, siteID, r.Name); err != nil {
				return &provisioner.Result{Success: false, ErrorMessage: err.Error()}, err
			}
		}
	}
	if siteName != "" {
		if err := p.api.DeleteSite(ctx, st.ResourceGroup, siteName); err != nil {
			return &provisioner.Result{Success: false, ErrorMessage: err.Error()}, err
		}
	}
	for _, r := range st.Resources {
		switch r.Kind {
		case string(compiler.KindWorkspace):
			if err := p.api.DeleteWorkspace(ctx, st.ResourceGroup, r.Name); err != nil {
				return &provisioner.Result{Success: false, ErrorMessage: err.Error()}, err
			}
		case string(compiler.KindPlan):
			if err := p.api.DeletePlan(ctx, st.ResourceGroup, r.Name); err != nil {
				return &provisioner.Result{Success: false, ErrorMessage: err.Error()}, err
			}
		}
	}

	if p.stateStore != nil {
		_ = p.stateStore.SaveState(ctx, deploymentID, nil)
	}
	return &provisioner.Result{Success: true}, nil
}

func (p *Provisioner) GetState(ctx context.Context, deploymentID uuid.UUID) ([]byte, error) {
	if p.stateStore == nil {
		return nil, nil
	}
	return p.stateStore.GetState(ctx, deploymentID)
}
