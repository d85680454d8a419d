package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/devflow/pkg/executors/fake"
	"github.com/dukex/devflow/pkg/lease"
	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/orchestrator"
	"github.com/dukex/devflow/pkg/persistence/file"
	"github.com/dukex/devflow/pkg/protocol"
	"github.com/dukex/devflow/pkg/registry"
	"github.com/dukex/devflow/pkg/web"
)

type fakeFactory struct {
	executor *fake.Executor
}

func (fakeFactory) ID() string { return "fake" }

func (fakeFactory) Schema() map[string]any { return nil }

func (f fakeFactory) Create(_ map[string]any) (protocol.Executor, error) {
	return f.executor, nil
}

func setupTestApp(t *testing.T, executor *fake.Executor) (*fiber.App, *orchestrator.Engine) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterExecutor(fakeFactory{executor: executor})

	engine := orchestrator.NewEngine(slog.Default(), store, reg, lease.NewMemoryStore(), nil, "engine-test")
	engine.RetryDelay = time.Millisecond

	t.Cleanup(engine.Stop)

	handlers := web.NewAPIHandlers(engine, store, validator.New(validator.WithRequiredStructEnabled()), "fake")
	app := fiber.New()
	web.RegisterRoutes(app, handlers)

	return app, engine
}

func gatedPipeline() *models.PipelineConfig {
	return &models.PipelineConfig{
		Phases:       []models.Phase{models.PhasePlan, models.PhaseImplement},
		Gates:        []models.GateConfig{{Phase: models.PhasePlan}},
		MaxAttempts:  3,
		ExecutorType: "fake",
	}
}

func postJSON(t *testing.T, app *fiber.App, url string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func awaitStatus(t *testing.T, engine *orchestrator.Engine, runID string, want models.RunStatus) {
	t.Helper()

	require.Eventually(t, func() bool {
		view, err := engine.GetRunStatus(context.Background(), runID)

		return err == nil && view.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCreateRun(t *testing.T) {
	t.Parallel()

	executor := fake.New(fake.Step{Result: &protocol.TerminalResult{Status: protocol.ResultSuccess}})
	app, engine := setupTestApp(t, executor)

	resp := postJSON(t, app, "/runs", web.CreateRunRequest{
		Slug:            "add-auth",
		WorkDescription: "add authentication to the service",
		Pipeline: &models.PipelineConfig{
			Phases:       []models.Phase{models.PhaseImplement},
			MaxAttempts:  3,
			ExecutorType: "fake",
		},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var run models.Run

	require.NoError(t, json.Unmarshal(body, &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "add-auth", run.Slug)

	awaitStatus(t, engine, run.ID, models.RunStatusCompleted)
}

func TestCreateRun_ValidationErrors(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t, fake.New())

	tests := []struct {
		name    string
		request web.CreateRunRequest
	}{
		{
			name:    "missing slug",
			request: web.CreateRunRequest{WorkDescription: "work"},
		},
		{
			name:    "slug too short",
			request: web.CreateRunRequest{Slug: "ab", WorkDescription: "work"},
		},
		{
			name:    "missing work description",
			request: web.CreateRunRequest{Slug: "add-auth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := postJSON(t, app, "/runs", tt.request)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t, fake.New())

	req := httptest.NewRequest(http.MethodGet, "/runs/missing", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	t.Parallel()

	executor := fake.New(
		fake.Step{Result: &protocol.TerminalResult{Status: protocol.ResultSuccess}},
		fake.Step{Result: &protocol.TerminalResult{Status: protocol.ResultSuccess}},
	)
	app, engine := setupTestApp(t, executor)

	resp := postJSON(t, app, "/runs", web.CreateRunRequest{
		Slug:            "add-auth",
		WorkDescription: "add authentication",
		Pipeline:        gatedPipeline(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var run models.Run

	require.NoError(t, json.Unmarshal(body, &run))

	awaitStatus(t, engine, run.ID, models.RunStatusAwaitingApproval)

	resp = postJSON(t, app, "/runs/"+run.ID+"/approval", web.ResolveApprovalRequest{
		Phase:    string(models.PhasePlan),
		Decision: "approved",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	awaitStatus(t, engine, run.ID, models.RunStatusCompleted)
}

func TestResolveApproval_NoPendingGate(t *testing.T) {
	t.Parallel()

	executor := fake.New(fake.Step{Result: &protocol.TerminalResult{Status: protocol.ResultSuccess}})
	app, engine := setupTestApp(t, executor)

	resp := postJSON(t, app, "/runs", web.CreateRunRequest{
		Slug:            "add-auth",
		WorkDescription: "work to do",
		Pipeline: &models.PipelineConfig{
			Phases:       []models.Phase{models.PhaseImplement},
			MaxAttempts:  3,
			ExecutorType: "fake",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var run models.Run

	require.NoError(t, json.Unmarshal(body, &run))

	awaitStatus(t, engine, run.ID, models.RunStatusCompleted)

	resp = postJSON(t, app, "/runs/"+run.ID+"/approval", web.ResolveApprovalRequest{
		Phase:    string(models.PhaseImplement),
		Decision: "approved",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelRunOverHTTP(t *testing.T) {
	t.Parallel()

	executor := fake.New(fake.Step{Block: true})
	app, engine := setupTestApp(t, executor)

	resp := postJSON(t, app, "/runs", web.CreateRunRequest{
		Slug:            "add-auth",
		WorkDescription: "long running work",
		Pipeline: &models.PipelineConfig{
			Phases:       []models.Phase{models.PhaseImplement},
			MaxAttempts:  3,
			ExecutorType: "fake",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var run models.Run

	require.NoError(t, json.Unmarshal(body, &run))

	require.Eventually(t, func() bool {
		return executor.StartCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	resp = postJSON(t, app, "/runs/"+run.ID+"/cancel", web.CancelRunRequest{Reason: "not needed"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	awaitStatus(t, engine, run.ID, models.RunStatusFailed)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t, fake.New())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	executor := fake.New(fake.Step{Result: &protocol.TerminalResult{Status: protocol.ResultSuccess}})
	app, engine := setupTestApp(t, executor)

	resp := postJSON(t, app, "/runs", web.CreateRunRequest{
		Slug:            "add-auth",
		WorkDescription: "some work",
		Pipeline: &models.PipelineConfig{
			Phases:       []models.Phase{models.PhaseImplement},
			MaxAttempts:  3,
			ExecutorType: "fake",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var run models.Run

	require.NoError(t, json.Unmarshal(body, &run))
	awaitStatus(t, engine, run.ID, models.RunStatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/runs/", nil)
	listResp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	listBody, err := io.ReadAll(listResp.Body)
	require.NoError(t, err)

	var listing struct {
		Runs       []models.Run `json:"runs"`
		TotalCount int          `json:"total_count"`
	}

	require.NoError(t, json.Unmarshal(listBody, &listing))
	assert.Equal(t, 1, listing.TotalCount)
}
