package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klarnow/tracker/common/dto"
	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/pkg/config"
	"github.com/klarnow/tracker/pkg/middleware"
	"github.com/klarnow/tracker/pkg/storage"
	"github.com/klarnow/tracker/projects/models"
)

const testSecret = "handler-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.APIError   `json:"error"`
	Meta    *dto.APIMeta    `json:"meta"`
}

type testEnv struct {
	server   *Server
	store    *SQLiteStore
	notifier *MemoryNotifier
	objects  *storage.MemoryStore
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string) (bool, error) { return f.allow, nil }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Environment: "development", AllowedOrigins: "https://app.klarnow.com"},
		Auth: config.AuthConfig{
			JWTSecret:        testSecret,
			JWTExpiryMinutes: 60,
			AdminEmails:      "ops@klarnow.com",
		},
		Upload: config.UploadConfig{MaxBytes: 1024},
	}
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	store := newTestStore(t)
	env := &testEnv{
		store:    store,
		notifier: NewMemoryNotifier(),
		objects:  storage.NewMemoryStore("https://files.klarnow.test"),
	}
	deps := Deps{Store: store, Notifier: env.notifier, Objects: env.objects}
	if mutate != nil {
		mutate(&deps)
	}
	env.server = NewServerWithDeps(testConfig(), deps)
	return env
}

func token(t *testing.T, userID uuid.UUID, email string, role commonModels.Role) string {
	t.Helper()
	tok, _, err := middleware.GenerateAccessToken(userID, email, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(t, req, tok)
}

func (e *testEnv) send(t *testing.T, req *http.Request, tok string) (int, envelope) {
	t.Helper()
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

// client is a signed-in client with a finished LAUNCH onboarding
type client struct {
	id    uuid.UUID
	email string
	token string
	proj  *models.Project
}

func (e *testEnv) onboardedClient(t *testing.T) client {
	t.Helper()
	c := client{id: uuid.New(), email: fmt.Sprintf("%s@example.com", uuid.NewString()[:8])}
	c.token = token(t, c.id, c.email, commonModels.RoleClient)

	for n := 1; n <= 3; n++ {
		status, resp := e.do(t, "PUT", fmt.Sprintf("/api/v1/onboarding/steps/%d", n), c.token, map[string]interface{}{
			"kit_type":                  "LAUNCH",
			"fields":                    map[string]interface{}{"name_and_role": "Ada Lovelace, founder"},
			"required_fields_completed": 2,
			"required_fields_total":     2,
		})
		require.Equal(t, 200, status, resp.Error)
	}
	status, resp := e.do(t, "POST", "/api/v1/onboarding/complete", c.token, map[string]string{"kit_type": "LAUNCH"})
	require.Equal(t, 200, status, resp.Error)
	c.proj = decode[*models.Project](t, resp.Data)
	return c
}

func adminToken(t *testing.T) string {
	return token(t, uuid.New(), "ops@klarnow.com", commonModels.RoleAdmin)
}

func TestHandlers_RequireAuthentication(t *testing.T) {
	env := newTestEnv(t, nil)

	status, _ := env.do(t, "GET", "/api/v1/my-project", "", nil)
	assert.Equal(t, 401, status)

	status, _ = env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, 200, status)
}

func TestMyProject_WithoutProjectReturnsTemplate(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := token(t, uuid.New(), "new@example.com", commonModels.RoleClient)

	status, resp := env.do(t, "GET", "/api/v1/my-project?kit_type=growth", tok, nil)
	require.Equal(t, 200, status)
	view := decode[ProjectView](t, resp.Data)
	assert.Nil(t, view.Project)
	assert.Equal(t, commonModels.KitGrowth, view.KitType)
	require.Len(t, view.Phases, 4)
	require.NotNil(t, view.CurrentPhaseID)
	assert.Equal(t, "PHASE_1", *view.CurrentPhaseID)

	status, _ = env.do(t, "GET", "/api/v1/my-project?kit_type=premium", tok, nil)
	assert.Equal(t, 400, status)
}

func TestOnboarding_StepLockingAndCompletion(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uuid.New()
	tok := token(t, id, "Lin@Example.com", commonModels.RoleClient)

	save := func(n, completed, total int) (int, envelope) {
		return env.do(t, "PUT", fmt.Sprintf("/api/v1/onboarding/steps/%d", n), tok, map[string]interface{}{
			"kit_type":                  "LAUNCH",
			"fields":                    map[string]interface{}{"brand": "Lin Studio"},
			"required_fields_completed": completed,
			"required_fields_total":     total,
		})
	}

	status, resp := save(2, 1, 1)
	assert.Equal(t, 409, status, "step 2 is locked until step 1 is done")
	assert.Equal(t, "CONFLICT", resp.Error.Code)

	status, _ = save(4, 1, 1)
	assert.Equal(t, 400, status)

	status, resp = save(1, 1, 3)
	require.Equal(t, 200, status)
	step := decode[models.OnboardingStep](t, resp.Data)
	assert.Equal(t, commonModels.StepInProgress, step.Status)
	assert.Equal(t, "Tell us who you are", step.Title)

	status, _ = save(2, 1, 1)
	assert.Equal(t, 409, status)

	status, _ = env.do(t, "POST", "/api/v1/onboarding/complete", tok, nil)
	assert.Equal(t, 409, status)

	for n := 1; n <= 3; n++ {
		status, resp = save(n, 3, 3)
		require.Equal(t, 200, status, resp.Error)
	}

	status, resp = env.do(t, "GET", "/api/v1/onboarding/steps?kit_type=LAUNCH", tok, nil)
	require.Equal(t, 200, status)
	assert.Len(t, decode[[]models.OnboardingStep](t, resp.Data), 3)

	status, resp = env.do(t, "POST", "/api/v1/onboarding/complete", tok, nil)
	require.Equal(t, 200, status, resp.Error)
	project := decode[models.Project](t, resp.Data)
	assert.True(t, project.OnboardingFinished)
	assert.Equal(t, 100, project.OnboardingPercent)
	assert.Equal(t, "lin", project.DisplayName(), "falls back to the e-mail local part")

	status, resp = env.do(t, "GET", "/api/v1/my-project", tok, nil)
	require.Equal(t, 200, status)
	view := decode[ProjectView](t, resp.Data)
	require.NotNil(t, view.Project)
	for _, p := range view.Phases {
		assert.Equal(t, commonModels.PhaseNotStarted, p.Status)
	}
}

func TestToggleChecklist(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.onboardedClient(t)
	assert.Equal(t, "Ada Lovelace, founder", *c.proj.Name)

	status, resp := env.do(t, "PATCH", "/api/v1/my-project/phases", c.token, map[string]interface{}{
		"phase_id":        "PHASE_2",
		"checklist_label": "Draft homepage copy ready",
		"is_done":         true,
	})
	require.Equal(t, 200, status, resp.Error)
	view := decode[ProjectView](t, resp.Data)
	phase2 := view.Phases[1]
	assert.Equal(t, commonModels.PhaseInProgress, phase2.Status)
	assert.NotNil(t, phase2.StartedAt)
	assert.True(t, phase2.Checklist[0].IsDone)
	assert.Equal(t, "PHASE_2", *view.CurrentPhaseID)

	cases := []struct {
		name   string
		body   map[string]interface{}
		status int
	}{
		{"unknown phase", map[string]interface{}{"phase_id": "PHASE_9", "checklist_label": "x", "is_done": true}, 400},
		{"label of another phase", map[string]interface{}{"phase_id": "PHASE_1", "checklist_label": "Forms tested", "is_done": true}, 400},
		{"missing is_done", map[string]interface{}{"phase_id": "PHASE_1", "checklist_label": "Forms tested"}, 400},
		{"missing label", map[string]interface{}{"phase_id": "PHASE_1", "is_done": false}, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := env.do(t, "PATCH", "/api/v1/my-project/phases", c.token, tc.body)
			assert.Equal(t, tc.status, status)
		})
	}

	stranger := token(t, uuid.New(), "nobody@example.com", commonModels.RoleClient)
	status, _ = env.do(t, "PATCH", "/api/v1/my-project/phases", stranger, map[string]interface{}{
		"phase_id": "PHASE_1", "checklist_label": "Forms tested", "is_done": true,
	})
	assert.Equal(t, 404, status)
}

func TestToggleChecklist_PublishesChange(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.onboardedClient(t)

	signals, cancel, err := env.notifier.Subscribe(context.Background(), c.proj.ID)
	require.NoError(t, err)
	defer cancel()

	status, _ := env.do(t, "PATCH", "/api/v1/my-project/phases", c.token, map[string]interface{}{
		"phase_id": "PHASE_1", "checklist_label": "Onboarding steps completed", "is_done": true,
	})
	require.Equal(t, 200, status)

	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
}

func TestProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.onboardedClient(t)
	admin := adminToken(t)

	status, _ := env.do(t, "PATCH", "/api/v1/my-project/phases", c.token, map[string]interface{}{
		"phase_id": "PHASE_1", "checklist_label": "Onboarding steps completed", "is_done": true,
	})
	require.Equal(t, 200, status)
	status, _ = env.do(t, "PATCH", fmt.Sprintf("/api/v1/admin/projects/%s", c.proj.ID), admin, map[string]interface{}{
		"current_day_of_14": 7,
		"next_from_you":     "Send your logo",
	})
	require.Equal(t, 200, status)

	status, resp := env.do(t, "GET", "/api/v1/my-project/progress", c.token, nil)
	require.Equal(t, 200, status)
	report := decode[ProgressReport](t, resp.Data)
	assert.Equal(t, c.proj.ID, report.ProjectID)
	assert.Equal(t, 4, report.OverallProgress.TotalPhases)
	assert.Equal(t, 1, report.OverallProgress.InProgressPhases)
	assert.Equal(t, 15, report.ChecklistProgress.TotalItems)
	assert.Equal(t, 1, report.ChecklistProgress.CompletedItems)
	assert.Equal(t, 6.7, report.ChecklistProgress.CompletionPercent)
	require.NotNil(t, report.CurrentPhase)
	assert.Equal(t, "PHASE_1", report.CurrentPhase.PhaseID)
	assert.Equal(t, 33.3, report.CurrentPhase.ChecklistCompletion.Percent)
	assert.Equal(t, 7, report.Timeline.DaysRemaining)
	assert.Equal(t, 50.0, report.Timeline.PercentComplete)
	require.NotNil(t, report.NextActions.FromYou)
	assert.Equal(t, "Send your logo", *report.NextActions.FromYou)
	assert.Nil(t, report.NextActions.FromUs)
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.onboardedClient(t)

	status, resp := env.do(t, "GET", "/api/v1/admin/clients", c.token, nil)
	assert.Equal(t, 403, status)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestAdmin_ListClients(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := adminToken(t)
	c := env.onboardedClient(t)
	env.onboardedClient(t)

	status, _ := env.do(t, "PATCH", fmt.Sprintf("/api/v1/admin/projects/%s/phases/PHASE_1", c.proj.ID), admin,
		map[string]interface{}{"status": "DONE"})
	require.Equal(t, 200, status)

	status, resp := env.do(t, "GET", "/api/v1/admin/clients?kit_type=LAUNCH&onboarding_finished=true&page_size=10", admin, nil)
	require.Equal(t, 200, status)
	rows := decode[[]models.ClientSummary](t, resp.Data)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), resp.Meta.TotalCount)

	var found bool
	for _, row := range rows {
		if row.ID == c.proj.ID {
			found = true
			assert.Equal(t, 25, row.OverallProgress)
			require.NotNil(t, row.CurrentPhaseID)
			assert.Equal(t, "PHASE_1", *row.CurrentPhaseID)
		}
	}
	assert.True(t, found)

	status, _ = env.do(t, "GET", "/api/v1/admin/clients?onboarding_finished=maybe", admin, nil)
	assert.Equal(t, 400, status)

	status, resp = env.do(t, "GET", "/api/v1/admin/clients?kit_type=GROWTH", admin, nil)
	require.Equal(t, 200, status)
	assert.Empty(t, decode[[]models.ClientSummary](t, resp.Data))
}

func TestAdmin_UpdateProject(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := adminToken(t)
	c := env.onboardedClient(t)
	path := fmt.Sprintf("/api/v1/admin/projects/%s", c.proj.ID)

	status, resp := env.do(t, "PATCH", path, admin, map[string]interface{}{"current_day_of_14": 15})
	assert.Equal(t, 400, status)
	assert.Contains(t, resp.Error.Details, "current_day_of_14")

	status, resp = env.do(t, "PATCH", path, admin, map[string]interface{}{"current_day_of_14": 3, "next_from_us": "Homepage draft"})
	require.Equal(t, 200, status)
	p := decode[models.Project](t, resp.Data)
	assert.Equal(t, 3, *p.CurrentDayOf14)
	assert.Equal(t, "Homepage draft", *p.NextFromUs)

	status, resp = env.do(t, "PATCH", path, admin, map[string]interface{}{"next_from_us": nil})
	require.Equal(t, 200, status)
	p = decode[models.Project](t, resp.Data)
	assert.Nil(t, p.NextFromUs)
	assert.Equal(t, 3, *p.CurrentDayOf14, "absent fields are unchanged")

	status, _ = env.do(t, "PATCH", "/api/v1/admin/projects/not-a-uuid", admin, map[string]interface{}{})
	assert.Equal(t, 400, status)

	status, _ = env.do(t, "GET", fmt.Sprintf("/api/v1/admin/projects/%s", uuid.New()), admin, nil)
	assert.Equal(t, 404, status)
}

func TestAdmin_UpdatePhaseStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := adminToken(t)
	c := env.onboardedClient(t)
	base := fmt.Sprintf("/api/v1/admin/projects/%s/phases", c.proj.ID)

	status, resp := env.do(t, "PATCH", base+"/PHASE_2", admin, map[string]interface{}{"status": "WAITING_ON_CLIENT"})
	require.Equal(t, 200, status)
	view := decode[ProjectView](t, resp.Data)
	assert.Equal(t, commonModels.PhaseWaitingOnClient, view.Phases[1].Status)
	assert.Equal(t, "PHASE_2", *view.CurrentPhaseID)

	completed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	status, resp = env.do(t, "PATCH", base+"/PHASE_2", admin, map[string]interface{}{
		"status": "DONE", "completed_at": completed.Format(time.RFC3339),
	})
	require.Equal(t, 200, status)
	view = decode[ProjectView](t, resp.Data)
	assert.Equal(t, commonModels.PhaseDone, view.Phases[1].Status)
	assert.True(t, completed.Equal(*view.Phases[1].CompletedAt))

	status, _ = env.do(t, "PATCH", base+"/PHASE_2", admin, map[string]interface{}{"status": "PAUSED"})
	assert.Equal(t, 400, status)
	status, _ = env.do(t, "PATCH", base+"/PHASE_7", admin, map[string]interface{}{"status": "DONE"})
	assert.Equal(t, 400, status)
	status, _ = env.do(t, "PATCH", base+"/PHASE_2", admin, map[string]interface{}{"started_at": "yesterday"})
	assert.Equal(t, 400, status)
}

func TestAdmin_ToggleChecklist(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := adminToken(t)
	c := env.onboardedClient(t)
	path := fmt.Sprintf("/api/v1/admin/projects/%s/phases/PHASE_3/checklist", c.proj.ID)

	status, resp := env.do(t, "PATCH", path, admin, map[string]interface{}{"checklist_label": "Mobile checks done", "is_done": true})
	require.Equal(t, 200, status)
	view := decode[ProjectView](t, resp.Data)
	assert.Equal(t, commonModels.PhaseInProgress, view.Phases[2].Status)
	assert.True(t, view.Phases[2].Checklist[1].IsDone)

	status, _ = env.do(t, "PATCH", path, admin, map[string]interface{}{"checklist_label": "Draft homepage copy ready", "is_done": true})
	assert.Equal(t, 400, status)
}

func multipartUpload(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := token(t, uuid.New(), "up@example.com", commonModels.RoleClient)

	status, resp := env.send(t, multipartUpload(t, "/api/v1/uploads", "My Logo.png", []byte("png-bytes")), tok)
	require.Equal(t, 201, status, resp.Error)
	obj := decode[storage.Object](t, resp.Data)
	assert.True(t, strings.HasPrefix(obj.Key, "task-attachments/"), obj.Key)
	assert.True(t, strings.HasSuffix(obj.Key, "-My-Logo.png"), obj.Key)
	assert.Equal(t, int64(9), obj.Bytes)
	stored, ok := env.objects.Get(obj.Key)
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(stored))

	status, resp = env.send(t, multipartUpload(t, "/api/v1/uploads?folder=../brand//logos", "a.svg", []byte("<svg/>")), tok)
	require.Equal(t, 201, status)
	assert.True(t, strings.HasPrefix(decode[storage.Object](t, resp.Data).Key, "brand/logos/"))

	status, resp = env.send(t, multipartUpload(t, "/api/v1/uploads", "big.bin", bytes.Repeat([]byte("x"), 2048)), tok)
	assert.Equal(t, 400, status)
	assert.Equal(t, "BAD_REQUEST", resp.Error.Code)

	status, _ = env.do(t, "POST", "/api/v1/uploads", tok, map[string]string{})
	assert.Equal(t, 400, status)
}

func TestUpload_RateLimitedAndUnconfigured(t *testing.T) {
	tok := token(t, uuid.New(), "up@example.com", commonModels.RoleClient)

	limited := newTestEnv(t, func(d *Deps) { d.Limiter = fakeLimiter{allow: false} })
	status, _ := limited.send(t, multipartUpload(t, "/api/v1/uploads", "a.txt", []byte("a")), tok)
	assert.Equal(t, 429, status)

	unconfigured := newTestEnv(t, func(d *Deps) { d.Objects = nil })
	status, _ = unconfigured.send(t, multipartUpload(t, "/api/v1/uploads", "a.txt", []byte("a")), tok)
	assert.Equal(t, 503, status)
}

func TestDevLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	status, resp := env.do(t, "POST", "/api/v1/auth/dev-login", "", map[string]string{"email": "OPS@klarnow.com"})
	require.Equal(t, 200, status)
	auth := decode[AuthResponse](t, resp.Data)
	assert.Equal(t, commonModels.RoleAdmin, auth.Role)
	assert.Equal(t, DevUserID("ops@klarnow.com"), auth.UserID)

	status, _ = env.do(t, "GET", "/api/v1/admin/clients", auth.AccessToken, nil)
	assert.Equal(t, 200, status)

	status, resp = env.do(t, "POST", "/api/v1/auth/dev-login", "", map[string]string{"email": "client@example.com"})
	require.Equal(t, 200, status)
	assert.Equal(t, commonModels.RoleClient, decode[AuthResponse](t, resp.Data).Role)

	status, _ = env.do(t, "POST", "/api/v1/auth/dev-login", "", map[string]string{"email": "nope"})
	assert.Equal(t, 400, status)
}

func TestDevLogin_NotRegisteredInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Environment = "production"
	server := NewServerWithDeps(cfg, Deps{Store: newTestStore(t)})

	req := httptest.NewRequest("POST", "/api/v1/auth/dev-login", strings.NewReader(`{"email":"a@b.co"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.onboardedClient(t)
	status, _ := env.do(t, "PATCH", "/api/v1/my-project/phases", c.token, map[string]interface{}{
		"phase_id": "PHASE_1", "checklist_label": "Onboarding steps completed", "is_done": true,
	})
	require.Equal(t, 200, status)

	resp, err := env.server.App().Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `klarnow_checklist_toggles_total{is_done="true",kit_type="LAUNCH"} 1`)
	assert.Contains(t, string(body), `klarnow_onboarding_completed_total{kit_type="LAUNCH"} 1`)
}
