package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/david/recovery-match/internal/auth"
	"github.com/david/recovery-match/internal/matching"
	"github.com/david/recovery-match/internal/metrics"
	"github.com/david/recovery-match/internal/models"
	"github.com/david/recovery-match/internal/notify"
	"github.com/david/recovery-match/internal/testkit/memstore"
	"github.com/david/recovery-match/internal/workflow"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminSecret = "admin-secret"

var testJWTSecret = []byte("jwt-secret-for-tests")

type harness struct {
	srv          *Server
	store        *memstore.Store
	opp          models.Opportunity
	survivor     models.User
	practitioner models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	store := memstore.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	org := models.Organization{ID: uuid.New(), Name: "Gulf Recovery Network"}
	store.PutOrganization(org)
	opp := models.Opportunity{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		Title:          "Roof Repair Fund",
		Status:         models.OpportunityActive,
		IsPublic:       true,
		Criteria:       models.Criteria{models.IncomeCriterion{Ranges: []models.Range{{Min: 0, Max: 30000}}}},
	}
	store.PutOpportunity(opp)
	survivor := models.User{ID: uuid.New(), Type: models.UserSurvivor, FirstName: "Ana", Email: "ana@example.org"}
	practitioner := models.User{ID: uuid.New(), Type: models.UserPractitioner, OrganizationID: &org.ID}
	store.PutUser(survivor)
	store.PutUser(practitioner)
	store.PutHouseholdGroup(models.HouseholdGroup{
		ID:         uuid.New(),
		SurvivorID: survivor.ID,
		Members:    []models.HouseholdMember{{ID: uuid.New(), AnnualIncome: decimal.NewNullDecimal(decimal.NewFromInt(25000))}},
	})

	scheduler := matching.NewScheduler(store, matching.SchedulerConfig{}, m, quiet)
	ctrl := workflow.NewController(store, notify.NewLogSender("grants@example.org", quiet), m, quiet)
	srv := NewServer(Options{
		Controller:  ctrl,
		Scanner:     scheduler,
		Runs:        store,
		AdminSecret: testAdminSecret,
		JWTSecret:   testJWTSecret,
		Gatherer:    reg,
	})
	return &harness{srv: srv, store: store, opp: opp, survivor: survivor, practitioner: practitioner}
}

func (h *harness) do(t *testing.T, method, path string, actor uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != uuid.Nil {
		token, err := auth.GenerateToken(testJWTSecret, actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)
	return rec
}

func (h *harness) matchPath(suffix string) string {
	return "/api/v1/matches/" + h.opp.ID.String() + "/" + h.survivor.ID.String() + suffix
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/api/v1/opportunities/"+h.opp.ID.String()+"/apply", h.survivor.ID, map[string]string{})

	rec := h.do(t, http.MethodGet, "/metrics", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recovery_match_workflow_transitions_total")
}

func TestScan_RequiresAdminSecret(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/matching/scan?wait=true", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScan_WaitCreatesMatches(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/matching/scan?wait=true", nil)
	req.Header.Set("X-Admin-Secret", testAdminSecret)
	rec := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		MatchesCreated int `json:"matches_created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.MatchesCreated)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/matching/runs", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminSecret)
	rec = httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.MatchRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunCompleted, runs[0].Status)
}

func TestWorkflowOverHTTP(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/opportunities/"+h.opp.ID.String()+"/apply", h.survivor.ID, map[string]string{"notes": "roof leak"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, h.matchPath("/fund"), h.practitioner.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "fund before award")

	rec = h.do(t, http.MethodPost, h.matchPath("/award"), h.survivor.ID, map[string]any{"amount": 1000})
	assert.Equal(t, http.StatusForbidden, rec.Code, "survivor cannot award")

	rec = h.do(t, http.MethodPost, h.matchPath("/award"), h.practitioner.ID, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, h.matchPath("/award"), h.practitioner.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing amount")

	rec = h.do(t, http.MethodPost, h.matchPath("/award"), h.practitioner.ID, map[string]any{"amount": "1250.50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, h.matchPath("/fund"), h.practitioner.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, h.matchPath(""), h.survivor.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m models.Match
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, models.MatchFunded, m.Status)
	assert.Equal(t, "roof leak", m.Notes)
	assert.True(t, m.AwardAmount.Decimal.Equal(decimal.RequireFromString("1250.50")))

	ledger := h.store.CapitalSources(h.survivor.ID)
	require.Len(t, ledger, 1)
	assert.Equal(t, models.CapitalCurrent, ledger[0].Status)

	rec = h.do(t, http.MethodGet, "/api/v1/opportunities/"+h.opp.ID.String()+"/matches", h.practitioner.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Match
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		actor  uuid.UUID
		body   any
		want   int
	}{
		{"no token", http.MethodGet, h.matchPath(""), uuid.Nil, nil, http.StatusUnauthorized},
		{"bad id", http.MethodGet, "/api/v1/matches/nope/" + h.survivor.ID.String(), h.survivor.ID, nil, http.StatusBadRequest},
		{"missing match", http.MethodGet, h.matchPath(""), h.survivor.ID, nil, http.StatusNotFound},
		{"unknown opportunity", http.MethodPost, "/api/v1/opportunities/" + uuid.NewString() + "/apply", h.survivor.ID, map[string]string{}, http.StatusNotFound},
		{"bad status", http.MethodPatch, h.matchPath(""), h.practitioner.ID, map[string]string{"status": "funded"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want != http.StatusUnauthorized {
				assert.True(t, strings.Contains(rec.Body.String(), `"error"`))
			}
		})
	}
}

func TestMissingActorReturnsJSONError(t *testing.T) {
	h := newHarness(t)
	handlers := map[string]func(echo.Context) error{
		"apply":               h.srv.handleApply,
		"opportunity matches": h.srv.handleListOpportunityMatches,
		"survivor matches":    h.srv.handleListSurvivorMatches,
	}
	for name, handle := range handlers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := h.srv.Echo.NewContext(req, rec)
			c.SetParamNames("id", "survivorId")
			c.SetParamValues(h.opp.ID.String(), h.survivor.ID.String())

			require.NoError(t, handle(c))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

type busyScanner struct{}

func (busyScanner) RunOnce(context.Context, string) (int, error) {
	return 0, matching.ErrScanInProgress
}
func (busyScanner) Running() bool { return true }

func TestScan_ConflictWhenRunning(t *testing.T) {
	srv := NewServer(Options{Scanner: busyScanner{}, AdminSecret: testAdminSecret, JWTSecret: testJWTSecret, Gatherer: prometheus.NewRegistry()})

	for _, path := range []string{"/api/v1/matching/scan", "/api/v1/matching/scan?wait=true"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("X-Admin-Secret", testAdminSecret)
		rec := httptest.NewRecorder()
		srv.Echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code, path)
	}
}
