package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/engine"
	"campaign-targeting/internal/generation"
	"campaign-targeting/internal/segment"
	"campaign-targeting/internal/storage"
)

type stubGenerator struct {
	msg generation.Message
	err error
}

func (g stubGenerator) Generate(context.Context, generation.Request) (generation.Message, error) {
	return g.msg, g.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	srv   *httptest.Server
	svc   *campaign.Service
	eng   *engine.DeliveryEngine
	store *storage.Memory
}

func newTestEnv(t *testing.T, gen campaign.Generator) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	store.SetPopulation([]segment.Record{
		{"spend": 15000.0, "location": "NY", "subscribed": true},
		{"spend": 12000.0, "location": "LA", "subscribed": true},
		{"spend": 300.0, "location": "NY", "subscribed": false},
	})
	cat := segment.DefaultCatalog()
	est := segment.NewPopulationEstimator(segment.NewEvaluator(cat), storage.NewPopulationCache(store))
	if gen == nil {
		gen = stubGenerator{msg: generation.Message{Text: "Hello there"}}
	}
	svc := campaign.NewService(store, store, cat, est, gen)
	t.Cleanup(svc.Close)
	eng := engine.NewEngine(segment.NewEvaluator(cat), store)

	srv := httptest.NewServer(Router(NewHandler(svc, eng), stubPinger{}, 5*time.Second))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, svc: svc, eng: eng, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const validCampaign = `{
	"name": "NY big spenders",
	"message": "Thanks for shopping with us",
	"rules": {"id": "g0", "combinator": "AND", "rules": [
		{"id": "r1", "field": "spend", "operator": ">", "value": "10000"},
		{"id": "g1", "combinator": "OR", "rules": [
			{"id": "r2", "field": "location", "operator": "=", "value": "NY"},
			{"id": "r3", "field": "subscribed", "operator": "=", "value": true}
		]}
	]}
}`

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := httptest.NewServer(Router(NewHandler(env.svc, env.eng), stubPinger{err: errors.New("down")}, time.Second))
	defer down.Close()
	r, err := http.Get(down.URL + "/readyz")
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, r.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFields(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/v1/fields", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fields := decodeBody[[]segment.FieldOption](t, resp)
	require.Len(t, fields, 7)
	assert.Equal(t, "spend", fields[0].ID)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/v1/campaigns"},
		{http.MethodPost, "/v1/campaigns"},
		{http.MethodPost, "/v1/estimate"},
		{http.MethodGet, "/v1/segments"},
		{http.MethodPost, "/v1/campaigns/abc/rules"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestEstimate(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty tree", `{"id":"g","combinator":"AND","rules":[]}`, 0},
		{"spend over 10000", `{"id":"g","combinator":"AND","rules":[{"id":"r","field":"spend","operator":">","value":10000}]}`, 2},
		{
			"spend and NY",
			`{"id":"g","combinator":"AND","rules":[{"id":"r","field":"spend","operator":">","value":"10000"},{"id":"r2","field":"location","operator":"=","value":"NY"}]}`,
			1,
		},
		{"incomplete rule matches nobody", `{"id":"g","combinator":"OR","rules":[{"id":"r","field":"spend","operator":">","value":""}]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/estimate", "u1", tt.body)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			est := decodeBody[segment.Estimate](t, resp)
			assert.Equal(t, tt.want, est.Size)
			assert.True(t, est.Authoritative)
		})
	}

	resp := env.do(t, http.MethodPost, "/v1/estimate", "u1", `{"id":"g","combinator":"XOR","rules":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCampaignLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/campaigns", "u1", validCampaign)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[campaign.Campaign](t, resp)
	assert.Equal(t, campaign.StatusDraft, created.Status)
	id := created.ID

	env.svc.Wait()
	resp = env.do(t, http.MethodGet, "/v1/campaigns/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[campaign.Campaign](t, resp)
	assert.Equal(t, 2, got.AudienceSize)
	assert.Equal(t, "r3", got.Rules.Rules[1].(*segment.Group).Rules[1].NodeID())

	resp = env.do(t, http.MethodGet, "/v1/campaigns/"+id, "u2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other owners cannot see it")

	// Narrow the audience: spend > 10000 AND (location = NY)
	resp = env.do(t, http.MethodPost, "/v1/campaigns/"+id+"/rules", "u1", campaign.Mutation{Op: campaign.OpDeleteNode, Target: "r3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.svc.Wait()
	resp = env.do(t, http.MethodGet, "/v1/campaigns/"+id+"/audience", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	aud := decodeBody[audienceResponse](t, resp)
	assert.Equal(t, 1, aud.AudienceSize)
	assert.False(t, aud.Pending)

	resp = env.do(t, http.MethodPost, "/v1/campaigns/"+id+"/status", "u1", `{"status":"active"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/campaigns/"+id+"/rules", "u1", campaign.Mutation{Op: campaign.OpAddRule, Target: "g0"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "rules frozen outside draft")

	resp = env.do(t, http.MethodPost, "/v1/campaigns/"+id+"/status", "u1", `{"status":"draft"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/campaigns/"+id+"/status", "u1", `{"status":"archived"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/campaigns", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]campaign.Campaign](t, resp), 1)

	resp = env.do(t, http.MethodDelete, "/v1/campaigns/"+id, "u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/v1/campaigns/"+id, "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateCampaign_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/campaigns", "u1", `{"name":""}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, "Campaign name is required", body.Fields["name"])
	assert.Equal(t, "Campaign message is required", body.Fields["message"])
	assert.Equal(t, "At least one rule is required", body.Fields["rules"])

	resp = env.do(t, http.MethodPost, "/v1/campaigns", "u1", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMutation_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodPost, "/v1/campaigns", "u1", validCampaign)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody[campaign.Campaign](t, resp).ID

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown op", `{"op":"explode","target":"g0"}`, http.StatusBadRequest},
		{"bad combinator", `{"op":"set_combinator","target":"g0","combinator":"NAND"}`, http.StatusBadRequest},
		{"change field without field", `{"op":"change_field","target":"r1"}`, http.StatusBadRequest},
		{"object value", `{"op":"update_rule","target":"r1","value":{"x":1}}`, http.StatusBadRequest},
		{"unknown target", `{"op":"delete_node","target":"nope"}`, http.StatusOK},
		{"change field", `{"op":"change_field","target":"r1","field":"email"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/campaigns/"+id+"/rules", "u1", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestGenerateMessage(t *testing.T) {
	tests := []struct {
		name string
		gen  stubGenerator
		want int
	}{
		{"ok", stubGenerator{msg: generation.Message{Text: "Hi NY!"}}, http.StatusOK},
		{"fallback", stubGenerator{msg: generation.Message{Text: "canned", Fallback: true}}, http.StatusOK},
		{"rate limited", stubGenerator{err: &generation.Error{Reason: generation.ErrRateLimited, Status: 429}}, http.StatusTooManyRequests},
		{"outage", stubGenerator{err: &generation.Error{Reason: generation.ErrServiceUnavailable, Status: 503}}, http.StatusServiceUnavailable},
		{"bad key", stubGenerator{err: &generation.Error{Reason: generation.ErrInvalidCredentials, Status: 401}}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.gen)
			resp := env.do(t, http.MethodPost, "/v1/campaigns", "u1", validCampaign)
			require.Equal(t, http.StatusCreated, resp.StatusCode)
			id := decodeBody[campaign.Campaign](t, resp).ID

			resp = env.do(t, http.MethodPost, "/v1/campaigns/"+id+"/message", "u1", nil)
			require.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusOK {
				msg := decodeBody[generation.Message](t, resp)
				assert.Equal(t, tt.gen.msg, msg)
				return
			}
			body := decodeBody[errorBody](t, resp)
			assert.Equal(t, generation.UserMessage(tt.gen.err), body.Error)
		})
	}
}

func TestSegmentsAndAnalytics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/segments", "u1",
		`{"name":"Subscribers","rules":{"id":"s0","combinator":"AND","rules":[{"id":"s1","field":"subscribed","operator":"=","value":true}]}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	seg := decodeBody[campaign.Segment](t, resp)

	resp = env.do(t, http.MethodGet, "/v1/segments/"+seg.ID+"/size", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decodeBody[segment.Estimate](t, resp).Size)

	resp = env.do(t, http.MethodPost, "/v1/campaigns", "u1",
		`{"name":"From segment","message":"hi","segment_id":"`+seg.ID+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decodeBody[campaign.Campaign](t, resp)
	assert.NotEqual(t, "s1", c.Rules.Rules[0].NodeID())

	env.store.AddAnalytics(campaign.Analytics{ID: "a1", CampaignID: c.ID, Impressions: 100, Clicks: 7, Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)})
	resp = env.do(t, http.MethodGet, "/v1/campaigns/"+c.ID+"/analytics", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decodeBody[[]campaign.Analytics](t, resp)
	require.Len(t, rows, 1)
	assert.Equal(t, 7, rows[0].Clicks)

	resp = env.do(t, http.MethodPatch, "/v1/segments/"+seg.ID, "u1", `{"name":"All subscribers"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "All subscribers", decodeBody[campaign.Segment](t, resp).Name)

	resp = env.do(t, http.MethodPost, "/v1/segments/"+seg.ID+"/rules", "u1", `{"op":"set_combinator","target":"s0","combinator":"OR"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, segment.Or, decodeBody[campaign.Segment](t, resp).Rules.Combinator)

	resp = env.do(t, http.MethodGet, "/v1/segments", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]campaign.Segment](t, resp), 1)

	resp = env.do(t, http.MethodDelete, "/v1/segments/"+seg.ID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/v1/segments/"+seg.ID, "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelivery(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodPost, "/v1/campaigns", "u1", validCampaign)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody[campaign.Campaign](t, resp).ID

	resp = env.do(t, http.MethodPost, "/v1/campaigns/"+id+"/status", "u1", `{"status":"active"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, env.eng.Refresh(context.Background()))

	tests := []struct {
		name    string
		user    string
		record  string
		wantIDs []string
	}{
		{"targeted", "u1", `{"spend":12000,"location":"LA","subscribed":true}`, []string{id}},
		{"below spend", "u1", `{"spend":50,"location":"NY","subscribed":true}`, []string{}},
		{"other owner", "u2", `{"spend":12000,"location":"NY"}`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/delivery", tt.user, tt.record)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			got := decodeBody[[]engine.Match](t, resp)
			ids := make([]string, len(got))
			for i, m := range got {
				ids[i] = m.ID
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestWriteError_Persistence(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/campaigns", nil)
	writeError(w, r, &campaign.PersistenceError{Op: "create campaign", Err: errors.New("connection refused")})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}
