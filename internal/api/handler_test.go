package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reach-engine/internal/engine"
	"reach-engine/internal/presenter"
)

type testServer struct {
	*httptest.Server
	loop  *engine.Loop
	eng   *engine.Engine
	inbox *presenter.Inbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	eng, err := engine.Open(ctx, engine.Options{
		MaxCampaigns:  1,
		DeviceID:      "dev-1",
		CacheName:     "api-test",
		CacheCapacity: 8,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	inbox := presenter.NewInbox(zerolog.Nop())
	eng.RegisterPresenter("", inbox)
	eng.RegisterReceiver("", presenter.NewAckReceiver(zerolog.Nop()))

	loop := engine.NewLoop(8)
	go loop.Run(ctx)

	ts := httptest.NewServer(Router(NewHandler(loop, eng, inbox)))
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, loop: loop, eng: eng, inbox: inbox}
}

func (s *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPayloads(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		body        string
		wantStatus  int
		wantStored  int
		wantSkipped int
	}{
		{"malformed", "/v1/payloads", `<contents><announcement id="a">`, http.StatusBadRequest, 0, 0},
		{"single item", "/v1/payloads", `<announcement id="a"/>`, http.StatusAccepted, 1, 0},
		{"container with a bad element", "/v1/payloads", `<contents><announcement id="a"/><poll id="p"/></contents>`, http.StatusAccepted, 1, 1},
		{"native push", "/v1/payloads?native=true", `<notifAnnouncement id="n"><notification/></notifAnnouncement>`, http.StatusAccepted, 1, 0},
		{"nothing usable", "/v1/payloads", `<contents/>`, http.StatusAccepted, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusAccepted {
				return
			}
			res := decode[engine.IngestResult](t, resp)
			assert.Len(t, res.Stored, tt.wantStored)
			assert.Equal(t, tt.wantSkipped, res.Skipped)
		})
	}
}

func TestContentLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/payloads",
		`<announcement id="a"><title>Hello</title><notification type="activity"><title>Psst</title></notification></announcement>`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/presentation", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	shown := decode[[]presenter.Shown](t, resp)
	require.Len(t, shown, 1)
	assert.Equal(t, "a", shown[0].ContentID)
	require.NotNil(t, shown[0].Notification)
	assert.False(t, shown[0].Notification.System)
	id := shown[0].LocalID

	status := ts.eng.Status()
	assert.Equal(t, engine.Presenting, status.State)
	require.NotNil(t, status.Presenting)
	assert.Equal(t, "notification-displayed", status.Presenting.Stage)

	base := "/v1/contents/" + jsonNumber(id)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, base+"/action-notification", "").StatusCode)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, base+"/display-content", "").StatusCode)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, base+"/exit-notification", "").StatusCode)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, base+"/action-content", "").StatusCode)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, base+"/exit-content", "").StatusCode)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodGet, "/v1/presentation", "").StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		State string        `json:"state"`
		Items []engine.Item `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "idle", got.State)
	assert.Empty(t, got.Items)
}

func TestContentAction_Errors(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/v1/payloads", `<notifAnnouncement id="n"><notification/></notifAnnouncement>`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := jsonNumber(decode[engine.IngestResult](t, resp).Stored[0])

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"bad id", "/v1/contents/abc/drop", "", http.StatusBadRequest},
		{"zero id", "/v1/contents/0/drop", "", http.StatusBadRequest},
		{"unknown action", "/v1/contents/" + id + "/explode", "", http.StatusNotFound},
		{"unknown content", "/v1/contents/999/drop", "", http.StatusConflict},
		{"bad body", "/v1/contents/" + id + "/action-content", "{", http.StatusBadRequest},
		{"notification only has no content", "/v1/contents/" + id + "/display-content", "", http.StatusUnprocessableEntity},
		{"notification only cannot be actioned as content", "/v1/contents/" + id + "/action-content", `{"answers":{}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, ts.do(t, http.MethodPost, tt.path, tt.body).StatusCode)
		})
	}
}

func TestPollAnswers(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/v1/payloads",
		`<poll id="p"><question id="q"><choice id="red"/><choice id="blue"/></question></poll>`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := jsonNumber(decode[engine.IngestResult](t, resp).Stored[0])

	resp = ts.do(t, http.MethodPost, "/v1/contents/"+id+"/action-content", `{"answers":{"q":"green"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/contents/"+id+"/action-content", `{"answers":{"q":"blue"}}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestActivity(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/v1/activity", `{"activity":"home"}`).StatusCode)
	assert.Equal(t, "home", ts.eng.Status().Activity)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/v1/activity", `{"activity":null}`).StatusCode)
	assert.Equal(t, "", ts.eng.Status().Activity)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/v1/activity", `nope`).StatusCode)
}

func TestClearAndSync(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/v1/payloads",
		`<contents><announcement id="a"/><announcement id="b"/></contents>`).StatusCode)
	require.Len(t, ts.eng.Status().Items, 2)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/v1/cache/sync", "").StatusCode)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/contents", "").StatusCode)
	assert.Empty(t, ts.eng.Status().Items)
	assert.Empty(t, ts.inbox.Current())
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngest_UsedBySources(t *testing.T) {
	ts := newTestServer(t)
	h := NewHandler(ts.loop, ts.eng, ts.inbox)
	ctx := context.Background()

	require.NoError(t, h.Ingest(ctx, []byte(`<datapush id="d" type="text">x</datapush>`)))
	assert.Empty(t, ts.eng.Status().Items)
	assert.Error(t, h.Ingest(ctx, []byte(`<broken`)))
}

func jsonNumber(id uint64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
