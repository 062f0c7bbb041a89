package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/models"
	"github.com/ternarybob/dossier/internal/services/broadcast"
)

type streamFrame struct {
	Type string             `json:"type"`
	Data models.StatusEvent `json:"data"`
}

type streamFixture struct {
	manager *broadcast.Manager
	jobs    *fakeResearchService
	url     string
}

func newStreamFixture(t *testing.T, allowedOrigins []string) *streamFixture {
	t.Helper()
	logger := arbor.NewLogger()
	f := &streamFixture{
		manager: broadcast.NewManager(logger, broadcast.Options{SendTimeout: time.Second}),
		jobs:    &fakeResearchService{records: map[string]models.JobRecord{}},
	}
	h := NewWebSocketHandler(f.manager, f.jobs, &common.WebSocketConfig{}, allowedOrigins, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /research/ws/{job_id}", h.HandleStatusStream)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		f.manager.CloseAll()
		srv.Close()
	})

	f.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/research/ws/"
	return f
}

func (f *streamFixture) dial(t *testing.T, jobID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url+jobID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return f.manager.Count(jobID) > 0 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) streamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame streamFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestStatusStream_SendsSnapshotOnConnect(t *testing.T) {
	f := newStreamFixture(t, nil)
	f.jobs.records["job-1"] = completedRecord("job-1")

	conn := f.dial(t, "job-1")
	frame := readFrame(t, conn)

	assert.Equal(t, models.WSMessageStatusUpdate, frame.Type)
	assert.Equal(t, "job-1", frame.Data.JobID)
	assert.Equal(t, models.JobStatusCompleted, frame.Data.Status)
	assert.Equal(t, "Connected to status stream", frame.Data.Message)
	require.NotNil(t, frame.Data.Result)
	assert.Equal(t, "# Acme Research Report", frame.Data.Result.Report)
	assert.Equal(t, "Acme", frame.Data.Result.Company)
}

func TestStatusStream_DeliversBroadcasts(t *testing.T) {
	f := newStreamFixture(t, nil)
	f.jobs.records["job-1"] = models.JobRecord{JobID: "job-1", Status: models.JobStatusPending}

	first := f.dial(t, "job-1")
	second := f.dial(t, "job-1")
	assert.Equal(t, models.JobStatusPending, readFrame(t, first).Data.Status)
	assert.Equal(t, models.JobStatusPending, readFrame(t, second).Data.Status)

	delivered := f.manager.Broadcast(context.Background(), "job-1",
		models.NewStatusEvent("job-1", models.JobStatusProcessing, "Starting research"))
	assert.Equal(t, 2, delivered)

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn)
		assert.Equal(t, models.JobStatusProcessing, frame.Data.Status)
		assert.Equal(t, "Starting research", frame.Data.Message)
	}
}

func TestStatusStream_UnknownJobStaysAttached(t *testing.T) {
	f := newStreamFixture(t, nil)

	conn := f.dial(t, "later")
	f.manager.Broadcast(context.Background(), "later",
		models.NewStatusEvent("later", models.JobStatusProcessing, "Starting research"))

	frame := readFrame(t, conn)
	assert.Equal(t, "Starting research", frame.Data.Message, "no snapshot precedes the first broadcast")
}

func TestStatusStream_DisconnectDetaches(t *testing.T) {
	f := newStreamFixture(t, nil)

	conn := f.dial(t, "job-1")
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return f.manager.Count("job-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatusStream_CloseAllClosesClients(t *testing.T) {
	f := newStreamFixture(t, nil)

	conn := f.dial(t, "job-1")
	f.manager.CloseAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStatusStream_RejectsDisallowedOrigin(t *testing.T) {
	f := newStreamFixture(t, []string{"http://localhost:5173"})

	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url+"job-1", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(f.url+"job-1", header)
	require.NoError(t, err)
	conn.Close()
}
