package server

import (
	"bytes"
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

	"github.com/ternarybob/dossier/internal/app"
	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Type = common.StorageTypeMemory
	cfg.Research.Provider = "offline"
	cfg.Research.StartDelay = "200ms"
	cfg.Reports.Dir = t.TempDir()
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(New(application).Handler())
	t.Cleanup(func() {
		srv.Close()
		application.Close()
	})
	return srv
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/nowhere")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_CORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/research", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_ResearchFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/research", "application/json", bytes.NewBufferString(`{"company":"Acme"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var submitted struct {
		JobID        string `json:"job_id"`
		WebSocketURL string `json:"websocket_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.JobID)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+submitted.WebSocketURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var seen []models.JobStatus
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
		var frame struct {
			Type string             `json:"type"`
			Data models.StatusEvent `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, models.WSMessageStatusUpdate, frame.Type)
		seen = append(seen, frame.Data.Status)
		if frame.Data.Status.IsTerminal() {
			require.Equal(t, models.JobStatusCompleted, frame.Data.Status, frame.Data.Error)
			require.NotNil(t, frame.Data.Result)
			assert.Contains(t, frame.Data.Result.Report, "# Acme Research Report")
			break
		}
	}
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i-1] == seen[i] || seen[i-1].CanTransitionTo(seen[i]), "statuses never regress: %v", seen)
	}

	reportResp, err := http.Get(srv.URL + "/research/" + submitted.JobID + "/report")
	require.NoError(t, err)
	defer reportResp.Body.Close()
	assert.Equal(t, http.StatusOK, reportResp.StatusCode)

	pdfResp, err := http.Post(srv.URL+"/research/"+submitted.JobID+"/generate-pdf", "application/json", nil)
	require.NoError(t, err)
	defer pdfResp.Body.Close()
	require.Equal(t, http.StatusOK, pdfResp.StatusCode)

	var generated struct {
		PDFURL string `json:"pdf_url"`
	}
	require.NoError(t, json.NewDecoder(pdfResp.Body).Decode(&generated))
	require.True(t, strings.HasPrefix(generated.PDFURL, "/research/pdf/acme_research_report_"))

	download, err := http.Get(srv.URL + generated.PDFURL)
	require.NoError(t, err)
	defer download.Body.Close()
	assert.Equal(t, http.StatusOK, download.StatusCode)
	assert.Equal(t, "application/pdf", download.Header.Get("Content-Type"))
}
