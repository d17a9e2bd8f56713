package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orch/internal/api"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// fakeServer records the requests the CLI makes and answers from handlers.
type fakeServer struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
}

func (f *fakeServer) start(t *testing.T, handlers map[string]http.HandlerFunc) string {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range handlers {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
			f.bodies = append(f.bodies, string(body))
			f.mu.Unlock()
			h(w, r)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestStop(t *testing.T) {
	env := newCLIEnv(t)
	fake := &fakeServer{}
	url := fake.start(t, map[string]http.HandlerFunc{
		"POST /api/tasks/{id}/stop": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("id") == "4" {
				writeJSON(w, http.StatusConflict, api.APIError{
					Error:   "task #4 is not running",
					Code:    string(orcherrors.CodeTaskNotRunning),
					Details: "status is completed",
				})
				return
			}
			writeJSON(w, http.StatusOK, api.Message{Success: true})
		},
	})

	out, err := env.run(t, "--server", url, "stop", "3")
	require.NoError(t, err)
	assert.Equal(t, "Stopped task 3\n", out)

	_, err = env.run(t, "--server", url, "stop", "4")
	require.Error(t, err)
	oe := orcherrors.AsOrchError(err)
	require.NotNil(t, oe)
	assert.Equal(t, orcherrors.CodeTaskNotRunning, oe.Code)
	assert.Equal(t, "task #4 is not running", oe.What)
	assert.Equal(t, "status is completed", oe.Why)

	assert.Equal(t, []string{"POST /api/tasks/3/stop", "POST /api/tasks/4/stop"}, fake.requests)
}

func TestSteer(t *testing.T) {
	env := newCLIEnv(t)
	fake := &fakeServer{}
	url := fake.start(t, map[string]http.HandlerFunc{
		"POST /api/tasks/{id}/steer": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, api.Message{Success: true})
		},
	})

	out, err := env.run(t, "--server", url, "steer", "9", "focus", "on", "tests")
	require.NoError(t, err)
	assert.Equal(t, "Sent input to task 9\n", out)
	require.Len(t, fake.bodies, 1)
	assert.JSONEq(t, `{"input":"focus on tests"}`, fake.bodies[0])

	_, err = env.run(t, "--server", url, "steer", "9", "  ")
	require.Error(t, err)
	assert.Len(t, fake.requests, 1)
}

func TestProcesses(t *testing.T) {
	env := newCLIEnv(t)
	fake := &fakeServer{}
	started := time.Now().Add(-90 * time.Minute)
	url := fake.start(t, map[string]http.HandlerFunc{
		"GET /api/processes": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []api.ProcessInfo{
				{PID: 4242, TaskID: 7, TaskType: "pr-review", Repo: "acme/widgets", StartTime: started},
			})
		},
		"POST /api/processes/kill-old": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, api.Message{Success: true, Message: "Killed 1 Orch process(es) older than 30 minutes"})
		},
		"POST /api/processes/kill-all": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, api.Message{Success: true, Message: "Killed 2 Orch process(es)"})
		},
	})

	out, err := env.run(t, "--server", url, "processes")
	require.NoError(t, err)
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "acme/widgets")
	assert.Contains(t, out, "1h30m")

	out, err = env.run(t, "--server", url, "ps", "--kill-old", "--max-age", "30m")
	require.NoError(t, err)
	assert.Equal(t, "Killed 1 Orch process(es) older than 30 minutes\n", out)

	out, err = env.run(t, "--server", url, "processes", "--kill-all")
	require.NoError(t, err)
	assert.Equal(t, "Killed 2 Orch process(es)\n", out)

	_, err = env.run(t, "--server", url, "processes", "--kill-all", "--kill-old")
	require.Error(t, err)

	assert.Equal(t, []string{
		"GET /api/processes",
		"POST /api/processes/kill-old?maxAge=30m0s",
		"POST /api/processes/kill-all",
	}, fake.requests)
}

func TestResponseError(t *testing.T) {
	t.Parallel()

	err := responseError(http.StatusBadGateway, []byte("upstream down"))
	assert.Nil(t, orcherrors.AsOrchError(err))
	assert.EqualError(t, err, "server returned 502: upstream down")

	err = responseError(http.StatusInternalServerError, []byte(`{"error":"boom"}`))
	assert.Nil(t, orcherrors.AsOrchError(err))
	assert.EqualError(t, err, "server returned 500: boom")

	err = responseError(http.StatusNotFound, []byte(`{"error":"task #1 not found","code":"TASK_NOT_FOUND"}`))
	require.NotNil(t, orcherrors.AsOrchError(err))
	assert.Equal(t, orcherrors.CodeTaskNotFound, orcherrors.AsOrchError(err).Code)
}

func TestAPIClient_Unreachable(t *testing.T) {
	env := newCLIEnv(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := env.run(t, "--server", url, "stop", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is orch serve running?")
}
