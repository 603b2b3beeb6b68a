package tracking

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMLflow serves the subset of the mlflow REST API used by MLflowTracker.
type fakeMLflow struct {
	mu          sync.Mutex
	experiments map[string]string
	requests    map[string][]map[string]interface{}
	artifacts   map[string]string
}

func newFakeMLflow() *fakeMLflow {
	return &fakeMLflow{
		experiments: map[string]string{},
		requests:    map[string][]map[string]interface{}{},
		artifacts:   map[string]string{},
	}
}

func (f *fakeMLflow) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := ioutil.ReadAll(r.Body)
	if r.Method == http.MethodPut {
		f.artifacts[r.URL.Path] = string(body)
		return
	}
	var req map[string]interface{}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}
	path := r.URL.Path[len(mlflowAPI):]
	f.requests[path] = append(f.requests[path], req)

	switch path {
	case "experiments/get-by-name":
		id, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"experiment":{"experiment_id":"` + id + `"}}`))
	case "experiments/create":
		f.experiments[req["name"].(string)] = "7"
		_, _ = w.Write([]byte(`{"experiment_id":"7"}`))
	case "runs/create":
		_, _ = w.Write([]byte(`{"run":{"info":{"run_id":"run-1","status":"RUNNING"}}}`))
	case "runs/search":
		// two pages, linked by next_page_token
		if req["page_token"] == "page-2" {
			_, _ = w.Write([]byte(`{"runs":[{"info":{"run_id":"run-2","status":"RUNNING","start_time":1600000100000}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"runs":[{"info":{"run_id":"run-1","status":"FINISHED","start_time":1600000000000,"end_time":1600000060000},` +
			`"data":{"metrics":[{"key":"accuracy","value":0.4}],"params":[{"key":"epochs","value":"10"}]}}],"next_page_token":"page-2"}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeMLflow) request(path string, i int) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path][i]
}

func (f *fakeMLflow) artifact(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.artifacts[path]
}

func (f *fakeMLflow) experiment(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.experiments[name]
}

func TestMLflowTracker(t *testing.T) {
	ctx := context.Background()
	fake := newFakeMLflow()
	server := httptest.NewServer(fake)
	defer server.Close()

	tracker := NewMLflowTracker(server.URL+"/", server.Client())
	defer tracker.Close()

	run, err := tracker.StartRun(ctx, "Base model")
	require.NoError(t, err)
	require.Equal(t, "run-1", run.ID())
	require.Equal(t, "7", fake.experiment("Base model"))

	require.NoError(t, run.LogParam(ctx, "hidden_layer_size", []int{100, 50}))
	require.NoError(t, run.LogMetric(ctx, "val_loss", 1.25, 3))

	artifact := filepath.Join(t.TempDir(), "loss.png")
	require.NoError(t, os.WriteFile(artifact, []byte("png"), 0644))
	require.NoError(t, run.LogArtifact(ctx, artifact))
	require.NoError(t, run.End(ctx, Finished))

	param := fake.request("runs/log-parameter", 0)
	require.Equal(t, "run-1", param["run_id"])
	require.Equal(t, "[100,50]", param["value"])

	metric := fake.request("runs/log-metric", 0)
	require.Equal(t, "val_loss", metric["key"])
	require.Equal(t, 1.25, metric["value"])
	require.Equal(t, 3.0, metric["step"])

	require.Equal(t, "png", fake.artifact(mlflowArtifactsAPI + "7/run-1/artifacts/loss.png"))
	require.Equal(t, "FINISHED", fake.request("runs/update", 0)["status"])

	runs, err := tracker.ListRuns(ctx, "Base model")
	require.NoError(t, err)
	require.Equal(t, 2, len(runs))
	require.Equal(t, Finished, runs[0].Status)
	require.Equal(t, int64(1600000000), runs[0].StartTime.Unix())
	require.Equal(t, int64(1600000060), runs[0].EndTime.Unix())
	require.Equal(t, map[string]string{"epochs": "10"}, runs[0].Params)
	require.Equal(t, map[string]float64{"accuracy": 0.4}, runs[0].Metrics)

	require.Equal(t, "run-2", runs[1].ID)
	require.Equal(t, Running, runs[1].Status)
	require.True(t, runs[1].EndTime.IsZero())
	require.Nil(t, fake.request("runs/search", 0)["page_token"])
	require.Equal(t, "page-2", fake.request("runs/search", 1)["page_token"])
	require.Equal(t, float64(mlflowSearchPageSize), fake.request("runs/search", 1)["max_results"])
}

func TestMLflowTracker_Errors(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(newFakeMLflow())
	defer server.Close()
	tracker := NewMLflowTracker(server.URL, server.Client())

	_, err := tracker.ListRuns(ctx, "missing")
	require.Error(t, err)
	apiErr, ok := err.(*mlflowError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "RESOURCE_DOES_NOT_EXIST", apiErr.ErrorCode)

	run, err := tracker.StartRun(ctx, "exp")
	require.NoError(t, err)
	require.Error(t, run.LogArtifact(ctx, filepath.Join(t.TempDir(), "missing.png")))
}
