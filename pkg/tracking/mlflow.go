package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	mlflowAPI          = "/api/2.0/mlflow/"
	mlflowArtifactsAPI = "/api/2.0/mlflow-artifacts/artifacts/"

	mlflowSearchPageSize = 1000
)

// MLflowTracker talks to an mlflow tracking server over its REST API.
type MLflowTracker struct {
	baseURL string
	client  *http.Client
}

// NewMLflowTracker returns a tracker for the server at baseURL. A nil client uses a client
// with a 30 second timeout.
func NewMLflowTracker(baseURL string, client *http.Client) *MLflowTracker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MLflowTracker{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (t *MLflowTracker) Close() error {
	return nil
}

type mlflowError struct {
	StatusCode int
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *mlflowError) Error() string {
	return fmt.Sprintf("mlflow error %d %s: %s", e.StatusCode, e.ErrorCode, e.Message)
}

func (t *MLflowTracker) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("error calling mlflow %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading mlflow response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &mlflowError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("error decoding mlflow response: %w", err)
		}
	}
	return nil
}

func (t *MLflowTracker) experimentID(ctx context.Context, name string, create bool) (string, error) {
	var found struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := t.do(ctx, http.MethodGet, mlflowAPI+"experiments/get-by-name?experiment_name="+url.QueryEscape(name), nil, &found)
	if err == nil {
		return found.Experiment.ExperimentID, nil
	}
	apiErr, ok := err.(*mlflowError)
	if !ok || apiErr.ErrorCode != "RESOURCE_DOES_NOT_EXIST" || !create {
		return "", err
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := t.do(ctx, http.MethodPost, mlflowAPI+"experiments/create", map[string]string{"name": name}, &created); err != nil {
		return "", fmt.Errorf("error creating experiment %s: %w", name, err)
	}
	return created.ExperimentID, nil
}

type mlflowRunInfo struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
}

type mlflowKeyValue struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type mlflowRun struct {
	Info mlflowRunInfo `json:"info"`
	Data struct {
		Metrics []mlflowKeyValue `json:"metrics"`
		Params  []mlflowKeyValue `json:"params"`
	} `json:"data"`
}

func (t *MLflowTracker) StartRun(ctx context.Context, experiment string) (Run, error) {
	experimentID, err := t.experimentID(ctx, experiment, true)
	if err != nil {
		return nil, err
	}
	var created struct {
		Run mlflowRun `json:"run"`
	}
	req := map[string]interface{}{
		"experiment_id": experimentID,
		"start_time":    millis(time.Now()),
	}
	if err := t.do(ctx, http.MethodPost, mlflowAPI+"runs/create", req, &created); err != nil {
		return nil, fmt.Errorf("error creating run: %w", err)
	}
	return &mlflowRunHandle{tracker: t, experimentID: experimentID, id: created.Run.Info.RunID}, nil
}

func (t *MLflowTracker) ListRuns(ctx context.Context, experiment string) ([]RunInfo, error) {
	experimentID, err := t.experimentID(ctx, experiment, false)
	if err != nil {
		return nil, err
	}
	var runs []mlflowRun
	req := map[string]interface{}{
		"experiment_ids": []string{experimentID},
		"order_by":       []string{"attributes.start_time ASC"},
		"max_results":    mlflowSearchPageSize,
	}
	for {
		var found struct {
			Runs          []mlflowRun `json:"runs"`
			NextPageToken string      `json:"next_page_token"`
		}
		if err := t.do(ctx, http.MethodPost, mlflowAPI+"runs/search", req, &found); err != nil {
			return nil, fmt.Errorf("error searching runs: %w", err)
		}
		runs = append(runs, found.Runs...)
		if found.NextPageToken == "" {
			break
		}
		req["page_token"] = found.NextPageToken
	}

	result := make([]RunInfo, len(runs))
	for i, r := range runs {
		info := RunInfo{
			ID:        r.Info.RunID,
			Status:    Status(r.Info.Status),
			StartTime: fromMillis(r.Info.StartTime),
			Params:    map[string]string{},
			Metrics:   map[string]float64{},
		}
		if r.Info.EndTime > 0 {
			info.EndTime = fromMillis(r.Info.EndTime)
		}
		for _, p := range r.Data.Params {
			info.Params[p.Key] = fmt.Sprintf("%v", p.Value)
		}
		for _, m := range r.Data.Metrics {
			if v, ok := m.Value.(float64); ok {
				info.Metrics[m.Key] = v
			}
		}
		result[i] = info
	}
	return result, nil
}

type mlflowRunHandle struct {
	tracker      *MLflowTracker
	experimentID string
	id           string
}

func (r *mlflowRunHandle) ID() string {
	return r.id
}

func (r *mlflowRunHandle) LogParam(ctx context.Context, key string, value interface{}) error {
	return r.tracker.do(ctx, http.MethodPost, mlflowAPI+"runs/log-parameter", map[string]string{
		"run_id": r.id,
		"key":    key,
		"value":  FormatParam(value),
	}, nil)
}

func (r *mlflowRunHandle) LogMetric(ctx context.Context, key string, value float64, step int) error {
	return r.tracker.do(ctx, http.MethodPost, mlflowAPI+"runs/log-metric", map[string]interface{}{
		"run_id":    r.id,
		"key":       key,
		"value":     value,
		"timestamp": millis(time.Now()),
		"step":      step,
	}, nil)
}

// LogArtifact uploads the file through the artifact proxy of the tracking server.
func (r *mlflowRunHandle) LogArtifact(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading artifact %s: %w", path, err)
	}
	target := fmt.Sprintf("%s%s%s/%s/artifacts/%s", r.tracker.baseURL, mlflowArtifactsAPI,
		r.experimentID, r.id, url.PathEscape(filepath.Base(path)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := r.tracker.client.Do(req)
	if err != nil {
		return fmt.Errorf("error uploading artifact %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error uploading artifact %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (r *mlflowRunHandle) End(ctx context.Context, status Status) error {
	return r.tracker.do(ctx, http.MethodPost, mlflowAPI+"runs/update", map[string]interface{}{
		"run_id":   r.id,
		"status":   string(status),
		"end_time": millis(time.Now()),
	}, nil)
}

func millis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

func fromMillis(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}
