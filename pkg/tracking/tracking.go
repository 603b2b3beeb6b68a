// Package tracking records the parameters, metrics and artifacts of training runs.
//
// Two backends are available, selected by the scheme of the tracking URI:
//
//	sqlite://path/to/tracking.db   local store, artifacts copied next to the database
//	http://host:5000               an mlflow tracking server
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	Running  Status = "RUNNING"
	Finished Status = "FINISHED"
	Failed   Status = "FAILED"
)

type Tracker interface {
	// StartRun creates a run in the named experiment, creating the experiment if needed.
	StartRun(ctx context.Context, experiment string) (Run, error)
	ListRuns(ctx context.Context, experiment string) ([]RunInfo, error)
	Close() error
}

type Run interface {
	ID() string
	LogParam(ctx context.Context, key string, value interface{}) error
	LogMetric(ctx context.Context, key string, value float64, step int) error
	LogArtifact(ctx context.Context, path string) error
	End(ctx context.Context, status Status) error
}

// RunInfo summarises a run. Metrics hold the value of the latest step.
type RunInfo struct {
	ID        string
	Status    Status
	StartTime time.Time
	EndTime   time.Time
	Params    map[string]string
	Metrics   map[string]float64
}

// Open returns the tracker addressed by uri.
func Open(uri string) (Tracker, error) {
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		return NewSQLiteTracker(strings.TrimPrefix(uri, "sqlite://"))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return NewMLflowTracker(uri, nil), nil
	default:
		return nil, fmt.Errorf("unsupported tracking uri %q", uri)
	}
}

// FormatParam renders a parameter value: strings verbatim, anything else as JSON.
func FormatParam(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// LogParams logs every entry of params, stopping at the first error.
func LogParams(ctx context.Context, run Run, params map[string]interface{}) error {
	for key, value := range params {
		if err := run.LogParam(ctx, key, value); err != nil {
			return fmt.Errorf("error logging param %s: %w", key, err)
		}
	}
	return nil
}
