package pkg

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"petfinder/pkg/tracking"
)

type HistoryEntry struct {
	Epoch         int
	Loss          float64
	Accuracy      float64
	HasValidation bool
	ValLoss       float64
	ValAccuracy   float64
}

func (e HistoryEntry) log(ctx context.Context, run tracking.Run) error {
	event := log.Info().Int("epoch", e.Epoch).Float64("loss", e.Loss).Float64("accuracy", e.Accuracy)
	metrics := map[string]float64{"train_loss": e.Loss, "train_accuracy": e.Accuracy}
	if e.HasValidation {
		event = event.Float64("val_loss", e.ValLoss).Float64("val_accuracy", e.ValAccuracy)
		metrics["val_loss"] = e.ValLoss
		metrics["val_accuracy"] = e.ValAccuracy
	}
	event.Msg("Epoch finished")
	for key, value := range metrics {
		if err := run.LogMetric(ctx, key, value, e.Epoch); err != nil {
			return fmt.Errorf("error logging metric %s: %w", key, err)
		}
	}
	return nil
}

// History collects the per-epoch training curves.
type History struct {
	Entries []HistoryEntry
}

func (h *History) Add(entry HistoryEntry) {
	h.Entries = append(h.Entries, entry)
}

func (h *History) series(value func(HistoryEntry) float64, validation bool) plotter.XYs {
	var xys plotter.XYs
	for _, e := range h.Entries {
		if validation && !e.HasValidation {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(e.Epoch), Y: value(e)})
	}
	return xys
}

const (
	LossPlotFile     = "loss.png"
	AccuracyPlotFile = "accuracy.png"
)

// Plot draws the loss and accuracy curves into dir and returns the written files.
func (h *History) Plot(dir string) ([]string, error) {
	loss := func(e HistoryEntry) float64 { return e.Loss }
	valLoss := func(e HistoryEntry) float64 { return e.ValLoss }
	accuracy := func(e HistoryEntry) float64 { return e.Accuracy }
	valAccuracy := func(e HistoryEntry) float64 { return e.ValAccuracy }

	lossFile := filepath.Join(dir, LossPlotFile)
	err := h.plot(lossFile, "Loss",
		"Loss", h.series(loss, false),
		"Validation Loss", h.series(valLoss, true))
	if err != nil {
		return nil, err
	}
	accuracyFile := filepath.Join(dir, AccuracyPlotFile)
	err = h.plot(accuracyFile, "Accuracy",
		"Validation Accuracy", h.series(valAccuracy, true),
		"Accuracy", h.series(accuracy, false))
	if err != nil {
		return nil, err
	}
	return []string{lossFile, accuracyFile}, nil
}

// plot takes alternating line names and point series; empty series are left out.
func (h *History) plot(fileName, yLabel string, lines ...interface{}) error {
	p, err := plot.New()
	if err != nil {
		return fmt.Errorf("error creating plot: %w", err)
	}
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true

	var nonEmpty []interface{}
	for i := 0; i+1 < len(lines); i += 2 {
		if xys, ok := lines[i+1].(plotter.XYs); ok && len(xys) > 0 {
			nonEmpty = append(nonEmpty, lines[i], xys)
		}
	}
	if err := plotutil.AddLinePoints(p, nonEmpty...); err != nil {
		return fmt.Errorf("error adding lines to plot: %w", err)
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fileName); err != nil {
		return fmt.Errorf("error saving plot %s: %w", fileName, err)
	}
	return nil
}
