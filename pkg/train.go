package pkg

import (
	"context"
	"fmt"
	mrand "math/rand"
	"os"
	"path/filepath"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/losses"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd/adam"
	"github.com/rs/zerolog/log"

	"petfinder/pkg/features"
	"petfinder/pkg/io"
	"petfinder/pkg/model"
	"petfinder/pkg/tracking"
)

type TrainingParameters struct {
	DatasetDir       string
	HiddenLayerSizes []int
	Dropout          []float64
	NumEpochs        int
	BatchSize        int
	LearningRate     float64
	DevFraction      float64
	RndSeed          uint64
	BatchNorm        bool
	ReportInterval   int

	ExperimentName string
	TrackingURI    string
	ColumnsFile    string
	OutputDir      string
	SubmissionFile string
	ModelFile      string
}

func (p TrainingParameters) validate() error {
	if len(p.HiddenLayerSizes) != len(p.Dropout) {
		return fmt.Errorf("got %d hidden layer sizes but %d dropout ratios", len(p.HiddenLayerSizes), len(p.Dropout))
	}
	if p.NumEpochs <= 0 {
		return fmt.Errorf("number of epochs must be positive, got %d", p.NumEpochs)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", p.BatchSize)
	}
	if p.ReportInterval <= 0 {
		return fmt.Errorf("report interval must be positive, got %d", p.ReportInterval)
	}
	return nil
}

// Result summarises a completed training run.
type Result struct {
	RunID       string
	History     *History
	Dev         *Evaluation
	Predictions []string
	Model       *model.Model
}

type Trainer struct {
	params    TrainingParameters
	optimizer *gd.GradientDescent
	model     *model.Model
	rndGen    *rand.LockedRand
}

type splits struct {
	train, dev, test []*io.Example
}

// Train runs the whole pipeline: load, split, fit features, train, evaluate on the dev split,
// predict the test set and record everything in the tracker.
func Train(ctx context.Context, params TrainingParameters) (*Result, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	columns, err := features.LoadColumns(params.ColumnsFile)
	if err != nil {
		return nil, err
	}

	transform, data, err := prepareData(ctx, params, columns)
	if err != nil {
		return nil, err
	}

	config := model.ConfigFor(transform, params.HiddenLayerSizes, params.Dropout, params.BatchNorm)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	for i, col := range transform.Columns.Embedded {
		log.Info().Str("column", col).Int("size", config.EmbeddingDimensions[i]).
			Int("vocabulary", config.EmbeddingSizes[i]).Msg("Adding embedding")
	}

	rndGen := rand.NewLockedRand(params.RndSeed)
	mlp := model.NewMLP(config)
	mlp.Init(rndGen)
	m := &model.Model{Transform: transform, MLP: mlp}

	tracker, err := tracking.Open(params.TrackingURI)
	if err != nil {
		return nil, err
	}
	defer tracker.Close()

	run, err := tracker.StartRun(ctx, params.ExperimentName)
	if err != nil {
		return nil, fmt.Errorf("error starting run: %w", err)
	}
	log.Info().Str("run", run.ID()).Str("experiment", params.ExperimentName).Msg("Started run")

	result, err := runExperiment(ctx, run, params, m, data, rndGen)
	status := tracking.Finished
	if err != nil {
		status = tracking.Failed
	}
	// the run is closed even when ctx was cancelled
	if endErr := run.End(context.WithoutCancel(ctx), status); endErr != nil {
		log.Error().Err(endErr).Str("run", run.ID()).Str("status", string(status)).Msg("Error ending run")
		if err == nil {
			err = fmt.Errorf("error ending run: %w", endErr)
		}
	}
	if err != nil {
		return nil, err
	}
	result.RunID = run.ID()
	log.Info().Msg("All operations completed")
	return result, nil
}

func prepareData(ctx context.Context, params TrainingParameters, columns features.Columns) (*features.Transform, *splits, error) {
	dataset, err := io.LoadDataset(ctx, params.DatasetDir)
	if err != nil {
		return nil, nil, err
	}
	io.LogDataErrors(io.TrainFileName, dataset.TrainErrors)
	io.LogDataErrors(io.TestFileName, dataset.TestErrors)

	trainRows, devRows, err := io.SplitIndices(dataset.Train.Len(), params.DevFraction,
		mrand.New(mrand.NewSource(int64(params.RndSeed))))
	if err != nil {
		return nil, nil, err
	}
	trainFrame := dataset.Train.Subset(trainRows)
	devFrame := dataset.Train.Subset(devRows)

	// rows rejected by Fit are rejected again, and logged, when the train split is transformed
	transform, dataErrors, err := features.Fit(trainFrame, columns)
	if err != nil {
		io.LogDataErrors(io.TrainFileName, dataErrors)
		return nil, nil, fmt.Errorf("error fitting features: %w", err)
	}

	data := &splits{}
	if data.train, err = applyTransform(transform, trainFrame, true, io.TrainFileName); err != nil {
		return nil, nil, err
	}
	if data.dev, err = applyTransform(transform, devFrame, true, io.TrainFileName); err != nil {
		return nil, nil, err
	}
	if data.test, err = applyTransform(transform, dataset.Test, false, io.TestFileName); err != nil {
		return nil, nil, err
	}
	if len(data.train) == 0 {
		return nil, nil, fmt.Errorf("no data to train")
	}
	log.Info().Int("train", len(data.train)).Int("dev", len(data.dev)).Int("test", len(data.test)).
		Int("directFeatures", transform.DirectSize()).Int("labels", transform.NumLabels()).Msg("Prepared features")
	return transform, data, nil
}

func applyTransform(t *features.Transform, f *io.Frame, labelled bool, source string) ([]*io.Example, error) {
	examples, dataErrors, err := t.Apply(f, labelled)
	if err != nil {
		return nil, fmt.Errorf("error processing %s: %w", source, err)
	}
	io.LogDataErrors(source, dataErrors)
	return examples, nil
}

func logParams(ctx context.Context, run tracking.Run, params TrainingParameters, t *features.Transform) error {
	embedded := map[string]int{}
	for i, col := range t.Columns.Embedded {
		embedded[col] = t.EmbeddingSizes[i]
	}
	oneHot := map[string]int{}
	for i, col := range t.Columns.OneHot {
		oneHot[col] = t.OneHotSizes[i]
	}
	return tracking.LogParams(ctx, run, map[string]interface{}{
		"hidden_layer_size": params.HiddenLayerSizes,
		"embedded_columns":  embedded,
		"one_hot_columns":   oneHot,
		"numerical_columns": t.Columns.Numeric,
		"epochs":            params.NumEpochs,
		"Dropout":           params.Dropout,
		"batch_size":        params.BatchSize,
		"learning_rate":     params.LearningRate,
		"batch_norm":        params.BatchNorm,
		"random_seed":       params.RndSeed,
	})
}

func runExperiment(ctx context.Context, run tracking.Run, params TrainingParameters, m *model.Model,
	data *splits, rndGen *rand.LockedRand) (*Result, error) {

	if err := logParams(ctx, run, params, m.Transform); err != nil {
		return nil, err
	}

	t := &Trainer{params: params, model: m, rndGen: rndGen}
	updaterConfig := adam.NewDefaultConfig()
	updaterConfig.StepSize = params.LearningRate
	t.optimizer = gd.NewOptimizer(adam.New(updaterConfig), nn.NewDefaultParamsIterator(m.MLP))

	history, err := t.fit(ctx, run, data.train, data.dev)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(params.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}
	plots, err := history.Plot(params.OutputDir)
	if err != nil {
		return nil, err
	}
	for _, plotFile := range plots {
		if err := run.LogArtifact(ctx, plotFile); err != nil {
			return nil, fmt.Errorf("error logging artifact %s: %w", plotFile, err)
		}
	}

	result := &Result{History: history, Model: m}
	if len(data.dev) > 0 {
		result.Dev = Evaluate(m, data.dev, params.BatchSize)
		result.Dev.LogMetrics()
		log.Info().Float64("loss", result.Dev.Loss).Float64("accuracy", result.Dev.Accuracy).Msg("Dev evaluation")
		if err := run.LogMetric(ctx, "loss", result.Dev.Loss, 0); err != nil {
			return nil, err
		}
		if err := run.LogMetric(ctx, "accuracy", result.Dev.Accuracy, 0); err != nil {
			return nil, err
		}
		macroF1, microF1 := result.Dev.F1()
		if err := run.LogMetric(ctx, "macro_f1", macroF1, 0); err != nil {
			return nil, err
		}
		if err := run.LogMetric(ctx, "micro_f1", microF1, 0); err != nil {
			return nil, err
		}
	}

	test := Evaluate(m, data.test, params.BatchSize)
	result.Predictions = test.PredictedClasses(m.Transform)
	if err := writeSubmission(params.SubmissionFile, m.Transform, data.test, result.Predictions); err != nil {
		return nil, err
	}
	if err := run.LogArtifact(ctx, params.SubmissionFile); err != nil {
		return nil, fmt.Errorf("error logging submission: %w", err)
	}
	log.Info().Int("predictions", len(result.Predictions)).Str("file", params.SubmissionFile).Msg("Wrote submission")

	if params.ModelFile != "" {
		if err := saveModel(m, params.ModelFile); err != nil {
			return nil, err
		}
		if err := run.LogArtifact(ctx, params.ModelFile); err != nil {
			return nil, fmt.Errorf("error logging model: %w", err)
		}
	}
	return result, nil
}

// fit trains for the configured number of epochs, shuffling the training examples before each one.
func (t *Trainer) fit(ctx context.Context, run tracking.Run, train, dev []*io.Example) (*History, error) {
	history := &History{}
	data := io.NewDataSet(train, t.params.BatchSize, mrand.New(mrand.NewSource(int64(t.params.RndSeed))))

	for epoch := 0; epoch < t.params.NumEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.optimizer.IncEpoch()
		data.ResetOrder(io.RandomOrder)

		totalLoss, correct := 0.0, 0
		for i, batch := 0, data.Next(); len(batch) > 0; i, batch = i+1, data.Next() {
			loss, batchCorrect := t.trainBatch(batch)
			t.optimizer.Optimize()
			totalLoss += loss * float64(len(batch))
			correct += batchCorrect
			if i%t.params.ReportInterval == 0 {
				log.Debug().Int("epoch", epoch).Int("batch", i).Float64("loss", loss).Msg("")
			}
		}

		entry := HistoryEntry{
			Epoch:    epoch,
			Loss:     totalLoss / float64(data.Size()),
			Accuracy: float64(correct) / float64(data.Size()),
		}
		if len(dev) > 0 {
			devEval := Evaluate(t.model, dev, t.params.BatchSize)
			entry.ValLoss, entry.ValAccuracy = devEval.Loss, devEval.Accuracy
			entry.HasValidation = true
		}
		history.Add(entry)
		if err := entry.log(ctx, run); err != nil {
			return nil, err
		}
	}
	return history, nil
}

func (t *Trainer) trainBatch(batch io.DataBatch) (float64, int) {
	t.optimizer.IncBatch()

	g := ag.NewGraph(ag.Rand(t.rndGen))
	defer g.Clear()
	proc := t.model.MLP.NewProc(g).(*model.MLPProcessor)
	logits := proc.Batch(batch)

	var loss ag.Node
	correct := 0
	for i := range batch {
		exampleLoss := losses.CrossEntropy(g, logits[i], batch[i].Target)
		if loss == nil {
			loss = exampleLoss
		} else {
			loss = g.Add(loss, exampleLoss)
		}
		if argmax(logits[i].Value().Data()) == batch[i].Target {
			correct++
		}
	}
	loss = g.Div(loss, g.NewScalar(float64(len(batch))))

	g.Backward(loss)
	return loss.ScalarValue(), correct
}

func writeSubmission(fileName string, t *features.Transform, examples []*io.Example, predictions []string) error {
	if dir := filepath.Dir(fileName); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating submission directory: %w", err)
		}
	}
	outputFile, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error creating submission file %s: %w", fileName, err)
	}
	defer outputFile.Close()

	ids := make([]string, len(examples))
	for i, e := range examples {
		ids[i] = e.ID
	}
	if err := io.WriteSubmission(outputFile, t.Columns.ID, t.Columns.Target, ids, predictions); err != nil {
		return fmt.Errorf("error writing submission file %s: %w", fileName, err)
	}
	return nil
}

func saveModel(m *model.Model, fileName string) error {
	outputFile, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error creating model file %s: %w", fileName, err)
	}
	defer outputFile.Close()
	if err := model.Save(m, outputFile); err != nil {
		return fmt.Errorf("error saving model to %s: %w", fileName, err)
	}
	return nil
}
