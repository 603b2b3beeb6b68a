package pkg

import (
	"sort"
	"strconv"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/losses"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"petfinder/pkg/features"
	"petfinder/pkg/io"
	"petfinder/pkg/model"
)

// Evaluation holds the predictions of a model over a set of examples and, for labelled
// examples, its loss, accuracy and per-class metrics.
type Evaluation struct {
	Predictions []int
	Loss        float64
	Accuracy    float64
	Labelled    int
	Metrics     map[string]*stats.ClassMetrics
}

// Evaluate runs the model in inference mode over the examples, batchSize at a time.
func Evaluate(m *model.Model, examples []*io.Example, batchSize int) *Evaluation {
	e := &Evaluation{
		Predictions: make([]int, 0, len(examples)),
		Metrics:     map[string]*stats.ClassMetrics{},
	}
	data := io.NewDataSet(examples, batchSize, nil)
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))

	correct := 0
	for batch := data.Next(); len(batch) > 0; batch = data.Next() {
		logits := predict(g, m, batch)
		for i, example := range batch {
			predicted := argmax(logits[i].Value().Data())
			e.Predictions = append(e.Predictions, predicted)
			if example.Target == io.NoTarget {
				continue
			}
			e.Labelled++
			e.Loss += losses.CrossEntropy(g, logits[i], example.Target).ScalarValue()
			if predicted == example.Target {
				correct++
			}
			e.count(className(m.Transform, example.Target), className(m.Transform, predicted))
		}
		g.Clear()
	}
	if e.Labelled > 0 {
		e.Loss /= float64(e.Labelled)
		e.Accuracy = float64(correct) / float64(e.Labelled)
	}
	return e
}

func (e *Evaluation) count(label, predictedClass string) {
	labelClassMetrics, ok := e.Metrics[label]
	if !ok {
		labelClassMetrics = stats.NewMetricCounter()
		e.Metrics[label] = labelClassMetrics
	}
	predictedClassMetrics, ok := e.Metrics[predictedClass]
	if !ok {
		predictedClassMetrics = stats.NewMetricCounter()
		e.Metrics[predictedClass] = predictedClassMetrics
	}

	if label == predictedClass {
		labelClassMetrics.IncTruePos()
	} else {
		labelClassMetrics.IncFalseNeg()
		predictedClassMetrics.IncFalsePos()
	}
}

// PredictedClasses maps the predicted class indexes back to target values.
func (e *Evaluation) PredictedClasses(t *features.Transform) []string {
	result := make([]string, len(e.Predictions))
	for i, p := range e.Predictions {
		result[i] = className(t, p)
	}
	return result
}

func (e *Evaluation) LogMetrics() {
	// Sort class names for deterministic output
	for _, class := range sortClasses(e.Metrics) {
		result := e.Metrics[class]
		log.Info().Str("Class", class).
			Int("TP", result.TruePos).
			Int("FP", result.FalsePos).
			Int("TN", result.TrueNeg).
			Int("FN", result.FalseNeg).
			Float64("Precision", result.Precision()).
			Float64("Recall", result.Recall()).
			Float64("F1", result.F1Score()).
			Msg("")
	}

	macroF1, microF1 := e.F1()
	log.Info().Float64("MacroF1", macroF1).Float64("MicroF1", microF1).Msg("")
}

// F1 returns the macro and micro averaged F1 scores.
func (e *Evaluation) F1() (float64, float64) {
	if len(e.Metrics) == 0 {
		return 0, 0
	}
	macroF1 := 0.0
	for _, metric := range e.Metrics {
		macroF1 += f1Score(metric)
	}
	macroF1 /= float64(len(e.Metrics))

	micro := stats.NewMetricCounter()
	for _, result := range e.Metrics {
		micro.TruePos += result.TruePos
		micro.FalsePos += result.FalsePos
		micro.FalseNeg += result.FalseNeg
		micro.TrueNeg += result.TrueNeg
	}
	return macroF1, f1Score(micro)
}

// precision, recall and f1Score are zero instead of NaN when their denominator is zero.

func precision(m *stats.ClassMetrics) float64 {
	return safeDiv(float64(m.TruePos), float64(m.TruePos+m.FalsePos))
}

func recall(m *stats.ClassMetrics) float64 {
	return safeDiv(float64(m.TruePos), float64(m.TruePos+m.FalseNeg))
}

func f1Score(m *stats.ClassMetrics) float64 {
	p, r := precision(m), recall(m)
	return safeDiv(2*p*r, p+r)
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func sortClasses(metrics map[string]*stats.ClassMetrics) []string {
	result := make([]string, 0, len(metrics))
	for class := range metrics {
		result = append(result, class)
	}
	sort.Strings(result)
	return result
}

func className(t *features.Transform, index int) string {
	if t == nil {
		return strconv.Itoa(index)
	}
	return t.ClassName(index)
}

func predict(g *ag.Graph, m *model.Model, batch io.DataBatch) []ag.Node {
	proc := m.MLP.NewProc(g).(*model.MLPProcessor)
	proc.SetMode(nn.Inference)
	return proc.Batch(batch)
}

func argmax(data []float64) int {
	return floats.MaxIdx(data)
}
