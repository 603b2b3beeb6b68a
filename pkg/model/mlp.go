package model

import (
	"fmt"

	"github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/batchnorm"

	"petfinder/pkg/io"
)

var (
	_ nn.Model     = &MLP{}
	_ nn.Processor = &MLPProcessor{}
)

type MLPConfig struct {
	HiddenLayerSizes []int
	Dropout          []float64

	// BatchNorm normalises the concatenated input before the first hidden layer
	BatchNorm bool

	// The following are only known after fitting the features
	DirectSize          int
	EmbeddingSizes      []int
	EmbeddingDimensions []int
	NumLabels           int
}

func (c MLPConfig) Validate() error {
	if len(c.HiddenLayerSizes) != len(c.Dropout) {
		return fmt.Errorf("got %d hidden layer sizes but %d dropout ratios", len(c.HiddenLayerSizes), len(c.Dropout))
	}
	for i, size := range c.HiddenLayerSizes {
		if size <= 0 {
			return fmt.Errorf("hidden layer %d has invalid size %d", i, size)
		}
	}
	for i, p := range c.Dropout {
		if p < 0 || p >= 1 {
			return fmt.Errorf("dropout ratio %v of layer %d must be in [0, 1)", p, i)
		}
	}
	if len(c.EmbeddingSizes) != len(c.EmbeddingDimensions) {
		return fmt.Errorf("got %d embedding sizes but %d embedding dimensions", len(c.EmbeddingSizes), len(c.EmbeddingDimensions))
	}
	if c.NumLabels < 2 {
		return fmt.Errorf("at least two target classes are required, got %d", c.NumLabels)
	}
	return nil
}

// InputSize is the width of the concatenated embedding vectors and direct features.
func (c MLPConfig) InputSize() int {
	size := c.DirectSize
	for _, d := range c.EmbeddingDimensions {
		size += d
	}
	return size
}

// MLP is a feed-forward classifier over embedded categorical columns and direct features.
type MLP struct {
	MLPConfig
	Embeddings  []*Embedding
	InputNorm   *batchnorm.Model
	Hidden      []*linear.Model
	OutputLayer *linear.Model
}

const (
	inputNormMomentum = 0.9
	inputNormEpsilon  = 1e-5
)

func NewMLP(config MLPConfig) *MLP {
	embeddings := make([]*Embedding, len(config.EmbeddingSizes))
	for i := range embeddings {
		embeddings[i] = NewEmbedding(config.EmbeddingSizes[i], config.EmbeddingDimensions[i])
	}
	hidden := make([]*linear.Model, len(config.HiddenLayerSizes))
	in := config.InputSize()
	for i, out := range config.HiddenLayerSizes {
		hidden[i] = linear.New(in, out)
		in = out
	}
	inputNorm := batchnorm.NewWithMomentum(config.InputSize(), inputNormMomentum)
	inputNorm.StdDev.ReplaceValue(mat.NewInitVecDense(config.InputSize(), 1.0))
	return &MLP{
		MLPConfig:   config,
		Embeddings:  embeddings,
		InputNorm:   inputNorm,
		Hidden:      hidden,
		OutputLayer: linear.New(in, config.NumLabels),
	}
}

func (m *MLP) Init(generator *rand.LockedRand) {
	for _, e := range m.Embeddings {
		e.Init(generator)
	}
	reluGain := initializers.Gain(ag.OpReLU)
	for _, l := range m.Hidden {
		initializers.XavierUniform(l.W.Value(), reluGain, generator)
	}
	initializers.XavierUniform(m.OutputLayer.W.Value(), initializers.Gain(ag.OpIdentity), generator)
}

type MLPProcessor struct {
	nn.BaseProcessor
	model                *MLP
	embeddingProcessors  []*EmbeddingProcessor
	hiddenProcessors     []nn.Processor
	outputLayerProcessor nn.Processor
}

func (m *MLP) NewProc(g *ag.Graph) nn.Processor {
	embeddingProcessors := make([]*EmbeddingProcessor, len(m.Embeddings))
	for i, e := range m.Embeddings {
		embeddingProcessors[i] = e.NewProc(g).(*EmbeddingProcessor)
	}
	hiddenProcessors := make([]nn.Processor, len(m.Hidden))
	for i, l := range m.Hidden {
		hiddenProcessors[i] = l.NewProc(g)
	}
	return &MLPProcessor{
		BaseProcessor: nn.BaseProcessor{
			Model:             m,
			Mode:              nn.Training,
			Graph:             g,
			FullSeqProcessing: m.BatchNorm,
		},
		model:                m,
		embeddingProcessors:  embeddingProcessors,
		hiddenProcessors:     hiddenProcessors,
		outputLayerProcessor: m.OutputLayer.NewProc(g),
	}
}

func (p *MLPProcessor) SetMode(mode nn.ProcessingMode) {
	p.Mode = mode
	for _, e := range p.embeddingProcessors {
		e.SetMode(mode)
	}
	nn.SetProcessingMode(mode, p.hiddenProcessors...)
	p.outputLayerProcessor.SetMode(mode)
}

// Input concatenates the embedding vectors of the example, in column order, with its direct features.
func (p *MLPProcessor) Input(example *io.Example) ag.Node {
	g := p.Graph
	parts := make([]ag.Node, 0, len(example.Embedded)+1)
	for i, index := range example.Embedded {
		parts = append(parts, p.embeddingProcessors[i].Encode(index))
	}
	parts = append(parts, g.NewVariable(example.Direct, false))
	return g.Concat(parts...)
}

// Forward returns the unnormalised class scores of each input.
func (p *MLPProcessor) Forward(xs ...ag.Node) []ag.Node {
	g := p.Graph
	ys := xs
	if p.model.BatchNorm {
		ys = p.normalise(ys)
	}
	for i, layer := range p.hiddenProcessors {
		ys = layer.Forward(ys...)
		for k := range ys {
			ys[k] = g.ReLU(ys[k])
			if p.Mode == nn.Training && p.model.Dropout[i] > 0 {
				ys[k] = g.Dropout(ys[k], p.model.Dropout[i])
			}
		}
	}
	return p.outputLayerProcessor.Forward(ys...)
}

// normalise applies batch normalisation to the inputs. In training the batch
// statistics are used and folded into the running ones, in inference only the
// running statistics are.
func (p *MLPProcessor) normalise(xs []ag.Node) []ag.Node {
	g := p.Graph
	norm := p.model.InputNorm
	var mean, dev ag.Node
	if p.Mode == nn.Training {
		mean, dev = p.batchStatistics(xs)
		momentum := norm.Momentum.Value().Scalar()
		norm.Mean.ReplaceValue(norm.Mean.Value().ProdScalar(momentum).Add(mean.Value().ProdScalar(1 - momentum)))
		norm.StdDev.ReplaceValue(norm.StdDev.Value().ProdScalar(momentum).Add(dev.Value().ProdScalar(1 - momentum)))
	} else {
		mean = g.NewWrapNoGrad(norm.Mean)
		dev = g.NewWrapNoGrad(norm.StdDev)
	}
	scale := g.Div(g.NewWrap(norm.W), dev)
	bias := g.NewWrap(norm.B)
	ys := make([]ag.Node, len(xs))
	for i, x := range xs {
		ys[i] = g.Add(g.Prod(g.Sub(x, mean), scale), bias)
	}
	return ys
}

// batchStatistics returns the mean and the deviation of the batch. The
// deviation is sqrt(variance + eps) so a constant column never divides by zero.
func (p *MLPProcessor) batchStatistics(xs []ag.Node) (mean, dev ag.Node) {
	g := p.Graph
	n := g.NewScalar(float64(len(xs)))
	mean = xs[0]
	for _, x := range xs[1:] {
		mean = g.Add(mean, x)
	}
	mean = g.DivScalar(mean, n)
	variance := g.Square(g.Sub(xs[0], mean))
	for _, x := range xs[1:] {
		variance = g.Add(variance, g.Square(g.Sub(x, mean)))
	}
	variance = g.DivScalar(variance, n)
	return mean, g.Sqrt(g.AddScalar(variance, g.NewScalar(inputNormEpsilon)))
}

// Batch builds the inputs of a batch and runs them through the network.
func (p *MLPProcessor) Batch(batch io.DataBatch) []ag.Node {
	input := make([]ag.Node, len(batch))
	for i, example := range batch {
		input[i] = p.Input(example)
	}
	return p.Forward(input...)
}
