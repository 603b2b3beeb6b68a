package model

import (
	"github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

var (
	_ nn.Model     = &Embedding{}
	_ nn.Processor = &EmbeddingProcessor{}
)

// Embedding is a lookup table of trainable vectors, one per category value.
type Embedding struct {
	Dimension int
	Vectors   []*nn.Param
}

const embeddingInitRange = 0.05

func NewEmbedding(size, dimension int) *Embedding {
	vectors := make([]*nn.Param, size)
	for i := range vectors {
		vectors[i] = nn.NewParam(mat.NewEmptyVecDense(dimension))
	}
	return &Embedding{Dimension: dimension, Vectors: vectors}
}

func (m *Embedding) Init(generator *rand.LockedRand) {
	for _, v := range m.Vectors {
		initializers.Uniform(v.Value(), -embeddingInitRange, embeddingInitRange, generator)
	}
}

type EmbeddingProcessor struct {
	nn.BaseProcessor
	vectors []*nn.Param
}

func (m *Embedding) NewProc(g *ag.Graph) nn.Processor {
	return &EmbeddingProcessor{
		BaseProcessor: nn.BaseProcessor{
			Model:             m,
			Mode:              nn.Training,
			Graph:             g,
			FullSeqProcessing: false,
		},
		vectors: m.Vectors,
	}
}

func (p *EmbeddingProcessor) Forward(xs ...ag.Node) []ag.Node {
	panic("Forward not implemented... please use Encode instead")
}

// Encode returns the graph node of the vector at index.
func (p *EmbeddingProcessor) Encode(index int) ag.Node {
	return p.Graph.NewWrap(p.vectors[index])
}
