package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/metrics"
	"github.com/ballgpt/ballgpt/utils"
)

// LM is the language model: embedding, pre-norm blocks, a final norm, and an
// exempt read-out projection. Which projection/norm variants the tree uses is
// fixed at construction.
type LM struct {
	Cfg Config

	Emb       *Embedding
	Blocks    []*Block
	FinalNorm *LayerNorm
	Head      *Linear // exempt: keeps full affine freedom

	opt    *Opt
	sphere bool
}

// New builds the base variant: plain projections and norms throughout.
func New(cfg Config) (*LM, error) {
	return build(cfg, PlainProjection, PlainNorm)
}

func build(cfg Config, projKind ProjectionKind, normKind NormKind) (*LM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opt := DefaultOpt()

	blocks := make([]*Block, cfg.NumLayers)
	for i := range blocks {
		b, err := NewBlock(cfg, projKind, normKind, opt)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	head, err := NewLinear(cfg.DModel, cfg.VocabSize, ExemptProjection, true, opt)
	if err != nil {
		return nil, err
	}
	head.fused = cfg.Fused

	return &LM{
		Cfg:       cfg,
		Emb:       NewEmbedding(cfg.DModel, cfg.VocabSize, cfg.SeqLen, opt),
		Blocks:    blocks,
		FinalNorm: NewLayerNorm(cfg.DModel, normKind, 1e-5, opt),
		Head:      head,
		opt:       opt,
		sphere:    projKind == SphereProjection,
	}, nil
}

// Variant reports the registry tag this model answers to.
func (m *LM) Variant() string {
	if m.sphere {
		return "ball"
	}
	return "base"
}

// Optimizer exposes the shared optimizer settings all layers read.
func (m *LM) Optimizer() *Opt { return m.opt }

// Forward runs one sequence of token ids and returns logits (V x T).
func (m *LM) Forward(ids []int) *mat.Dense {
	X := m.Emb.Forward(ids)
	for _, b := range m.Blocks {
		X = b.Forward(X)
	}
	X = m.FinalNorm.Forward(X)
	return m.Head.Forward(X)
}

// LogProbsSeq runs one sequence and returns column-normalized
// log-probabilities (V x T).
func (m *LM) LogProbsSeq(ids []int) *mat.Dense {
	return utils.LogSoftmaxCols(m.Forward(ids))
}

// LogProbsBatch runs every sequence of a rectangular batch and packs the
// results into a [B, T, V] tensor for the metrics engine.
func (m *LM) LogProbsBatch(inputs [][]int) (*metrics.LogProbs, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("models: empty batch")
	}
	T := len(inputs[0])
	for i, seq := range inputs {
		if len(seq) != T {
			return nil, fmt.Errorf("models: ragged batch: sequence %d has %d tokens, want %d", i, len(seq), T)
		}
	}
	lp := metrics.NewLogProbs(len(inputs), T, m.Cfg.VocabSize)
	col := make([]float64, m.Cfg.VocabSize)
	for b, seq := range inputs {
		logp := m.LogProbsSeq(seq)
		for t := 0; t < T; t++ {
			for v := 0; v < m.Cfg.VocabSize; v++ {
				col[v] = logp.At(v, t)
			}
			lp.SetRow(b, t, col)
		}
	}
	return lp, nil
}

// Backward takes the loss gradient w.r.t. the logits of the last Forward
// (V x T) and updates every layer.
func (m *LM) Backward(dLogits *mat.Dense) {
	dX := m.Head.Backward(dLogits)
	dX = m.FinalNorm.Backward(dX)
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		dX = m.Blocks[i].Backward(dX)
	}
	m.Emb.Backward(dX)
}

// SetLearningRates distributes per-module learning rates. The trainer calls
// this every step with scheduled values.
func (m *LM) SetLearningRates(attn, mlp, norm, head, emb float64) {
	for _, b := range m.Blocks {
		b.Attn.SetLR(attn)
		b.Mlp.SetLR(mlp)
		b.Ln1.LearningRate = norm
		b.Ln2.LearningRate = norm
	}
	m.FinalNorm.LearningRate = norm
	m.Head.LearningRate = head
	m.Emb.LearningRate = emb
}

// Generate extends prefix by up to maxTokens ids sampled from the model with
// top-k / nucleus filtering. stopID ends generation early (pass -1 to
// disable).
func (m *LM) Generate(prefix []int, maxTokens, topK int, topP float64, stopID int) []int {
	out := append([]int(nil), prefix...)
	for i := 0; i < maxTokens; i++ {
		start := 0
		if len(out) > m.Cfg.SeqLen {
			start = len(out) - m.Cfg.SeqLen
		}
		logits := m.Forward(out[start:])
		probs := utils.ColVectorSoftmax(utils.LastCol(logits))
		id := utils.SampleFromProbs(probs, topK, topP)
		if id == stopID {
			break
		}
		out = append(out, id)
	}
	return out
}

// NamedParam pairs a raw parameter tensor with its tree path.
type NamedParam struct {
	Name  string
	Value *mat.Dense
}

// Params lists every raw learnable tensor in tree order. Sphere layers expose
// their unconstrained raw parameters here, which is exactly what a checkpoint
// should carry.
func (m *LM) Params() []NamedParam {
	ps := []NamedParam{
		{"emb.tok", m.Emb.W},
		{"emb.pos", m.Emb.Pos},
	}
	for i, b := range m.Blocks {
		pre := fmt.Sprintf("blocks.%d.", i)
		ps = append(ps,
			NamedParam{pre + "ln1.gamma", b.Ln1.Gamma},
			NamedParam{pre + "ln1.beta", b.Ln1.Beta},
			NamedParam{pre + "attn.q", b.Attn.Q.W},
			NamedParam{pre + "attn.k", b.Attn.K.W},
			NamedParam{pre + "attn.v", b.Attn.V.W},
			NamedParam{pre + "attn.o", b.Attn.O.W},
			NamedParam{pre + "ln2.gamma", b.Ln2.Gamma},
			NamedParam{pre + "ln2.beta", b.Ln2.Beta},
			NamedParam{pre + "mlp.hidden", b.Mlp.Hidden.W},
			NamedParam{pre + "mlp.out", b.Mlp.Out.W},
		)
		if b.Mlp.Hidden.B != nil {
			ps = append(ps, NamedParam{pre + "mlp.hidden.bias", b.Mlp.Hidden.B})
		}
		if b.Mlp.Out.B != nil {
			ps = append(ps, NamedParam{pre + "mlp.out.bias", b.Mlp.Out.B})
		}
	}
	ps = append(ps,
		NamedParam{"final.gamma", m.FinalNorm.Gamma},
		NamedParam{"final.beta", m.FinalNorm.Beta},
		NamedParam{"head", m.Head.W},
	)
	if m.Head.B != nil {
		ps = append(ps, NamedParam{"head.bias", m.Head.B})
	}
	return ps
}
