package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/optimizations"
	"github.com/ballgpt/ballgpt/utils"
)

// Embedding maps token ids to (d x T) activations: token column plus a
// learned positional column. Embeddings are never sphere-reparameterized.
type Embedding struct {
	d, vocab, seqLen int

	W   *mat.Dense // (d x V), one column per token
	Pos *mat.Dense // (d x SeqLen), one column per position

	LearningRate float64
	opt          *Opt

	t          int
	mW, vW     *mat.Dense
	mPos, vPos *mat.Dense

	lastIDs []int
}

func NewEmbedding(d, vocab, seqLen int, opt *Opt) *Embedding {
	if opt == nil {
		opt = DefaultOpt()
	}
	e := &Embedding{
		d:      d,
		vocab:  vocab,
		seqLen: seqLen,
		W:      mat.NewDense(d, vocab, utils.RandomArray(d*vocab, float64(d))),
		Pos:    mat.NewDense(d, seqLen, utils.RandomArray(d*seqLen, float64(d))),
		opt:    opt,
	}
	e.mW = utils.ZerosLike(e.W)
	e.vW = utils.ZerosLike(e.W)
	e.mPos = utils.ZerosLike(e.Pos)
	e.vPos = utils.ZerosLike(e.Pos)
	return e
}

// Forward embeds ids into (d x T).
func (e *Embedding) Forward(ids []int) *mat.Dense {
	T := len(ids)
	if T > e.seqLen {
		panic(fmt.Sprintf("models: sequence length %d exceeds maximum %d", T, e.seqLen))
	}
	X := mat.NewDense(e.d, T, nil)
	for t, id := range ids {
		if id < 0 || id >= e.vocab {
			panic(fmt.Sprintf("models: token id %d outside vocab [0, %d)", id, e.vocab))
		}
		for i := 0; i < e.d; i++ {
			X.Set(i, t, e.W.At(i, id)+e.Pos.At(i, t))
		}
	}
	e.lastIDs = ids
	return X
}

// Backward scatters dX into token and position gradients and updates both
// tables with AdamW. Weight decay is not applied to embeddings.
func (e *Embedding) Backward(dX *mat.Dense) {
	dW := utils.ZerosLike(e.W)
	dPos := utils.ZerosLike(e.Pos)
	for t, id := range e.lastIDs {
		for i := 0; i < e.d; i++ {
			g := dX.At(i, t)
			dW.Set(i, id, dW.At(i, id)+g)
			dPos.Set(i, t, dPos.At(i, t)+g)
		}
	}
	e.t++
	if e.opt.GradClip > 0 {
		optimizations.ClipGrads(e.opt.GradClip, dW, dPos)
	}
	optimizations.AdamUpdateInPlace(e.W, dW, e.mW, e.vW, e.t,
		e.LearningRate, e.opt.Beta1, e.opt.Beta2, e.opt.Eps, 0.0)
	optimizations.AdamUpdateInPlace(e.Pos, dPos, e.mPos, e.vPos, e.t,
		e.LearningRate, e.opt.Beta1, e.opt.Beta2, e.opt.Eps, 0.0)
}
