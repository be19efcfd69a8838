package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/utils"
)

// Block is one pre-norm transformer block:
// x + attn(ln1(x)), then r + mlp(ln2(r)).
type Block struct {
	Ln1  *LayerNorm
	Attn *Attention
	Ln2  *LayerNorm
	Mlp  *MLP

	// forward cache
	lastX, res1 *mat.Dense
}

func NewBlock(cfg Config, projKind ProjectionKind, normKind NormKind, opt *Opt) (*Block, error) {
	attn, err := NewAttention(cfg.DModel, cfg.NumHeads, projKind, opt)
	if err != nil {
		return nil, err
	}
	mlp, err := NewMLP(cfg.DModel, cfg.HiddenSize, projKind, opt)
	if err != nil {
		return nil, err
	}
	return &Block{
		Ln1:  NewLayerNorm(cfg.DModel, normKind, 1e-5, opt),
		Attn: attn,
		Ln2:  NewLayerNorm(cfg.DModel, normKind, 1e-5, opt),
		Mlp:  mlp,
	}, nil
}

func (b *Block) Forward(X *mat.Dense) *mat.Dense {
	b.lastX = X
	a := b.Attn.Forward(b.Ln1.Forward(X))
	r1 := utils.ToDense(utils.Add(X, a))
	b.res1 = r1
	m := b.Mlp.Forward(b.Ln2.Forward(r1))
	return utils.ToDense(utils.Add(r1, m))
}

func (b *Block) Backward(dY *mat.Dense) *mat.Dense {
	// y = r1 + mlp(ln2(r1))
	dM := b.Mlp.Backward(dY)
	dR1 := utils.ToDense(utils.Add(dY, b.Ln2.Backward(dM)))
	// r1 = x + attn(ln1(x))
	dA := b.Attn.Backward(dR1)
	return utils.ToDense(utils.Add(dR1, b.Ln1.Backward(dA)))
}

func (b *Block) spherify() {
	b.Ln1 = b.Ln1.Spherify()
	b.Ln2 = b.Ln2.Spherify()
	b.Attn.spherify()
	b.Mlp.spherify()
}
