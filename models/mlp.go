package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/utils"
)

// MLP is the two-projection GELU feed-forward. Plain MLPs carry biases;
// sphere MLPs are bias-free because their projections are.
type MLP struct {
	Hidden *Linear // (hidden x d)
	Out    *Linear // (d x hidden)

	preAct *mat.Dense
}

func NewMLP(d, hidden int, kind ProjectionKind, opt *Opt) (*MLP, error) {
	withBias := kind != SphereProjection
	h, err := NewLinear(d, hidden, kind, withBias, opt)
	if err != nil {
		return nil, err
	}
	o, err := NewLinear(hidden, d, kind, withBias, opt)
	if err != nil {
		return nil, err
	}
	return &MLP{Hidden: h, Out: o}, nil
}

func (m *MLP) Forward(X *mat.Dense) *mat.Dense {
	pre := m.Hidden.Forward(X)
	m.preAct = pre
	act := utils.ToDense(utils.Apply(utils.GeluApply, pre))
	return m.Out.Forward(act)
}

func (m *MLP) Backward(dY *mat.Dense) *mat.Dense {
	dAct := m.Out.Backward(dY)
	dPre := utils.ToDense(utils.Multiply(dAct, utils.GeluPrime(m.preAct)))
	return m.Hidden.Backward(dPre)
}

func (m *MLP) SetLR(lr float64) {
	m.Hidden.LearningRate = lr
	m.Out.LearningRate = lr
}

func (m *MLP) spherify() {
	m.Hidden = m.Hidden.Spherify()
	m.Out = m.Out.Spherify()
}
