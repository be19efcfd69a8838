package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/utils"
)

// Attention is causal multi-head self-attention. The four projections are
// full (d x d) Linear layers so the variant set (plain/sphere) applies to
// them uniformly; heads are row slices of the projected activations.
type Attention struct {
	H, dModel, dHead int

	Q, K, V, O *Linear

	maskCache map[int]*mat.Dense

	// forward cache
	q, k, v *mat.Dense   // (d x T)
	attnW   []*mat.Dense // per head (T x T), post softmax
}

func NewAttention(d, heads int, kind ProjectionKind, opt *Opt) (*Attention, error) {
	if d%heads != 0 {
		return nil, &ConfigurationError{Field: "NumHeads", Reason: "must divide DModel"}
	}
	a := &Attention{
		H:         heads,
		dModel:    d,
		dHead:     d / heads,
		maskCache: make(map[int]*mat.Dense),
	}
	var err error
	for _, p := range []**Linear{&a.Q, &a.K, &a.V, &a.O} {
		if *p, err = NewLinear(d, d, kind, false, opt); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Attention) Forward(X *mat.Dense) *mat.Dense {
	_, T := X.Dims()
	rescale := 1.0 / math.Sqrt(float64(a.dHead))

	mask, ok := a.maskCache[T]
	if !ok {
		mask = utils.CausalMask(T)
		a.maskCache[T] = mask
	}

	a.q = a.Q.Forward(X)
	a.k = a.K.Forward(X)
	a.v = a.V.Forward(X)
	a.attnW = make([]*mat.Dense, a.H)

	headsCat := mat.NewDense(a.dModel, T, nil)
	for h := 0; h < a.H; h++ {
		base := h * a.dHead
		qh := a.q.Slice(base, base+a.dHead, 0, T).(*mat.Dense)
		kh := a.k.Slice(base, base+a.dHead, 0, T).(*mat.Dense)
		vh := a.v.Slice(base, base+a.dHead, 0, T).(*mat.Dense)

		var s mat.Dense
		s.Mul(qh.T(), kh)
		s.Scale(rescale, &s)
		A := utils.RowSoftmaxMasked(&s, mask)
		a.attnW[h] = A

		var o mat.Dense
		o.Mul(vh, A.T())
		dst := headsCat.Slice(base, base+a.dHead, 0, T).(*mat.Dense)
		dst.Copy(&o)
	}
	return a.O.Forward(headsCat)
}

// Backward propagates dY (d x T) through the output projection, the per-head
// softmax, and the q/k/v projections, updating all four Linear layers.
func (a *Attention) Backward(dY *mat.Dense) *mat.Dense {
	_, T := dY.Dims()
	rescale := 1.0 / math.Sqrt(float64(a.dHead))

	dHeads := a.O.Backward(dY) // (d x T)

	dq := mat.NewDense(a.dModel, T, nil)
	dk := mat.NewDense(a.dModel, T, nil)
	dv := mat.NewDense(a.dModel, T, nil)

	for h := 0; h < a.H; h++ {
		base := h * a.dHead
		dO := dHeads.Slice(base, base+a.dHead, 0, T).(*mat.Dense)
		A := a.attnW[h]
		qh := a.q.Slice(base, base+a.dHead, 0, T).(*mat.Dense)
		kh := a.k.Slice(base, base+a.dHead, 0, T).(*mat.Dense)
		vh := a.v.Slice(base, base+a.dHead, 0, T).(*mat.Dense)

		// O = V A^T
		dV := utils.ToDense(utils.Dot(dO, A))          // (dHead x T)
		dA := utils.ToDense(utils.Dot(vh.T(), dO)).T() // (T x T)

		dS := utils.SoftmaxBackward(dA, A)

		// S = (Q^T K) / sqrt(dHead)
		dQh := utils.Scale(rescale, utils.Dot(kh, dS.T()))
		dKh := utils.Scale(rescale, utils.Dot(qh, dS))

		dq.Slice(base, base+a.dHead, 0, T).(*mat.Dense).Copy(utils.ToDense(dQh))
		dk.Slice(base, base+a.dHead, 0, T).(*mat.Dense).Copy(utils.ToDense(dKh))
		dv.Slice(base, base+a.dHead, 0, T).(*mat.Dense).Copy(dV)
	}

	dXq := a.Q.Backward(dq)
	dXk := a.K.Backward(dk)
	dXv := a.V.Backward(dv)
	return utils.ToDense(utils.Add(utils.Add(dXq, dXk), dXv))
}

// SetLR sets the learning rate on all four projections.
func (a *Attention) SetLR(lr float64) {
	a.Q.LearningRate = lr
	a.K.LearningRate = lr
	a.V.LearningRate = lr
	a.O.LearningRate = lr
}

// spherify rebuilds the plain projections as sphere projections in place of
// the old instances. Already-sphere and exempt projections pass through.
func (a *Attention) spherify() {
	a.Q = a.Q.Spherify()
	a.K = a.K.Spherify()
	a.V = a.V.Spherify()
	a.O = a.O.Spherify()
}
