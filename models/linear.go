package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/optimizations"
	"github.com/ballgpt/ballgpt/utils"
)

// ProjectionKind tags a dense projection with its forward semantics. The set
// is closed: plain affine, sphere-constrained, or exempt (plain, and skipped
// by reparameterization — read-out layers that need full affine freedom).
type ProjectionKind int

const (
	PlainProjection ProjectionKind = iota
	SphereProjection
	ExemptProjection
)

func (k ProjectionKind) String() string {
	switch k {
	case PlainProjection:
		return "plain"
	case SphereProjection:
		return "sphere"
	case ExemptProjection:
		return "exempt"
	}
	return "unknown"
}

// Linear is a dense projection Y = W·X over (in x T) activations. A sphere
// projection never uses W directly: the effective weight is the row-wise
// L2-normalized copy of W, re-derived on every forward pass. The raw W stays
// unconstrained and is what the optimizer updates.
type Linear struct {
	kind    ProjectionKind
	in, out int

	W *mat.Dense // (out x in) raw parameter
	B *mat.Dense // (out x 1), nil for sphere projections

	LearningRate float64
	opt          *Opt
	fused        bool

	t      int
	mW, vW *mat.Dense
	mB, vB *mat.Dense

	// forward cache
	lastX    *mat.Dense
	unitW    *mat.Dense // sphere: row-normalized W from the last forward
	rowNorms []float64  // sphere: raw row norms from the last forward
}

// NewLinear builds one projection. Sphere projections are bias-free by
// construction: requesting a bias is a configuration error, not a deferred
// forward-pass failure.
func NewLinear(in, out int, kind ProjectionKind, withBias bool, opt *Opt) (*Linear, error) {
	if kind == SphereProjection && withBias {
		return nil, &ConfigurationError{Field: "bias", Reason: "not available on a sphere projection"}
	}
	if opt == nil {
		opt = DefaultOpt()
	}
	l := &Linear{
		kind: kind,
		in:   in,
		out:  out,
		W:    mat.NewDense(out, in, utils.RandomArray(out*in, float64(in))),
		opt:  opt,
	}
	l.mW = utils.ZerosLike(l.W)
	l.vW = utils.ZerosLike(l.W)
	if withBias {
		l.B = mat.NewDense(out, 1, nil)
		l.mB = utils.ZerosLike(l.B)
		l.vB = utils.ZerosLike(l.B)
	}
	return l, nil
}

// Kind reports the projection's capability tag.
func (l *Linear) Kind() ProjectionKind { return l.kind }

// Dims returns (in, out).
func (l *Linear) Dims() (in, out int) { return l.in, l.out }

// refreshUnit re-derives the effective weight from the raw parameter. Never
// cached across steps: the optimizer moves W in unconstrained space, the
// constraint holds only at evaluation time.
func (l *Linear) refreshUnit() {
	if l.unitW == nil {
		l.unitW = mat.NewDense(l.out, l.in, nil)
		l.rowNorms = make([]float64, l.out)
	}
	for i := 0; i < l.out; i++ {
		l.rowNorms[i] = utils.UnitVec(l.unitW.RawRowView(i), l.W.RawRowView(i))
	}
}

// EffectiveWeight returns the matrix actually used in the forward pass: the
// row-normalized W for sphere projections, W itself otherwise.
func (l *Linear) EffectiveWeight() *mat.Dense {
	if l.kind == SphereProjection {
		l.refreshUnit()
		return l.unitW
	}
	return l.W
}

// Forward computes (out x T) from (in x T).
func (l *Linear) Forward(X *mat.Dense) *mat.Dense {
	l.lastX = X
	_, T := X.Dims()
	Y := mat.NewDense(l.out, T, nil)
	switch l.kind {
	case SphereProjection:
		l.refreshUnit()
		Y.Mul(l.unitW, X)
	default:
		Y.Mul(l.W, X)
		if l.B != nil {
			if l.fused {
				utils.AddBiasInPlace(Y, l.B)
			} else {
				Y = utils.AddBias(Y, l.B)
			}
		}
	}
	return Y
}

// BackwardGradsOnly computes gradients without touching the weights. For a
// sphere projection the gradient first lands on the normalized weight, then
// is pulled back through the normalization onto the raw parameter.
func (l *Linear) BackwardGradsOnly(dY *mat.Dense) (dX, dW, dB *mat.Dense) {
	X := l.lastX
	_, T := X.Dims()
	dX = mat.NewDense(l.in, T, nil)

	if l.kind == SphereProjection {
		dUnit := mat.NewDense(l.out, l.in, nil)
		dUnit.Mul(dY, X.T())
		dW = mat.NewDense(l.out, l.in, nil)
		for i := 0; i < l.out; i++ {
			utils.UnitVecGrad(dW.RawRowView(i), dUnit.RawRowView(i), l.unitW.RawRowView(i), l.rowNorms[i])
		}
		dX.Mul(l.unitW.T(), dY)
		return dX, dW, nil
	}

	dW = mat.NewDense(l.out, l.in, nil)
	dW.Mul(dY, X.T())
	dX.Mul(l.W.T(), dY)
	if l.B != nil {
		dB = mat.NewDense(l.out, 1, nil)
		for i := 0; i < l.out; i++ {
			s := 0.0
			for t := 0; t < T; t++ {
				s += dY.At(i, t)
			}
			dB.Set(i, 0, s)
		}
	}
	return dX, dW, dB
}

// Backward computes gradients and applies the AdamW update in place.
func (l *Linear) Backward(dY *mat.Dense) *mat.Dense {
	dX, dW, dB := l.BackwardGradsOnly(dY)
	l.t++
	if l.opt.GradClip > 0 {
		optimizations.ClipGrads(l.opt.GradClip, dW, dB)
	}
	optimizations.AdamUpdateInPlace(l.W, dW, l.mW, l.vW, l.t,
		l.LearningRate, l.opt.Beta1, l.opt.Beta2, l.opt.Eps, l.opt.WeightDecay)
	if l.B != nil {
		optimizations.AdamUpdateInPlace(l.B, dB, l.mB, l.vB, l.t,
			l.LearningRate, l.opt.Beta1, l.opt.Beta2, l.opt.Eps, 0.0)
	}
	return dX
}

// density measures how spread the effective rows are: the mean inverse
// participation ratio of the unit rows, 1 for a maximally spread direction
// and 1/in for an axis-aligned one. Non-sphere projections report 0.
func (l *Linear) density() float64 {
	if l.kind != SphereProjection {
		return 0
	}
	l.refreshUnit()
	total := 0.0
	for i := 0; i < l.out; i++ {
		s4 := 0.0
		for _, u := range l.unitW.RawRowView(i) {
			s4 += u * u * u * u
		}
		if s4 > 0 {
			total += 1.0 / (float64(l.in) * s4)
		}
	}
	return total / float64(l.out)
}

// Spherify returns a sphere projection sharing this layer's raw weight. The
// bias, if any, is dropped: sphere projections are direction-only. Calling it
// on a projection that is already sphere (or exempt) returns the receiver
// unchanged, which is what makes reparameterization idempotent.
func (l *Linear) Spherify() *Linear {
	if l.kind != PlainProjection {
		return l
	}
	return &Linear{
		kind: SphereProjection,
		in:   l.in,
		out:  l.out,
		W:    l.W,
		opt:  l.opt,
		t:    l.t,
		mW:   l.mW,
		vW:   l.vW,
	}
}
