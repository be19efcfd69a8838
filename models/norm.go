package models

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ballgpt/ballgpt/optimizations"
	"github.com/ballgpt/ballgpt/utils"
)

// NormKind tags a normalization layer's forward semantics.
type NormKind int

const (
	PlainNorm NormKind = iota
	SphereNorm
)

func (k NormKind) String() string {
	if k == SphereNorm {
		return "sphere"
	}
	return "plain"
}

// LayerNorm normalizes each (d x 1) column of its input and applies an affine
// transform. A plain norm uses the raw gamma/beta directly. A sphere norm
// derives both fresh on every forward pass: scale = unit(gamma)·sqrt(d), so a
// unit-scale layer keeps the output magnitude a plain norm would produce, and
// bias = unit(beta). Raw parameters stay unconstrained for the optimizer.
type LayerNorm struct {
	kind NormKind
	d    int
	eps  float64

	Gamma *mat.Dense // (d x 1) raw
	Beta  *mat.Dense // (d x 1) raw

	LearningRate float64
	opt          *Opt

	t      int
	mG, vG *mat.Dense
	mB, vB *mat.Dense

	// forward cache
	lastX  *mat.Dense
	xhat   *mat.Dense
	invStd []float64
	// sphere cache: unit copies and raw norms from the last forward
	unitG, unitB []float64
	gNorm, bNorm float64
}

// NewLayerNorm builds a normalization layer with gamma=1, beta=0.
func NewLayerNorm(d int, kind NormKind, eps float64, opt *Opt) *LayerNorm {
	if opt == nil {
		opt = DefaultOpt()
	}
	g := mat.NewDense(d, 1, nil)
	for i := 0; i < d; i++ {
		g.Set(i, 0, 1.0)
	}
	return &LayerNorm{
		kind:  kind,
		d:     d,
		eps:   eps,
		Gamma: g,
		Beta:  mat.NewDense(d, 1, nil),
		opt:   opt,
		mG:    mat.NewDense(d, 1, nil),
		vG:    mat.NewDense(d, 1, nil),
		mB:    mat.NewDense(d, 1, nil),
		vB:    mat.NewDense(d, 1, nil),
	}
}

// Kind reports the norm's capability tag.
func (ln *LayerNorm) Kind() NormKind { return ln.kind }

// colData views a (d x 1) column as a flat slice.
func colData(m *mat.Dense) []float64 { return m.RawMatrix().Data }

// effective returns the scale and bias the forward pass actually uses.
func (ln *LayerNorm) effective() (scale, bias []float64) {
	g := colData(ln.Gamma)
	b := colData(ln.Beta)
	if ln.kind == PlainNorm {
		return g, b
	}
	if ln.unitG == nil {
		ln.unitG = make([]float64, ln.d)
		ln.unitB = make([]float64, ln.d)
	}
	ln.gNorm = utils.UnitVec(ln.unitG, g)
	ln.bNorm = utils.UnitVec(ln.unitB, b)
	scale = make([]float64, ln.d)
	root := math.Sqrt(float64(ln.d))
	for i, u := range ln.unitG {
		scale[i] = u * root
	}
	return scale, ln.unitB
}

// Forward normalizes each column of X (d x T).
func (ln *LayerNorm) Forward(X *mat.Dense) *mat.Dense {
	d, T := X.Dims()
	if d != ln.d {
		panic("models: LayerNorm dimension mismatch")
	}
	scale, bias := ln.effective()
	out := mat.NewDense(d, T, nil)
	xhat := mat.NewDense(d, T, nil)
	inv := make([]float64, T)
	for t := 0; t < T; t++ {
		mu := 0.0
		for i := 0; i < d; i++ {
			mu += X.At(i, t)
		}
		mu /= float64(d)
		var v float64
		for i := 0; i < d; i++ {
			diff := X.At(i, t) - mu
			v += diff * diff
		}
		v /= float64(d)
		istd := 1.0 / math.Sqrt(v+ln.eps)
		inv[t] = istd
		for i := 0; i < d; i++ {
			n := (X.At(i, t) - mu) * istd
			xhat.Set(i, t, n)
			out.Set(i, t, scale[i]*n+bias[i])
		}
	}
	ln.lastX = X
	ln.xhat = xhat
	ln.invStd = inv
	return out
}

// BackwardGradsOnly computes dX and raw-parameter gradients without updating.
// For a sphere norm the affine gradients land on the effective scale/bias and
// are pulled back through the vector normalization onto the raw gamma/beta.
func (ln *LayerNorm) BackwardGradsOnly(dY *mat.Dense) (dX, dGamma, dBeta *mat.Dense) {
	d, T := dY.Dims()
	scale, _ := ln.effectiveCached()

	// grads w.r.t. the effective affine parameters
	dScale := make([]float64, d)
	dBias := make([]float64, d)
	for i := 0; i < d; i++ {
		sumDS, sumDB := 0.0, 0.0
		for t := 0; t < T; t++ {
			sumDS += dY.At(i, t) * ln.xhat.At(i, t)
			sumDB += dY.At(i, t)
		}
		dScale[i] = sumDS
		dBias[i] = sumDB
	}

	// dX per column, using the effective scale
	dX = mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		istd := ln.invStd[t]
		sum1, sum2 := 0.0, 0.0
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * scale[i]
			sum1 += gy
			sum2 += gy * ln.xhat.At(i, t)
		}
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * scale[i]
			dxi := (float64(d)*gy - sum1 - ln.xhat.At(i, t)*sum2) * (istd / float64(d))
			dX.Set(i, t, dxi)
		}
	}

	dGamma = mat.NewDense(d, 1, nil)
	dBeta = mat.NewDense(d, 1, nil)
	if ln.kind == PlainNorm {
		copy(colData(dGamma), dScale)
		copy(colData(dBeta), dBias)
		return dX, dGamma, dBeta
	}

	// scale = unit(gamma)*sqrt(d): chain through the normalization
	root := math.Sqrt(float64(d))
	dUnitG := make([]float64, d)
	for i := range dUnitG {
		dUnitG[i] = dScale[i] * root
	}
	utils.UnitVecGrad(colData(dGamma), dUnitG, ln.unitG, ln.gNorm)
	utils.UnitVecGrad(colData(dBeta), dBias, ln.unitB, ln.bNorm)
	return dX, dGamma, dBeta
}

// effectiveCached returns the effective scale/bias consistent with the last
// Forward without re-deriving the unit vectors (the cache must match what the
// forward used for the pullback to be correct).
func (ln *LayerNorm) effectiveCached() (scale, bias []float64) {
	if ln.kind == PlainNorm {
		return colData(ln.Gamma), colData(ln.Beta)
	}
	scale = make([]float64, ln.d)
	root := math.Sqrt(float64(ln.d))
	for i, u := range ln.unitG {
		scale[i] = u * root
	}
	return scale, ln.unitB
}

// Backward computes gradients and applies the AdamW update in place.
func (ln *LayerNorm) Backward(dY *mat.Dense) *mat.Dense {
	dX, dGamma, dBeta := ln.BackwardGradsOnly(dY)
	ln.t++
	if ln.opt.GradClip > 0 {
		optimizations.ClipGrads(ln.opt.GradClip, dGamma, dBeta)
	}
	optimizations.AdamUpdateInPlace(ln.Gamma, dGamma, ln.mG, ln.vG, ln.t,
		ln.LearningRate, ln.opt.Beta1, ln.opt.Beta2, ln.opt.Eps, 0.0)
	optimizations.AdamUpdateInPlace(ln.Beta, dBeta, ln.mB, ln.vB, ln.t,
		ln.LearningRate, ln.opt.Beta1, ln.opt.Beta2, ln.opt.Eps, 0.0)
	return dX
}

// Spherify returns a sphere norm sharing this layer's raw parameters.
// Idempotent: a norm that is already sphere is returned unchanged.
func (ln *LayerNorm) Spherify() *LayerNorm {
	if ln.kind == SphereNorm {
		return ln
	}
	return &LayerNorm{
		kind:  SphereNorm,
		d:     ln.d,
		eps:   ln.eps,
		Gamma: ln.Gamma,
		Beta:  ln.Beta,
		opt:   ln.opt,
		t:     ln.t,
		mG:    ln.mG,
		vG:    ln.vG,
		mB:    ln.mB,
		vB:    ln.vB,
	}
}
