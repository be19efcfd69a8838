package utils

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestUnitVec(t *testing.T) {
	src := []float64{3, 4}
	dst := make([]float64, 2)
	n := UnitVec(dst, src)
	if math.Abs(n-5) > 1e-12 {
		t.Errorf("norm = %v, want 5", n)
	}
	if math.Abs(dst[0]-0.6) > 1e-12 || math.Abs(dst[1]-0.8) > 1e-12 {
		t.Errorf("unit = %v, want [0.6 0.8]", dst)
	}

	// zero vector stays finite
	zero := []float64{0, 0, 0}
	out := make([]float64, 3)
	n = UnitVec(out, zero)
	if n != 0 {
		t.Errorf("zero-vector norm = %v, want 0", n)
	}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("zero-vector unit has non-finite component %v", v)
		}
	}

	// aliasing is allowed
	v := []float64{0, 2}
	UnitVec(v, v)
	if math.Abs(v[1]-1) > 1e-12 {
		t.Errorf("in-place unit = %v, want [0 1]", v)
	}
}

// Finite-difference check of the normalization pullback: for
// f(raw) = sum_i c_i * unit(raw)_i, UnitVecGrad must reproduce df/draw.
func TestUnitVecGradFiniteDiff(t *testing.T) {
	rand.Seed(99)
	n := 5
	raw := make([]float64, n)
	c := make([]float64, n)
	for i := range raw {
		raw[i] = rand.NormFloat64()
		c[i] = rand.NormFloat64()
	}

	f := func(x []float64) float64 {
		u := make([]float64, n)
		UnitVec(u, x)
		s := 0.0
		for i := range u {
			s += c[i] * u[i]
		}
		return s
	}

	unit := make([]float64, n)
	norm := UnitVec(unit, raw)
	grad := make([]float64, n)
	UnitVecGrad(grad, c, unit, norm)

	eps := 1e-6
	for i := 0; i < n; i++ {
		x := append([]float64(nil), raw...)
		x[i] += eps
		lp := f(x)
		x[i] -= 2 * eps
		lm := f(x)
		num := (lp - lm) / (2 * eps)
		if math.Abs(num-grad[i]) > 1e-5 {
			t.Errorf("grad[%d]: num=%.8g ana=%.8g", i, num, grad[i])
		}
	}
}

// The pullback lives in the tangent plane: it has no component along the unit
// direction.
func TestUnitVecGradTangent(t *testing.T) {
	rand.Seed(99)
	n := 6
	raw := make([]float64, n)
	dUnit := make([]float64, n)
	for i := range raw {
		raw[i] = rand.NormFloat64()
		dUnit[i] = rand.NormFloat64()
	}
	unit := make([]float64, n)
	norm := UnitVec(unit, raw)
	grad := make([]float64, n)
	UnitVecGrad(grad, dUnit, unit, norm)

	dot := 0.0
	for i := range grad {
		dot += grad[i] * unit[i]
	}
	if math.Abs(dot) > 1e-10 {
		t.Errorf("grad has radial component %v, want 0", dot)
	}
}

func TestLogSoftmaxCols(t *testing.T) {
	logits := mat.NewDense(4, 3, []float64{
		1, 100, -5,
		2, 101, -5,
		3, 102, -5,
		4, 103, -5,
	})
	lp := LogSoftmaxCols(logits)
	for j := 0; j < 3; j++ {
		sum := 0.0
		for i := 0; i < 4; i++ {
			sum += math.Exp(lp.At(i, j))
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("column %d sums to %v, want 1", j, sum)
		}
	}
	// shift invariance: columns 0 and 1 differ by a constant 100
	for i := 0; i < 4; i++ {
		if math.Abs(lp.At(i, 0)-lp.At(i, 1)) > 1e-12 {
			t.Errorf("log-softmax not shift invariant at row %d", i)
		}
	}
}

func TestCausalMaskedSoftmax(t *testing.T) {
	T := 4
	s := mat.NewDense(T, T, nil)
	A := RowSoftmaxMasked(s, CausalMask(T))
	for i := 0; i < T; i++ {
		rowSum := 0.0
		for j := 0; j < T; j++ {
			if j > i && A.At(i, j) > 1e-12 {
				t.Errorf("attention weight A[%d,%d] = %v leaks future positions", i, j, A.At(i, j))
			}
			rowSum += A.At(i, j)
		}
		if math.Abs(rowSum-1) > 1e-12 {
			t.Errorf("row %d sums to %v, want 1", i, rowSum)
		}
	}
}

func TestSoftmaxBackwardFiniteDiff(t *testing.T) {
	rand.Seed(99)
	r, c := 2, 4
	S := mat.NewDense(r, c, RandomArray(r*c, 1))
	C := mat.NewDense(r, c, RandomArray(r*c, 1))

	f := func(m *mat.Dense) float64 {
		A := RowSoftmax(m)
		s := 0.0
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				s += C.At(i, j) * A.At(i, j)
			}
		}
		return s
	}

	A := RowSoftmax(S)
	dS := SoftmaxBackward(C, A)

	eps := 1e-6
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			w0 := S.At(i, j)
			S.Set(i, j, w0+eps)
			lp := f(S)
			S.Set(i, j, w0-eps)
			lm := f(S)
			S.Set(i, j, w0)
			num := (lp - lm) / (2 * eps)
			if math.Abs(num-dS.At(i, j)) > 1e-5 {
				t.Errorf("dS[%d,%d]: num=%.8g ana=%.8g", i, j, num, dS.At(i, j))
			}
		}
	}
}

func TestGeluPrimeFiniteDiff(t *testing.T) {
	xs := []float64{-2, -0.5, 0, 0.3, 1.7}
	m := mat.NewDense(1, len(xs), xs)
	dm := GeluPrime(m)
	eps := 1e-6
	for j, x := range xs {
		num := (GeluApply(0, 0, x+eps) - GeluApply(0, 0, x-eps)) / (2 * eps)
		if math.Abs(num-dm.At(0, j)) > 1e-6 {
			t.Errorf("gelu'(%v): num=%.8g ana=%.8g", x, num, dm.At(0, j))
		}
	}
}

func TestSampleFromProbsTopK1(t *testing.T) {
	probs := mat.NewDense(5, 1, []float64{0.1, 0.5, 0.2, 0.15, 0.05})
	for i := 0; i < 20; i++ {
		if id := SampleFromProbs(probs, 1, 0); id != 1 {
			t.Fatalf("topK=1 sampled %d, want argmax 1", id)
		}
	}
}

func TestAddBiasVariantsAgree(t *testing.T) {
	rand.Seed(99)
	m := mat.NewDense(3, 4, RandomArray(12, 1))
	b := mat.NewDense(3, 1, RandomArray(3, 1))

	want := AddBias(m, b)
	got := mat.DenseCopyOf(m)
	AddBiasInPlace(got, b)

	if !mat.EqualApprox(want, got, 1e-15) {
		t.Error("AddBias and AddBiasInPlace disagree")
	}
}
