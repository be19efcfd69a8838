// Package utils holds the dense-matrix helpers shared by the model, trainer,
// and sampling code. Activations are (d x T) with one column per timestep;
// weights are (out x in).
package utils

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Scale(s float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Add(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

func Multiply(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

// AddBias returns m + bias broadcast across columns. bias must be (r x 1).
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("utils: AddBias bias must be (r x 1)")
	}
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			out.Set(i, j, m.At(i, j)+bias.At(i, 0))
		}
	}
	return out
}

// AddBiasInPlace adds bias (r x 1) into m column-wise without allocating.
func AddBiasInPlace(m, bias *mat.Dense) {
	r, c := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("utils: AddBiasInPlace bias must be (r x 1)")
	}
	raw := m.RawMatrix()
	for i := 0; i < r; i++ {
		b := bias.At(i, 0)
		row := raw.Data[i*raw.Stride : i*raw.Stride+c]
		for j := range row {
			row[j] += b
		}
	}
}

// LastCol copies the final column of m into a fresh (r x 1) vector.
func LastCol(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, m.At(i, c-1))
	}
	return out
}

func OneHot(n, idx int) *mat.Dense {
	v := make([]float64, n)
	if idx >= 0 && idx < n {
		v[idx] = 1.0
	}
	return mat.NewDense(n, 1, v)
}

// RandomArray returns size uniform samples in [-1/sqrt(v), 1/sqrt(v)].
func RandomArray(size int, v float64) []float64 {
	lo := -1.0 / math.Sqrt(v+1e-12)
	hi := 1.0 / math.Sqrt(v+1e-12)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = lo + (hi-lo)*rand.Float64()
	}
	return out
}

// CausalMask returns (T x T) with 0 on and below the diagonal, -1e30 above.
func CausalMask(T int) *mat.Dense {
	out := mat.NewDense(T, T, nil)
	negInf := -1e30
	for i := 0; i < T; i++ {
		for j := i + 1; j < T; j++ {
			out.Set(i, j, negInf)
		}
	}
	return out
}

// ---------- Softmax family ----------

// RowSoftmax applies softmax independently to each row across columns.
func RowSoftmax(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		mx := floats.Max(row)
		sum := 0.0
		for j := 0; j < c; j++ {
			row[j] = math.Exp(row[j] - mx)
			sum += row[j]
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, row[j]/sum)
		}
	}
	return out
}

// RowSoftmaxMasked applies softmax row-wise to m+mask.
func RowSoftmaxMasked(m, mask *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	if mr, mc := mask.Dims(); mr != r || mc != c {
		panic("utils: RowSoftmaxMasked mask shape mismatch")
	}
	return RowSoftmax(Add(m, mask))
}

// SoftmaxBackward is the vector-JVP form for row-wise softmax: for each row i,
// s = sum_k dA[i,k]*A[i,k]; dS[i,j] = A[i,j]*(dA[i,j] - s).
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// ColVectorSoftmax applies softmax across the single column of a (r x 1) vector.
func ColVectorSoftmax(v *mat.Dense) *mat.Dense {
	r, c := v.Dims()
	if c != 1 {
		panic("utils: ColVectorSoftmax expects a (r x 1) column vector")
	}
	out := mat.NewDense(r, 1, nil)
	mx := v.At(0, 0)
	for i := 1; i < r; i++ {
		if v.At(i, 0) > mx {
			mx = v.At(i, 0)
		}
	}
	sum := 0.0
	for i := 0; i < r; i++ {
		e := math.Exp(v.At(i, 0) - mx)
		out.Set(i, 0, e)
		sum += e
	}
	for i := 0; i < r; i++ {
		out.Set(i, 0, out.At(i, 0)/sum)
	}
	return out
}

// LogSoftmaxCols normalizes each column of logits (V x T) to log-probabilities.
func LogSoftmaxCols(logits *mat.Dense) *mat.Dense {
	r, c := logits.Dims()
	out := mat.NewDense(r, c, nil)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			col[i] = logits.At(i, j)
		}
		lse := floats.LogSumExp(col)
		for i := 0; i < r; i++ {
			out.Set(i, j, col[i]-lse)
		}
	}
	return out
}

// ---------- GELU (GPT-style tanh approximation) ----------

func GeluApply(i, j int, x float64) float64 {
	const k = 0.7978845608028654 // sqrt(2/pi)
	t := k * (x + 0.044715*x*x*x)
	return 0.5 * x * (1.0 + math.Tanh(t))
}

// GeluPrime is the elementwise derivative given the pre-activation matrix.
func GeluPrime(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	const k = 0.7978845608028654
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			t := k * (x + 0.044715*x*x*x)
			th := math.Tanh(t)
			cosh := math.Cosh(t)
			sech2 := 1.0 / (cosh * cosh)
			dt := k * (1.0 + 3.0*0.044715*x*x)
			out.Set(i, j, 0.5*(1.0+th)+0.5*x*sech2*dt)
		}
	}
	return out
}

// ---------- Unit-norm helpers ----------

// unitEps keeps zero vectors finite under normalization, matching the usual
// clamp in F.normalize-style implementations.
const unitEps = 1e-12

// UnitVec writes src/max(||src||, eps) into dst and returns the unclamped
// norm. dst and src may alias.
func UnitVec(dst, src []float64) float64 {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("utils: UnitVec length mismatch %d vs %d", len(dst), len(src)))
	}
	n := math.Sqrt(floats.Dot(src, src))
	d := n
	if d < unitEps {
		d = unitEps
	}
	inv := 1.0 / d
	for i, x := range src {
		dst[i] = x * inv
	}
	return n
}

// UnitVecGrad maps a gradient taken w.r.t. the unit-normalized copy of a raw
// vector back onto the raw vector: dRaw = (dUnit - (dUnit.unit)*unit) / norm.
// The tangent projection is what leaves the raw magnitude unconstrained while
// the effective value stays on the sphere.
func UnitVecGrad(dst, dUnit, unit []float64, norm float64) {
	if norm < unitEps {
		norm = unitEps
	}
	s := floats.Dot(dUnit, unit)
	inv := 1.0 / norm
	for i := range dst {
		dst[i] = (dUnit[i] - s*unit[i]) * inv
	}
}

// SampleFromProbs draws an id from a (V x 1) probability column after top-k
// and nucleus (top-p) filtering.
func SampleFromProbs(probs *mat.Dense, topK int, topP float64) int {
	r, c := probs.Dims()
	if c != 1 {
		panic("utils: SampleFromProbs expects column vector")
	}
	type kv struct {
		id  int
		val float64
	}
	arr := make([]kv, r)
	sum := 0.0
	for i := 0; i < r; i++ {
		p := probs.At(i, 0)
		arr[i] = kv{id: i, val: p}
		sum += p
	}
	for i := range arr {
		arr[i].val /= sum
	}

	sort.Slice(arr, func(i, j int) bool { return arr[i].val > arr[j].val })

	if topK > 0 && topK < len(arr) {
		arr = arr[:topK]
	}
	if topP > 0 && topP < 1 {
		cum := 0.0
		cut := len(arr)
		for i, kv := range arr {
			cum += kv.val
			if cum >= topP {
				cut = i + 1
				break
			}
		}
		arr = arr[:cut]
	}

	sum = 0.0
	for _, kv := range arr {
		sum += kv.val
	}
	for i := range arr {
		arr[i].val /= sum
	}

	rnd := rand.Float64()
	cum := 0.0
	for _, kv := range arr {
		cum += kv.val
		if rnd < cum {
			return kv.id
		}
	}
	return arr[len(arr)-1].id
}
