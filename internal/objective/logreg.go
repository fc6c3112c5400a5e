package objective

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/descent/internal/opt"
)

// l2 is the ridge penalty that keeps the separable problem bounded.
const l2 = 1e-3

// LogisticRegression is the mean cross-entropy of a linear classifier plus
// a small ridge penalty. The data is linearly separable and generated from
// a seeded RNG, so runs are reproducible.
//
// The design matrix X and the 0/1 targets Z travel through the argument
// stream as Args.Pos = [X, Z], which lets callers feed minibatches. When the
// arguments are empty the full data set is used.
type LogisticRegression struct {
	x *mat.Dense
	z []float64
}

// NewLogisticRegression generates n samples with dim features. dim below 1
// selects 5 and n below 1 selects 200.
func NewLogisticRegression(dim, n int, seed int64) *LogisticRegression {
	if dim < 1 {
		dim = 5
	}
	if n < 1 {
		n = 200
	}
	rng := rand.New(rand.NewSource(seed))

	truth := make([]float64, dim)
	for i := range truth {
		truth[i] = rng.NormFloat64()
	}

	data := make([]float64, n*dim)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	x := mat.NewDense(n, dim, data)

	z := make([]float64, n)
	for i := range z {
		if floats.Dot(x.RawRowView(i), truth) > 0 {
			z[i] = 1
		}
	}

	return &LogisticRegression{x: x, z: z}
}

// Dim returns the number of features.
func (lr *LogisticRegression) Dim() int {
	_, c := lr.x.Dims()
	return c
}

// Init returns the zero vector.
func (lr *LogisticRegression) Init() []float64 {
	return make([]float64, lr.Dim())
}

// Args returns the full data set as an argument bundle.
func (lr *LogisticRegression) Args() opt.Args {
	return opt.Args{Pos: []any{lr.x, lr.z}}
}

// Batches splits the data into consecutive minibatches of the given size.
func (lr *LogisticRegression) Batches(size int) []opt.Args {
	n, c := lr.x.Dims()
	var out []opt.Args
	for lo := 0; lo < n; lo += size {
		hi := min(n, lo+size)
		out = append(out, opt.Args{Pos: []any{lr.x.Slice(lo, hi, 0, c), lr.z[lo:hi]}})
	}
	return out
}

func (lr *LogisticRegression) data(a opt.Args) (mat.Matrix, []float64) {
	if len(a.Pos) >= 2 {
		return a.Pos[0].(mat.Matrix), a.Pos[1].([]float64)
	}
	return lr.x, lr.z
}

func (lr *LogisticRegression) scores(x mat.Matrix, wrt []float64) []float64 {
	n, _ := x.Dims()
	var s mat.VecDense
	s.MulVec(x, mat.NewVecDense(len(wrt), wrt))
	out := make([]float64, n)
	copy(out, s.RawVector().Data)
	return out
}

// F returns the regularized mean cross-entropy.
func (lr *LogisticRegression) F(wrt []float64, a opt.Args) float64 {
	x, z := lr.data(a)
	s := lr.scores(x, wrt)
	var loss float64
	for i, si := range s {
		// −[z log σ(s) + (1−z) log(1−σ(s))] = softplus(s) − z·s
		loss += softplus(si) - z[i]*si
	}
	return loss/float64(len(s)) + 0.5*l2*floats.Dot(wrt, wrt)
}

// FPrime returns Xᵀ(σ(Xw) − z)/n + l2·w.
func (lr *LogisticRegression) FPrime(wrt []float64, a opt.Args) []float64 {
	x, z := lr.data(a)
	s := lr.scores(x, wrt)
	for i := range s {
		s[i] = (sigmoid(s[i]) - z[i]) / float64(len(s))
	}
	var g mat.VecDense
	g.MulVec(x.T(), mat.NewVecDense(len(s), s))
	out := make([]float64, len(wrt))
	copy(out, g.RawVector().Data)
	floats.AddScaled(out, l2, wrt)
	return out
}

// ErrorRate returns the fraction of misclassified training samples.
func (lr *LogisticRegression) ErrorRate(wrt []float64) float64 {
	s := lr.scores(lr.x, wrt)
	wrong := 0
	for i, si := range s {
		predicted := 0.0
		if si > 0 {
			predicted = 1
		}
		if predicted != lr.z[i] {
			wrong++
		}
	}
	return float64(wrong) / float64(len(s))
}

// Solution returns nil; the regularized minimizer has no closed form.
func (lr *LogisticRegression) Solution() []float64 {
	return nil
}

// Solved reports whether the training error rate is at most tol.
func (lr *LogisticRegression) Solved(wrt []float64, tol float64) bool {
	return lr.ErrorRate(wrt) <= tol
}

func sigmoid(s float64) float64 {
	if s >= 0 {
		return 1 / (1 + math.Exp(-s))
	}
	e := math.Exp(s)
	return e / (1 + e)
}

func softplus(s float64) float64 {
	if s > 0 {
		return s + math.Log1p(math.Exp(-s))
	}
	return math.Log1p(math.Exp(s))
}
