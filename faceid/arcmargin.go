package faceid

import (
	"math"
	"math/rand"

	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

// arcEps floors sine terms and weight norms near the poles of the margin
// transform.
const arcEps = 1e-6

// ArcMargin is the additive angular margin classification head used for
// training: class weights live on the unit hypersphere and the target
// class logit is scale * cos(theta + margin), which forces embeddings of
// one identity into a tighter cone than plain softmax would.
type ArcMargin struct {
	scale float32
	cosM  float32
	sinM  float32
	// th and mm define the numerically stable fallback: once theta +
	// margin would pass pi the transform switches to cos(theta) - mm.
	th float32
	mm float32

	weight *nn.Parameter

	// Training caches.
	emb    *tensor.Tensor
	wn     *tensor.Tensor
	wNorms []float32
	cos    *tensor.Tensor
	labels []int
}

// NewArcMargin creates a margin head mapping in-dimensional embeddings to
// numClasses logits.
func NewArcMargin(rng *rand.Rand, in, numClasses int, scale, margin float32) *ArcMargin {
	w := tensor.New(numClasses, in)
	nn.InitXavierUniform(rng, w.Data, in, numClasses)

	m := float64(margin)

	return &ArcMargin{
		scale:  scale,
		cosM:   float32(math.Cos(m)),
		sinM:   float32(math.Sin(m)),
		th:     float32(math.Cos(math.Pi - m)),
		mm:     float32(math.Sin(math.Pi-m) * m),
		weight: nn.NewParameter("arc.weight", w),
	}
}

// Param returns the class weight parameter.
func (a *ArcMargin) Param() *nn.Parameter { return a.weight }

// normalized returns the row-normalized class weights and the pre-clamp
// norms.
func (a *ArcMargin) normalized() (*tensor.Tensor, []float32) {
	c := a.weight.Data.Dim(0)
	d := a.weight.Data.Dim(1)

	wn := tensor.New(c, d)
	norms := make([]float32, c)

	for j := 0; j < c; j++ {
		row := a.weight.Data.Row(j)
		norm := math32.Sqrt(math32.Dot(row, row))
		norms[j] = norm

		if norm < arcEps {
			norm = arcEps
		}

		dst := wn.Row(j)
		inv := 1 / norm
		for k := range row {
			dst[k] = row[k] * inv
		}
	}

	return wn, norms
}

// Cosine returns the plain cosine logits for unit-norm embeddings (N,D),
// with no margin applied. This is the inference-side view of the head.
func (a *ArcMargin) Cosine(emb *tensor.Tensor) *tensor.Tensor {
	wn, _ := a.normalized()

	return a.cosineAgainst(emb, wn)
}

func (a *ArcMargin) cosineAgainst(emb, wn *tensor.Tensor) *tensor.Tensor {
	n := emb.Dim(0)
	c := wn.Dim(0)

	cos := tensor.New(n, c)
	for i := 0; i < n; i++ {
		row := emb.Row(i)
		dst := cos.Row(i)
		for j := 0; j < c; j++ {
			dst[j] = math32.Dot(row, wn.Row(j))
		}
	}

	return cos
}

// Logits returns the scaled margin logits for a labeled batch and caches
// the forward state for Backward.
func (a *ArcMargin) Logits(emb *tensor.Tensor, labels []int) *tensor.Tensor {
	wn, wNorms := a.normalized()
	cos := a.cosineAgainst(emb, wn)

	n := emb.Dim(0)

	out := cos.Clone()
	for i := 0; i < n; i++ {
		j := labels[i]
		c := cos.At(i, j)

		var phi float32
		if c > a.th {
			s := float32(math.Sqrt(math.Max(0, 1-float64(c)*float64(c))))
			phi = c*a.cosM - s*a.sinM
		} else {
			phi = c - a.mm
		}

		out.Set(phi, i, j)
	}
	out.Scale(a.scale)

	a.emb = emb
	a.wn = wn
	a.wNorms = wNorms
	a.cos = cos
	a.labels = labels

	return out
}

// Backward routes a logit gradient to the embeddings and accumulates the
// class weight gradient. Must follow a Logits call.
func (a *ArcMargin) Backward(grad *tensor.Tensor) *tensor.Tensor {
	n := grad.Dim(0)
	c := grad.Dim(1)
	d := a.emb.Dim(1)

	// Gradient with respect to the cosine matrix: the margin transform
	// only bends the target-class entries.
	dcos := tensor.New(n, c)
	for i := 0; i < n; i++ {
		src := grad.Row(i)
		dst := dcos.Row(i)
		for j := 0; j < c; j++ {
			g := src[j] * a.scale

			if j == a.labels[i] {
				cv := a.cos.At(i, j)
				if cv > a.th {
					s := float32(math.Sqrt(math.Max(0, 1-float64(cv)*float64(cv))))
					if s < arcEps {
						s = arcEps
					}
					g *= a.cosM + a.sinM*cv/s
				}
				// Fallback branch is linear in cosine.
			}

			dst[j] = g
		}
	}

	// dEmb = dcos x wn.
	dEmb, err := tensor.MatMul(dcos, a.wn)
	if err != nil {
		panic(err)
	}

	// dwn[j] = sum_i dcos[i,j] * emb[i], then back through the row
	// normalization into the raw weights.
	dwn := tensor.New(c, d)
	for i := 0; i < n; i++ {
		embRow := a.emb.Row(i)
		dcosRow := dcos.Row(i)
		for j := 0; j < c; j++ {
			if dcosRow[j] != 0 {
				math32.Axpy(dcosRow[j], embRow, dwn.Row(j))
			}
		}
	}

	for j := 0; j < c; j++ {
		wnRow := a.wn.Row(j)
		dwnRow := dwn.Row(j)

		norm := a.wNorms[j]
		if norm < arcEps {
			norm = arcEps
		}

		dot := math32.Dot(dwnRow, wnRow)
		gRow := a.weight.Grad.Row(j)
		inv := 1 / norm
		for k := 0; k < d; k++ {
			gRow[k] += (dwnRow[k] - dot*wnRow[k]) * inv
		}
	}

	return dEmb
}
