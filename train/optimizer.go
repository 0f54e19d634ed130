package train

import (
	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/nn"
)

// Optimizer applies accumulated parameter gradients in place.
//
// Implementations keep per-parameter state keyed by parameter name, so one
// optimizer instance must stay with one model.
type Optimizer interface {
	// Step consumes the gradients currently held by params and updates
	// their data in place. Gradients are left untouched; models zero them
	// at the start of the next TrainStep.
	Step(params []*nn.Parameter)
	// SetLR replaces the learning rate used by subsequent steps.
	SetLR(lr float32)
	// LR reports the current learning rate.
	LR() float32
}

// Compile time checks to ensure the optimizers satisfy the interface.
var (
	_ Optimizer = (*SGD)(nil)
	_ Optimizer = (*Adam)(nil)
)

// SGDConfig holds the SGD hyperparameters. A zero learning rate is
// replaced by 0.01; zero momentum and weight decay are meaningful and
// kept as given.
type SGDConfig struct {
	LR          float32
	Momentum    float32
	WeightDecay float32
}

// SGD is stochastic gradient descent with classical momentum. Weight
// decay is folded into the gradient as an L2 term before the momentum
// update.
type SGD struct {
	cfg      SGDConfig
	velocity map[string][]float32
}

// NewSGD creates an SGD optimizer.
func NewSGD(cfg SGDConfig) *SGD {
	if cfg.LR <= 0 {
		cfg.LR = 0.01
	}

	return &SGD{
		cfg:      cfg,
		velocity: make(map[string][]float32),
	}
}

// Step applies one momentum update per parameter.
func (o *SGD) Step(params []*nn.Parameter) {
	for _, p := range params {
		v := o.velocity[p.Name]
		if len(v) != len(p.Data.Data) {
			v = make([]float32, len(p.Data.Data))
			o.velocity[p.Name] = v
		}

		w, g := p.Data.Data, p.Grad.Data
		for i := range w {
			d := g[i] + o.cfg.WeightDecay*w[i]
			v[i] = o.cfg.Momentum*v[i] + d
			w[i] -= o.cfg.LR * v[i]
		}
	}
}

// SetLR replaces the learning rate used by subsequent steps.
func (o *SGD) SetLR(lr float32) { o.cfg.LR = lr }

// LR reports the current learning rate.
func (o *SGD) LR() float32 { return o.cfg.LR }

// AdamConfig holds the Adam hyperparameters. Zero values are replaced by
// the stock ones: LR 1e-3, Beta1 0.9, Beta2 0.999, Eps 1e-8. A zero
// weight decay is meaningful and kept.
type AdamConfig struct {
	LR          float32
	Beta1       float32
	Beta2       float32
	Eps         float32
	WeightDecay float32
}

func (c AdamConfig) withDefaults() AdamConfig {
	if c.LR <= 0 {
		c.LR = 1e-3
	}

	if c.Beta1 <= 0 {
		c.Beta1 = 0.9
	}

	if c.Beta2 <= 0 {
		c.Beta2 = 0.999
	}

	if c.Eps <= 0 {
		c.Eps = 1e-8
	}

	return c
}

type adamState struct {
	m []float32
	v []float32
}

// Adam is the Adam optimizer with bias-corrected first and second moment
// estimates. Weight decay is folded into the gradient as an L2 term, the
// same coupling the models were tuned with.
type Adam struct {
	cfg   AdamConfig
	state map[string]*adamState

	// Running beta powers for bias correction; beta^t after t steps.
	beta1t float64
	beta2t float64
}

// NewAdam creates an Adam optimizer.
func NewAdam(cfg AdamConfig) *Adam {
	return &Adam{
		cfg:    cfg.withDefaults(),
		state:  make(map[string]*adamState),
		beta1t: 1,
		beta2t: 1,
	}
}

// Step applies one Adam update per parameter. All parameters passed to a
// single call share the same timestep.
func (o *Adam) Step(params []*nn.Parameter) {
	o.beta1t *= float64(o.cfg.Beta1)
	o.beta2t *= float64(o.cfg.Beta2)

	bc1 := float32(1 - o.beta1t)
	bc2 := float32(1 - o.beta2t)
	b1, b2 := o.cfg.Beta1, o.cfg.Beta2

	for _, p := range params {
		st := o.state[p.Name]
		if st == nil || len(st.m) != len(p.Data.Data) {
			st = &adamState{
				m: make([]float32, len(p.Data.Data)),
				v: make([]float32, len(p.Data.Data)),
			}
			o.state[p.Name] = st
		}

		w, g := p.Data.Data, p.Grad.Data
		for i := range w {
			d := g[i] + o.cfg.WeightDecay*w[i]
			st.m[i] = b1*st.m[i] + (1-b1)*d
			st.v[i] = b2*st.v[i] + (1-b2)*d*d

			mhat := st.m[i] / bc1
			vhat := st.v[i] / bc2
			w[i] -= o.cfg.LR * mhat / (math32.Sqrt(vhat) + o.cfg.Eps)
		}
	}
}

// SetLR replaces the learning rate used by subsequent steps.
func (o *Adam) SetLR(lr float32) { o.cfg.LR = lr }

// LR reports the current learning rate.
func (o *Adam) LR() float32 { return o.cfg.LR }
