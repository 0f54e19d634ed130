package train

import "math"

// Scheduler computes the learning rate to use for an epoch. epoch is zero
// based; val is the validation value observed at the end of the previous
// epoch, or NaN before the first validation pass. Only metric-reactive
// schedules read val.
type Scheduler interface {
	LR(epoch int, val float32) float32
}

// Compile time checks to ensure the schedules satisfy the interface.
var (
	_ Scheduler = (*Cosine)(nil)
	_ Scheduler = (*CosineWarmup)(nil)
	_ Scheduler = (*StepDecay)(nil)
	_ Scheduler = (*Plateau)(nil)
)

// Cosine anneals the learning rate from base to zero over epochs along a
// half cosine.
type Cosine struct {
	base   float32
	epochs int
}

// NewCosine creates a cosine annealing schedule over epochs.
func NewCosine(base float32, epochs int) *Cosine {
	if epochs < 1 {
		epochs = 1
	}

	return &Cosine{base: base, epochs: epochs}
}

// LR implements Scheduler.
func (s *Cosine) LR(epoch int, _ float32) float32 {
	if epoch >= s.epochs {
		return 0
	}

	return s.base * 0.5 * float32(1+math.Cos(math.Pi*float64(epoch)/float64(s.epochs)))
}

// CosineWarmup ramps the learning rate linearly from base/warmup up to
// base over the first warmup epochs, then anneals along a half cosine
// over the remainder.
type CosineWarmup struct {
	base   float32
	warmup int
	epochs int
}

// NewCosineWarmup creates a warmup-then-cosine schedule over epochs.
func NewCosineWarmup(base float32, warmup, epochs int) *CosineWarmup {
	if warmup < 0 {
		warmup = 0
	}

	if epochs <= warmup {
		epochs = warmup + 1
	}

	return &CosineWarmup{base: base, warmup: warmup, epochs: epochs}
}

// LR implements Scheduler.
func (s *CosineWarmup) LR(epoch int, _ float32) float32 {
	if epoch < s.warmup {
		return s.base * float32(epoch+1) / float32(s.warmup)
	}

	t := epoch - s.warmup
	span := s.epochs - s.warmup
	if t >= span {
		return 0
	}

	return s.base * 0.5 * float32(1+math.Cos(math.Pi*float64(t)/float64(span)))
}

// StepDecay multiplies the learning rate by gamma every stepSize epochs.
type StepDecay struct {
	base     float32
	gamma    float32
	stepSize int
}

// NewStepDecay creates a step schedule. A non-positive gamma is replaced
// by 0.1 and a stepSize below one by one.
func NewStepDecay(base, gamma float32, stepSize int) *StepDecay {
	if gamma <= 0 {
		gamma = 0.1
	}

	if stepSize < 1 {
		stepSize = 1
	}

	return &StepDecay{base: base, gamma: gamma, stepSize: stepSize}
}

// LR implements Scheduler.
func (s *StepDecay) LR(epoch int, _ float32) float32 {
	lr := s.base
	for k := epoch / s.stepSize; k > 0; k-- {
		lr *= s.gamma
	}

	return lr
}

// plateauRelThreshold is the relative change a validation value must beat
// to count as an improvement.
const plateauRelThreshold = 1e-4

// Plateau cuts the learning rate by factor once the validation value has
// gone more than patience epochs without improving. dir says which way
// improvement points. Plateau is stateful; use a fresh instance per run.
type Plateau struct {
	lr       float32
	factor   float32
	patience int
	dir      Direction

	best float32
	bad  int
	seen bool
}

// NewPlateau creates a reduce-on-plateau schedule. A factor outside (0,1)
// is replaced by 0.1 and a negative patience by zero.
func NewPlateau(base, factor float32, patience int, dir Direction) *Plateau {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}

	if patience < 0 {
		patience = 0
	}

	return &Plateau{lr: base, factor: factor, patience: patience, dir: dir}
}

// LR implements Scheduler.
func (s *Plateau) LR(_ int, val float32) float32 {
	if math.IsNaN(float64(val)) {
		return s.lr
	}

	if !s.seen || s.improved(val) {
		s.best = val
		s.bad = 0
		s.seen = true

		return s.lr
	}

	s.bad++
	if s.bad > s.patience {
		s.lr *= s.factor
		s.bad = 0
	}

	return s.lr
}

func (s *Plateau) improved(val float32) bool {
	if s.dir == Maximize {
		return val > s.best*(1+plateauRelThreshold)
	}

	return val < s.best*(1-plateauRelThreshold)
}
