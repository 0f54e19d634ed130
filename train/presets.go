package train

// The stock configurations below mirror the regime each model family was
// tuned with. Batch construction is the dataset builder's concern; the
// matching sizes are 32 for antispoof, 64 for faceid, 16 for irisseg and
// 32 for irisid.

// SpoofConfig is the stock liveness regime: 50 epochs of Adam at 1e-4
// with 1e-5 weight decay under cosine annealing, keeping the checkpoint
// with the best validation accuracy.
func SpoofConfig() Config {
	return Config{
		Epochs:    50,
		Optimizer: NewAdam(AdamConfig{LR: 1e-4, WeightDecay: 1e-5}),
		Scheduler: NewCosine(1e-4, 50),
		Direction: Maximize,
	}
}

// FaceConfig is the stock face identity regime: 100 epochs of Adam at
// 1e-3 with 5e-4 weight decay, tenfold step decay every 10 epochs,
// keeping the checkpoint with the best validation accuracy.
func FaceConfig() Config {
	return Config{
		Epochs:    100,
		Optimizer: NewAdam(AdamConfig{LR: 1e-3, WeightDecay: 5e-4}),
		Scheduler: NewStepDecay(1e-3, 0.1, 10),
		Direction: Maximize,
	}
}

// SegConfig is the stock segmentation regime: 75 epochs of Adam at 2e-4
// with 1e-4 weight decay, plateau decay with patience 5 on the validation
// Dice score, keeping the checkpoint with the best Dice.
func SegConfig() Config {
	return Config{
		Epochs:    75,
		Optimizer: NewAdam(AdamConfig{LR: 2e-4, WeightDecay: 1e-4}),
		Scheduler: NewPlateau(2e-4, 0.1, 5, Maximize),
		Direction: Maximize,
	}
}

// IrisConfig is the stock iris identity regime: 100 epochs of Adam at
// 1e-4 with 1e-5 weight decay, five warmup epochs into cosine annealing,
// keeping the checkpoint with the lowest validation triplet loss.
func IrisConfig() Config {
	return Config{
		Epochs:    100,
		Optimizer: NewAdam(AdamConfig{LR: 1e-4, WeightDecay: 1e-5}),
		Scheduler: NewCosineWarmup(1e-4, 5, 100),
		Direction: Minimize,
	}
}
