// Package testutil provides testing utilities for Verigo.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for deterministic random sources, synthetic
// images, segmentation masks and unit-norm embeddings.
//
// # Deterministic Randomness
//
//	rng := testutil.NewRNG(seed)
//	vec := make([]float32, 128)
//	rng.FillUniform(vec)      // uniform [0, 1)
//	rng.FillGaussian(vec)     // standard normal
//
// # Synthetic Inputs
//
//	face := testutil.GradientImage(112, 112)
//	iris := testutil.NoiseImage(rng, 64, 48)
//	mask := testutil.DiskMask(64, 64, 32, 32, 20)
//
// # Embeddings
//
//	emb := testutil.UnitEmbedding(rng, model.ModalityFace, 512, "faceid-v1")
package testutil
