// Package distance provides float32 vector similarity kernels.
//
// Embedding comparison across the pipeline goes through
// CosineSimilarity, which requires non-zero inputs and returns a value
// in [-1, 1]. Encoders L2-normalize their outputs, so for stored
// embeddings cosine similarity reduces to a dot product.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance
//   - MetricCosine: Cosine similarity (normalized dot product)
//   - MetricDot: Dot product (inner product)
//   - MetricHamming: Bit-level Hamming distance over packed bytes
//
// # Usage
//
//	sim, err := distance.CosineSimilarity(a, b)
//	dist := distance.SquaredL2(a, b)
//	ok := distance.NormalizeL2InPlace(vec)
package distance
