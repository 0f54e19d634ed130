package benchmark_test

import (
	"fmt"
	"testing"

	"github.com/hupe1980/verigo/gallery"
	"github.com/hupe1980/verigo/model"
	"github.com/hupe1980/verigo/testutil"
)

// Gallery sizes covering a kiosk deployment up to a mid-size site.
var gallerySizes = []int{10, 100, 1000, 10000}

const embeddingDim = 512

func BenchmarkGalleryMatch(b *testing.B) {
	for _, n := range gallerySizes {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()

			store := seededGallery(b, n, embeddingDim)
			matcher := gallery.NewMatcher(store)

			probe := testutil.UnitEmbedding(testutil.NewRNG(2), model.ModalityFace, embeddingDim, "fv1")

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := matcher.Match(probe, 0.85); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkGalleryTopK(b *testing.B) {
	const k = 5

	for _, n := range gallerySizes {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()

			store := seededGallery(b, n, embeddingDim)
			matcher := gallery.NewMatcher(store)

			probe := testutil.UnitEmbedding(testutil.NewRNG(2), model.ModalityIris, embeddingDim, "iv1")

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := matcher.TopK(probe, k); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkGalleryPut(b *testing.B) {
	b.ReportAllocs()

	rng := testutil.NewRNG(1)
	store := gallery.NewMemoryStore()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := &model.IdentityRecord{
			ID:   fmt.Sprintf("identity-%08d", i),
			Face: testutil.UnitEmbedding(rng, model.ModalityFace, embeddingDim, "fv1"),
		}
		if err := store.Put(rec); err != nil {
			b.Fatal(err)
		}
	}
}
