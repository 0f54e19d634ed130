package benchmark_test

import (
	"fmt"
	"image"
	"testing"

	"github.com/hupe1980/verigo"
	"github.com/hupe1980/verigo/antispoof"
	"github.com/hupe1980/verigo/faceid"
	"github.com/hupe1980/verigo/gallery"
	"github.com/hupe1980/verigo/irisid"
	"github.com/hupe1980/verigo/irisseg"
	"github.com/hupe1980/verigo/model"
	"github.com/hupe1980/verigo/testutil"
)

// benchModels builds reduced models sized so a single verification runs
// in well under a millisecond. The relaxed gate thresholds make the
// untrained networks deterministic: everything passes liveness and
// quality, so the benchmarks measure the full five-stage path.
func benchModels(b *testing.B) verigo.Models {
	b.Helper()

	spoofCfg := antispoof.DefaultConfig()
	spoofCfg.InputSize = 32
	spoofCfg.Channels = []int{4, 8}
	spoofCfg.SpoofThreshold = 0.0001

	faceCfg := faceid.DefaultConfig()
	faceCfg.InputSize = 16
	faceCfg.Widths = []int{4, 8}
	faceCfg.Hidden = 16
	faceCfg.EmbeddingSize = 8
	faceCfg.NumClasses = 4
	faceCfg.Reduction = 4

	segCfg := irisseg.DefaultConfig()
	segCfg.InputSize = 16
	segCfg.Widths = []int{2, 4, 8}
	segCfg.DetectionConfidence = 0.0001
	segCfg.QualityThreshold = 0.0001

	irisCfg := irisid.DefaultConfig()
	irisCfg.InputHeight = 8
	irisCfg.InputWidth = 12
	irisCfg.Widths = []int{4, 8}
	irisCfg.Hidden = 8
	irisCfg.EmbeddingSize = 4
	irisCfg.Reduction = 4

	live, err := antispoof.New(spoofCfg)
	if err != nil {
		b.Fatal(err)
	}
	face, err := faceid.New(faceCfg)
	if err != nil {
		b.Fatal(err)
	}
	seg, err := irisseg.New(segCfg)
	if err != nil {
		b.Fatal(err)
	}
	iris, err := irisid.New(irisCfg)
	if err != nil {
		b.Fatal(err)
	}

	return verigo.Models{
		Liveness:      live,
		FaceEncoder:   face,
		IrisSegmenter: seg,
		IrisEncoder:   iris,
	}
}

// spoofGateModels flips the liveness threshold so every probe is
// rejected at the first stage.
func spoofGateModels(b *testing.B) verigo.Models {
	b.Helper()

	models := benchModels(b)

	cfg := models.Liveness.(*antispoof.Detector).Config()
	cfg.SpoofThreshold = 0.9999

	live, err := antispoof.New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	models.Liveness = live

	return models
}

func benchImages() (face, iris image.Image) {
	return testutil.GradientImage(32, 32), testutil.NoiseImage(testutil.NewRNG(7), 24, 16)
}

// seededGallery fills a store with n identities carrying random unit
// embeddings for both modalities.
func seededGallery(b *testing.B, n, dim int) gallery.Store {
	b.Helper()

	rng := testutil.NewRNG(1)
	store := gallery.NewMemoryStore()

	for i := 0; i < n; i++ {
		rec := &model.IdentityRecord{
			ID:   fmt.Sprintf("identity-%06d", i),
			Face: testutil.UnitEmbedding(rng, model.ModalityFace, dim, "fv1"),
			Iris: testutil.UnitEmbedding(rng, model.ModalityIris, dim, "iv1"),
		}
		if err := store.Put(rec); err != nil {
			b.Fatal(err)
		}
	}

	return store
}
