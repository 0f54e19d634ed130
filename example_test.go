package verigo_test

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"

	"github.com/hupe1980/verigo"
	"github.com/hupe1980/verigo/antispoof"
	"github.com/hupe1980/verigo/faceid"
	"github.com/hupe1980/verigo/irisid"
	"github.com/hupe1980/verigo/irisseg"
)

// demoModels builds small untrained models with open biometric gates so
// the examples run fast and deterministically. Production systems use
// DefaultConfig and load trained checkpoints.
func demoModels() verigo.Models {
	spoofCfg := antispoof.DefaultConfig()
	spoofCfg.InputSize = 32
	spoofCfg.Channels = []int{4, 8}
	spoofCfg.SpoofThreshold = 0.001

	detector, err := antispoof.New(spoofCfg)
	if err != nil {
		log.Fatal(err)
	}

	faceCfg := faceid.DefaultConfig()
	faceCfg.InputSize = 16
	faceCfg.Widths = []int{4, 8}
	faceCfg.Hidden = 16
	faceCfg.EmbeddingSize = 8
	faceCfg.NumClasses = 4
	faceCfg.Reduction = 4

	faceEnc, err := faceid.New(faceCfg)
	if err != nil {
		log.Fatal(err)
	}

	segCfg := irisseg.DefaultConfig()
	segCfg.InputSize = 16
	segCfg.Widths = []int{2, 4, 8}
	segCfg.DetectionConfidence = 0.001
	segCfg.QualityThreshold = 0.001

	segmenter, err := irisseg.New(segCfg)
	if err != nil {
		log.Fatal(err)
	}

	irisCfg := irisid.DefaultConfig()
	irisCfg.InputHeight = 8
	irisCfg.InputWidth = 12
	irisCfg.Widths = []int{4, 8}
	irisCfg.Hidden = 8
	irisCfg.EmbeddingSize = 4
	irisCfg.Reduction = 4

	irisEnc, err := irisid.New(irisCfg)
	if err != nil {
		log.Fatal(err)
	}

	return verigo.Models{
		Liveness:      detector,
		FaceEncoder:   faceEnc,
		IrisSegmenter: segmenter,
		IrisEncoder:   irisEnc,
	}
}

func gradientImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) * 255 / (w + h)),
				A: 255,
			})
		}
	}

	return img
}

func demoImages() (face, iris image.Image) {
	return gradientImage(32, 32), gradientImage(24, 16)
}

// Example_enrollAndVerify demonstrates the full enroll and verify round trip.
func Example_enrollAndVerify() {
	ctx := context.Background()

	pipe, err := verigo.New(demoModels())
	if err != nil {
		log.Fatal(err)
	}

	face, iris := demoImages()

	if _, err := pipe.Enroll(ctx, "alice", face, iris); err != nil {
		log.Fatal(err)
	}

	result, err := pipe.VerifyIdentity(ctx, face, iris)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(result.Accepted, result.Identity)
	// Output: true alice
}

// Example_rejectUnknown demonstrates rejection of an unenrolled probe.
func Example_rejectUnknown() {
	ctx := context.Background()

	pipe, err := verigo.New(demoModels())
	if err != nil {
		log.Fatal(err)
	}

	face, iris := demoImages()

	result, err := pipe.VerifyIdentity(ctx, face, iris)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(result.Accepted, result.Reason)
	// Output: false face_mismatch
}

// Example_options demonstrates tuning the ensemble decision rules.
func Example_options() {
	pipe, err := verigo.New(demoModels(),
		verigo.WithFusionWeights(0.5, 0.5),
		verigo.WithCombinedThreshold(0.9),
		verigo.WithMatchThresholds(0.8, 0.9),
		verigo.WithMinScores(0.8, 0.85),
	)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(pipe.Gallery().Len())
	// Output: 0
}

// Example_checkLiveness demonstrates the standalone liveness check.
func Example_checkLiveness() {
	ctx := context.Background()

	pipe, err := verigo.New(demoModels())
	if err != nil {
		log.Fatal(err)
	}

	face, _ := demoImages()

	res, err := pipe.CheckLiveness(ctx, face)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(res.IsReal)
	// Output: true
}

// Example_checkpoints demonstrates persisting model weights.
func Example_checkpoints() {
	ctx := context.Background()
	dir := "./example_weights"
	defer os.RemoveAll(dir) // Cleanup after example

	pipe, err := verigo.New(demoModels())
	if err != nil {
		log.Fatal(err)
	}

	if err := pipe.SaveCheckpoints(ctx, dir); err != nil {
		log.Fatal(err)
	}

	if err := pipe.LoadCheckpoints(ctx, dir); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Checkpoints round-tripped successfully")
	// Output: Checkpoints round-tripped successfully
}

// Example_metrics demonstrates collecting pipeline metrics.
func Example_metrics() {
	ctx := context.Background()
	metrics := &verigo.BasicMetricsCollector{}

	pipe, err := verigo.New(demoModels(), verigo.WithMetricsCollector(metrics))
	if err != nil {
		log.Fatal(err)
	}

	face, iris := demoImages()

	if _, err := pipe.VerifyIdentity(ctx, face, iris); err != nil {
		log.Fatal(err)
	}

	stats := metrics.GetStats()
	fmt.Printf("sessions=%d rejected=%d\n", stats.VerifyCount, stats.VerifyRejected)
	// Output: sessions=1 rejected=1
}
