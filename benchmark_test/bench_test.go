package benchmark_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/verigo"
)

func BenchmarkVerifyIdentity_Accept(b *testing.B) {
	b.ReportAllocs()

	ctx := context.Background()

	pipe, err := verigo.New(benchModels(b))
	if err != nil {
		b.Fatal(err)
	}

	face, iris := benchImages()
	if _, err := pipe.Enroll(ctx, "alice", face, iris); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := pipe.VerifyIdentity(ctx, face, iris)
		if err != nil {
			b.Fatal(err)
		}
		if !res.Accepted {
			b.Fatalf("rejected: %s", res.Reason)
		}
	}
}

func BenchmarkVerifyIdentity_SpoofReject(b *testing.B) {
	b.ReportAllocs()

	ctx := context.Background()

	// Early exit at the liveness gate: only one model runs per probe.
	pipe, err := verigo.New(spoofGateModels(b))
	if err != nil {
		b.Fatal(err)
	}

	face, iris := benchImages()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := pipe.VerifyIdentity(ctx, face, iris)
		if err != nil {
			b.Fatal(err)
		}
		if res.Accepted {
			b.Fatal("expected rejection")
		}
	}
}

func BenchmarkEnroll(b *testing.B) {
	b.ReportAllocs()

	ctx := context.Background()

	pipe, err := verigo.New(benchModels(b))
	if err != nil {
		b.Fatal(err)
	}

	face, iris := benchImages()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pipe.Enroll(ctx, fmt.Sprintf("identity-%08d", i), face, iris); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCheckLiveness(b *testing.B) {
	b.ReportAllocs()

	ctx := context.Background()

	pipe, err := verigo.New(benchModels(b))
	if err != nil {
		b.Fatal(err)
	}

	face, _ := benchImages()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pipe.CheckLiveness(ctx, face); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCheckIrisQuality(b *testing.B) {
	b.ReportAllocs()

	ctx := context.Background()

	pipe, err := verigo.New(benchModels(b))
	if err != nil {
		b.Fatal(err)
	}

	_, iris := benchImages()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pipe.CheckIrisQuality(ctx, iris); err != nil {
			b.Fatal(err)
		}
	}
}
