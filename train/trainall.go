package train

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Job is a bound training run: model, data and configuration packaged so
// runs over different batch types can be driven together.
type Job func(ctx context.Context) (*Result, error)

// NewJob binds a model, its datasets and configuration into a Job.
func NewJob[B any](m Trainable[B], train, val Dataset[B], cfg Config) Job {
	return func(ctx context.Context) (*Result, error) {
		t, err := New(m, cfg)
		if err != nil {
			return nil, err
		}

		return t.Run(ctx, train, val)
	}
}

// TrainAll runs jobs concurrently, at most workers at a time; workers
// below one means one at a time. The models are independent, so the first
// failure cancels the remaining jobs and each cancelled run writes its
// interrupt checkpoint before returning.
//
// Results are positional: results[i] belongs to jobs[i] and is non-nil
// for every job that produced a partial or complete run, even when an
// error is returned.
func TrainAll(ctx context.Context, workers int64, jobs ...Job) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}

	sem := semaphore.NewWeighted(workers)
	results := make([]*Result, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			res, err := job(ctx)
			results[i] = res

			return err
		})
	}

	return results, g.Wait()
}
