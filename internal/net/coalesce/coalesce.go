package coalesce

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Group de-duplicates concurrent work sharing a key: at most one fn runs per
// key at any time, and every waiter observes its outcome.
type Group struct {
	sf singleflight.Group
}

// Do returns the shared result for key, invoking fn only when no call for key
// is already in flight. The shared call is detached from individual callers:
// a caller whose ctx is cancelled stops waiting, but fn keeps running and
// settles for the remaining waiters. shared reports whether the result was
// served to more than one caller.
func (g *Group) Do(ctx context.Context, key string, fn func() (any, error)) (v any, shared bool, err error) {
	ch := g.sf.DoChan(key, fn)
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Forget drops the in-flight entry for key so the next Do starts fresh.
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}

// RunOrdered runs tasks with at most limit in flight and returns their
// results in input order. The first failure is returned and prevents
// not-yet-started tasks from running; tasks already in flight complete.
func RunOrdered[T any](ctx context.Context, tasks []func(context.Context) (T, error), limit int) ([]T, error) {
	results := make([]T, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := task(gctx)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
