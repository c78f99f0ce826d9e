package agent

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FanOut runs every agent on the same request concurrently and returns their
// results in argument order once all have finished. The first fault (error or
// panic) cancels the others and is returned instead of any results.
func FanOut(ctx context.Context, req Request, agents ...Agent) ([]Result, error) {
	results := make([]Result, len(agents))
	g, gctx := errgroup.WithContext(ctx)

	for i, a := range agents {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s agent panicked: %v", a.Name(), r)
				}
			}()
			res, err := a.Process(gctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
