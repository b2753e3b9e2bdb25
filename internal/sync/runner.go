package sync

import (
	"context"
	gosync "sync"
)

// DefaultWorkers is the event worker pool size.
const DefaultWorkers = 4

// Run consumes events until the channel closes or the context is
// canceled. Events are processed by a pool of workers; the per-identity
// lock in Handle keeps same-identity events serialized while distinct
// identities run in parallel.
func (s *Synchronizer) Run(ctx context.Context, events <-chan Event, workers int) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var wg gosync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					if err := s.Handle(ctx, ev); err != nil {
						s.logger.Error("sync event failed",
							"identity", ev.Identity, "op", ev.Op, "error", err)
					}
				}
			}
		}()
	}
	wg.Wait()
}
