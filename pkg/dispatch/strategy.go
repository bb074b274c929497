package dispatch

import (
	"context"
	"time"
)

// goroutineStrategy runs the poll loop on a background goroutine,
// continuously long-polling until Shutdown is called. This is the
// production strategy (mirrors the teacher's goroutineStrategy).
type goroutineStrategy struct{}

func (goroutineStrategy) Run(d *Dispatcher, ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			if _, err := d.PollOnce(ctx); err != nil {
				d.logger.Error("poll failed: %v", err)
				select {
				case <-d.stopCh:
					return
				case <-time.After(time.Second):
				}
			}
		}
	}()
}

// syncStrategy does nothing on Start; the test calls Dispatcher.PollOnce
// directly, one step at a time, for deterministic assertions without a
// background goroutine racing the test.
type syncStrategy struct{}

func (syncStrategy) Run(_ *Dispatcher, _ context.Context) {}
