package scheduler

import (
	"context"

	"github.com/smallbiznis/billarchive/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(provideLocker),
	fx.Provide(New),
)

type lockerParams struct {
	fx.In

	Locker *ratelimit.Locker `optional:"true"`
}

// provideLocker keeps a missing redis locker a nil interface.
func provideLocker(p lockerParams) Locker {
	if p.Locker == nil {
		return nil
	}
	return p.Locker
}

// Start runs the archiver loop for the life of the fx app.
func Start(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
