package catch

import (
	"context"
	"time"
)

type timeoutRes[T any] struct {
	res T
	err error
}

// CallWithTimeoutContext runs fn and gives up once timeout elapses or ctx is done.
// fn keeps running in the background after giving up; a result it still
// produces is handed to discard when discard is not nil.
func CallWithTimeoutContext[TR any](ctx context.Context, timeout time.Duration, fn func(context.Context) (TR, error), discard func(TR)) (TR, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	resc := make(chan timeoutRes[TR], 1)
	go func() {
		res, err := fn(ctx)
		resc <- timeoutRes[TR]{res, err}
	}()

	select {
	case res := <-resc:
		cancel()
		return res.res, res.err
	case <-ctx.Done():
		err := CatchContextCancel(ctx)
		cancel()
		go func() {
			if late := <-resc; late.err == nil && discard != nil {
				discard(late.res)
			}
		}()
		var zero TR
		return zero, err
	}
}
