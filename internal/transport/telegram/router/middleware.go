package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "chimebot/pkg/logx"
)

// HandlerFunc is the signature every command handler implements.
type HandlerFunc func(ctx context.Context, req *Request) error

type middleware func(HandlerFunc) HandlerFunc

// wrap applies mws right to left, so the first one is outermost at call time.
func wrap(h HandlerFunc, mws ...middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// withTimeout bounds the handler context. d <= 0 leaves it unbounded.
func withTimeout(d time.Duration) middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(tctx, req)
		}
	}
}

// withRecover converts a handler panic into an error so one bad command
// cannot take a worker down.
func withRecover(log logx.Logger) middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panicked",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// withRequestLog records the outcome of every invocation. Fast successes stay
// at debug so the info level remains readable.
func withRequestLog(log logx.Logger) middleware {
	const slow = 750 * time.Millisecond
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("took", took),
			}
			switch {
			case err != nil:
				log.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= slow:
				log.Info("command done", fields...)
			default:
				log.Debug("command done", fields...)
			}
			return err
		}
	}
}
