package catch

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/oesand/wsline/specs"
)

// CatchCommonErr maps transport level errors onto the specs taxonomy.
// Unknown errors are returned unchanged.
func CatchCommonErr(err error) error {
	if err == nil {
		return nil
	}
	if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
		return specs.ErrTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, specs.ErrTimeout) {
		return specs.ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return specs.ErrCancelled
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return specs.ErrTransportClosed
	}
	return err
}

func CatchContextCancel(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return specs.ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return specs.ErrCancelled
	}
	return specs.WrapOpError("cause", err)
}
