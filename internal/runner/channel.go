package runner

import (
	"context"
	"errors"
)

// ErrUnreachable is the sentinel a Channel implementation returns (wrapped
// or bare) when the runner cannot be reached at all — connection refused,
// timeout, reset — as opposed to the runner replying with an application
// failure. Callers classify with IsUnreachable rather than matching this
// directly, since real transports wrap it in their own status types.
var ErrUnreachable = errors.New("runner: unreachable")

// ErrCheckNotOK is returned by Ping when the runner replied to CHECK with a
// status other than "ok".
var ErrCheckNotOK = errors.New("runner: check reply not ok")

// Channel is how a worker talks to the runner bound to its VM. A Channel
// is obtained once a runner connects and is valid until the connection is
// torn down; it does not reconnect.
type Channel interface {
	// SendCommand issues kind with the given params (only meaningful for
	// Start; Check and Info ignore it) and blocks until a reply arrives or
	// ctx is done.
	SendCommand(ctx context.Context, kind Kind, params StartParams) (Reply, error)
}

// Ping is a convenience wrapper for the CHECK command used by health
// checks. It returns nil only when the runner replied with status "ok";
// a transport error is returned as is, and a non-ok reply as ErrCheckNotOK.
func Ping(ctx context.Context, ch Channel) error {
	reply, err := ch.SendCommand(ctx, Check, StartParams{})
	if err != nil {
		return err
	}
	if !reply.OK {
		return ErrCheckNotOK
	}
	return nil
}
