package client

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"time"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/chat"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/protobuf/types/known/structpb"
)

var watchDesc = &grpc.StreamDesc{StreamName: api.MethodWatch, ServerStreams: true}

// handlerError marks errors returned by the Watch callback so they are not
// mistaken for stream failures.
type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }
func (e *handlerError) Unwrap() error { return e.err }

// Watch streams the session's events to fn until ctx ends, fn returns an
// error, or the stream fails with a non-transient error. Transient
// failures resubscribe with exponential backoff; every new stream starts
// with a fresh snapshot.
func (c *Client) Watch(ctx context.Context, fn func(api.WatchEvent) error) error {
	retries := 0
	for {
		received, err := c.watchOnce(ctx, fn)
		var he *handlerError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &he):
			return he.err
		case ctx.Err() != nil:
			return ctx.Err()
		case !errors.Is(err, chat.ErrTransient):
			return err
		}
		if received {
			retries = 0
		}
		delay := backoffDelay(c.Backoff, retries)
		retries++

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, fn func(api.WatchEvent) error) (received bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(c.outgoing(ctx), watchDesc, api.FullMethod(api.MethodWatch))
	if err != nil {
		return false, api.FromStatus(err, nil)
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return false, api.FromStatus(err, nil)
	}
	if err := stream.CloseSend(); err != nil {
		return false, api.FromStatus(err, nil)
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return received, nil
			}
			return received, api.FromStatus(err, stream.Trailer())
		}
		received = true
		var evt api.WatchEvent
		if err := api.Decode(msg, &evt); err != nil {
			return received, err
		}
		if err := fn(evt); err != nil {
			return received, &handlerError{err}
		}
	}
}

// backoffDelay follows grpc's exponential backoff: BaseDelay grown by
// Multiplier per retry, capped at MaxDelay, randomized by Jitter.
func backoffDelay(cfg backoff.Config, retries int) time.Duration {
	if retries == 0 {
		return cfg.BaseDelay
	}
	delay, maxDelay := float64(cfg.BaseDelay), float64(cfg.MaxDelay)
	for delay < maxDelay && retries > 0 {
		delay *= cfg.Multiplier
		retries--
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	delay *= 1 + cfg.Jitter*(rand.Float64()*2-1)
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
