package mockserver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Dispatcher decides which response serves a recorded request.
//
// Peek returns the response the next Dispatch call is expected to hand out,
// letting the server apply connection level behavior (DisconnectAtStart,
// FailHandshake, InTunnel) before a request exists. When such a response is
// consumed before any request was read, Dispatch is called with a nil request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *RecordedRequest) (*Response, error)
	Peek() *Response
}

// DispatcherFunc adapts a function to Dispatcher. Its Peek always reports a
// plain KeepOpen response.
type DispatcherFunc func(ctx context.Context, req *RecordedRequest) (*Response, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, req *RecordedRequest) (*Response, error) {
	return f(ctx, req)
}

func (DispatcherFunc) Peek() *Response {
	return &Response{}
}

// QueueDispatcher serves enqueued responses in strict FIFO order, one per
// request. An empty queue is waited on for at most the configured duration
// and then fails with ErrNoScriptedResponse.
type QueueDispatcher struct {
	responses *fifo[*Response]
	wait      time.Duration
}

func NewQueueDispatcher(wait time.Duration) *QueueDispatcher {
	return &QueueDispatcher{
		responses: newFIFO[*Response](),
		wait:      wait,
	}
}

func (d *QueueDispatcher) Enqueue(response *Response) {
	if response == nil {
		response = &Response{}
	}
	d.responses.put(response)
}

func (d *QueueDispatcher) Len() int {
	return d.responses.len()
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, req *RecordedRequest) (*Response, error) {
	if response, ok := d.responses.tryTake(); ok {
		return response, nil
	}
	if d.wait <= 0 {
		return nil, noResponseFor(req)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.wait)
	defer cancel()

	response, err := d.responses.take(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, noResponseFor(req)
		}
		return nil, err
	}
	return response, nil
}

func (d *QueueDispatcher) Peek() *Response {
	if response, ok := d.responses.peek(); ok {
		return response
	}
	return &Response{}
}

func noResponseFor(req *RecordedRequest) error {
	if req == nil {
		return ErrNoScriptedResponse
	}
	return fmt.Errorf("%w for %s %s", ErrNoScriptedResponse, req.Method, req.Target)
}
