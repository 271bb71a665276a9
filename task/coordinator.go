// Package task runs background work and funnels every outcome through a
// single ordered result channel consumed by one control loop.
package task

import (
	"context"
	"sync"
)

// Message is a result posted by a background task. Concrete message
// types are defined by the consumer.
type Message any

// Coordinator dispatches goroutines and collects their messages.
// Results preserve the order in which tasks post them, so a consumer
// draining Results observes completions in a single total order.
type Coordinator struct {
	results chan Message
	wg      sync.WaitGroup
}

func NewCoordinator(buffer int) *Coordinator {
	return &Coordinator{
		results: make(chan Message, buffer),
	}
}

// Results is the channel the control loop selects on.
func (c *Coordinator) Results() <-chan Message {
	return c.results
}

// Dispatch runs fn on its own goroutine. fn posts zero or more messages
// through the supplied post function. Dispatch must not be called after
// Close.
func (c *Coordinator) Dispatch(ctx context.Context, fn func(ctx context.Context, post func(Message))) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(ctx, func(msg Message) {
			c.results <- msg
		})
	}()
}

// Close waits for in-flight tasks and closes the result channel. The
// consumer must keep draining Results until the channel closes or
// posting tasks block.
func (c *Coordinator) Close() {
	c.wg.Wait()
	close(c.results)
}
