package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yairfalse/vahti/remote"
	"github.com/yairfalse/vahti/types"
)

// Client is the simulated hypervisor. One event subscription at a time:
// the scenario script plays once, against that subscriber.
type Client struct {
	mu         sync.Mutex
	instances  map[string]types.Instance
	order      []string
	operations map[string]types.Operation
	steps      []Step
	subscribed bool
}

var _ remote.Client = (*Client)(nil)

// New creates a simulator from a scenario.
func New(scenario *Scenario) *Client {
	c := &Client{
		instances:  make(map[string]types.Instance),
		operations: make(map[string]types.Operation),
		steps:      scenario.Steps,
	}
	for _, inst := range scenario.Instances {
		c.instances[inst.Name] = inst
		c.order = append(c.order, inst.Name)
	}
	for _, op := range scenario.Operations {
		c.operations[op.ID] = op.Operation()
	}
	return c
}

// ListInstanceNames implements remote.Client.
func (c *Client) ListInstanceNames(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.order))
	copy(out, c.order)
	return out, nil
}

// GetInstance implements remote.Client.
func (c *Client) GetInstance(ctx context.Context, name string) (types.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[name]
	if !ok {
		return types.Instance{}, &remote.NotFoundError{Kind: "instance", Name: name}
	}
	return inst.Clone(), nil
}

// ListOperations implements remote.Client.
func (c *Client) ListOperations(ctx context.Context) (map[types.OperationStatus][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buckets := make(map[types.OperationStatus][]string)
	for id, op := range c.operations {
		buckets[op.Status] = append(buckets[op.Status], id)
	}
	return buckets, nil
}

// GetOperation implements remote.Client.
func (c *Client) GetOperation(ctx context.Context, id string) (types.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, ok := c.operations[id]
	if !ok {
		return types.Operation{}, &remote.NotFoundError{Kind: "operation", Name: id}
	}
	return op, nil
}

// SubscribeEvents implements remote.Client. Subscribing starts scenario
// playback; the returned cancel func stops it and closes the channel.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan types.OperationEvent, func(), error) {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("simulator supports a single event subscription")
	}
	c.subscribed = true
	c.mu.Unlock()

	playCtx, cancel := context.WithCancel(ctx)
	events := make(chan types.OperationEvent, 16)
	go c.play(playCtx, events)

	return events, cancel, nil
}

// play runs the script: wait, mutate remote state, deliver the event.
// The channel stays open after the last step until the subscription is
// cancelled, like a real feed would.
func (c *Client) play(ctx context.Context, events chan<- types.OperationEvent) {
	defer close(events)

	for _, step := range c.steps {
		if step.Delay > 0 {
			timer := time.NewTimer(time.Duration(step.Delay))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		c.applyMutation(step)

		if step.Event != nil {
			op := step.Event.Operation()
			c.mu.Lock()
			c.operations[op.ID] = op
			c.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case events <- types.OperationEvent{Timestamp: time.Now(), Operation: op}:
			}
		}
	}

	<-ctx.Done()
}

func (c *Client) applyMutation(step Step) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if step.Create != nil {
		if _, ok := c.instances[step.Create.Name]; !ok {
			c.order = append(c.order, step.Create.Name)
		}
		c.instances[step.Create.Name] = *step.Create
	}
	if step.Remove != "" {
		delete(c.instances, step.Remove)
		for i, n := range c.order {
			if n == step.Remove {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	if step.SetStatus != nil {
		if inst, ok := c.instances[step.SetStatus.Name]; ok {
			inst.Status = step.SetStatus.Status
			c.instances[step.SetStatus.Name] = inst
		}
	}
}
