package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// Subject carries dispatch requests.
	Subject = "tasks.dispatch"
	// QueueGroup spreads requests over every receiver instance.
	QueueGroup = "task-processors"
)

type natsReply struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// NATSDispatcher sends each task as a request and waits only for the
// hand-off acknowledgement, never for the task result.
type NATSDispatcher struct {
	nc *nats.Conn
}

func NewNATSDispatcher(nc *nats.Conn) *NATSDispatcher {
	return &NATSDispatcher{nc: nc}
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	msg, err := d.nc.RequestWithContext(ctx, Subject, data)
	if err != nil {
		return fmt.Errorf("dispatch request: %w", err)
	}
	var reply natsReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode dispatch reply: %w", err)
	}
	if !reply.Accepted {
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	return nil
}

// SubscribeNATS registers the receiver in the dispatch queue group.
func (rc *Receiver) SubscribeNATS(nc *nats.Conn) (*nats.Subscription, error) {
	return nc.QueueSubscribe(Subject, QueueGroup, func(msg *nats.Msg) {
		var reply natsReply
		var task Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			reply.Error = "invalid task: " + err.Error()
		} else if err := rc.accept(task); err != nil {
			reply.Error = err.Error()
		} else {
			reply.Accepted = true
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			rc.logger.Error("failed to answer dispatch request", "error", err)
		}
	})
}
