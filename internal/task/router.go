package task

import (
	"context"
	"fmt"

	"go-chatroom/internal/dispatch"
)

// Router sends each delegated task to the family that executes its command.
type Router struct {
	byCommand map[string]*Service
	byFamily  map[string]*Service
	order     []*Service
}

// NewRouter fails when two services claim the same family or command.
func NewRouter(services ...*Service) (*Router, error) {
	r := &Router{
		byCommand: make(map[string]*Service),
		byFamily:  make(map[string]*Service),
	}
	for _, svc := range services {
		if _, dup := r.byFamily[svc.Family()]; dup {
			return nil, fmt.Errorf("duplicate task family %q", svc.Family())
		}
		r.byFamily[svc.Family()] = svc
		r.order = append(r.order, svc)
		for _, cmd := range svc.Commands() {
			if other, dup := r.byCommand[cmd]; dup {
				return nil, fmt.Errorf("command %q claimed by %s and %s", cmd, other.Family(), svc.Family())
			}
			r.byCommand[cmd] = svc
		}
	}
	return r, nil
}

func (r *Router) Submit(t dispatch.Task) error {
	svc, ok := r.byCommand[t.Command]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, t.Command)
	}
	return svc.Submit(t)
}

func (r *Router) Family(name string) (*Service, bool) {
	svc, ok := r.byFamily[name]
	return svc, ok
}

// ForCommand returns the family executing cmd.
func (r *Router) ForCommand(cmd string) (*Service, bool) {
	svc, ok := r.byCommand[cmd]
	return svc, ok
}

func (r *Router) Services() []*Service {
	return append([]*Service(nil), r.order...)
}

func (r *Router) Start(ctx context.Context, cb Callback) {
	for _, svc := range r.order {
		svc.Start(ctx, cb)
	}
}

func (r *Router) Stop() {
	for _, svc := range r.order {
		svc.Stop()
	}
}
