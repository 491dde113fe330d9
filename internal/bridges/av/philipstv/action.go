package philipstv

import (
	"context"
	"sync"
)

// Action is an automation hooked to a TV event.
type Action func(ctx context.Context, vars map[string]any)

type attachedAction struct {
	action Action
	vars   map[string]any
}

// PluggableAction holds the actions attached to one event. It is used for
// turn-on: a TV in deep standby is unreachable over JointSpace, so turning
// it on is delegated to whatever the user attached (wake-on-LAN, an IR
// blaster, a smart plug).
type PluggableAction struct {
	update func()

	mu      sync.Mutex
	actions map[uint64]attachedAction
	next    uint64
}

// NewPluggableAction returns an empty action set. update runs whenever an
// action is attached or removed.
func NewPluggableAction(update func()) *PluggableAction {
	return &PluggableAction{
		update:  update,
		actions: make(map[uint64]attachedAction),
	}
}

// Attached reports whether any action is attached.
func (p *PluggableAction) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actions) > 0
}

// Attach adds action with its variables and returns a func that removes it.
func (p *PluggableAction) Attach(action Action, vars map[string]any) (remove func()) {
	p.mu.Lock()
	id := p.next
	p.next++
	p.actions[id] = attachedAction{action: action, vars: vars}
	p.mu.Unlock()

	p.notify()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.actions, id)
			p.mu.Unlock()
			p.notify()
		})
	}
}

// Run calls every attached action.
func (p *PluggableAction) Run(ctx context.Context) {
	p.mu.Lock()
	actions := make([]attachedAction, 0, len(p.actions))
	for _, a := range p.actions {
		actions = append(actions, a)
	}
	p.mu.Unlock()

	for _, a := range actions {
		a.action(ctx, a.vars)
	}
}

func (p *PluggableAction) notify() {
	if p.update != nil {
		p.update()
	}
}
