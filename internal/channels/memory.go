// internal/channels/memory.go
package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryLayer is an in-process Layer for single-instance deployments and tests.
type MemoryLayer struct {
	mu     sync.Mutex
	inbox  map[string]chan Envelope
	groups map[string]map[string]struct{}
	log    *logrus.Entry
}

func NewMemoryLayer(logger *logrus.Logger) *MemoryLayer {
	return &MemoryLayer{
		inbox:  make(map[string]chan Envelope),
		groups: make(map[string]map[string]struct{}),
		log:    logrus.NewEntry(logger).WithField("component", "channels"),
	}
}

func (l *MemoryLayer) Subscribe(_ context.Context, channel string) (<-chan Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.inbox[channel]; exists {
		return nil, fmt.Errorf("channel %s already subscribed", channel)
	}
	ch := make(chan Envelope, InboxSize)
	l.inbox[channel] = ch
	return ch, nil
}

func (l *MemoryLayer) Unsubscribe(_ context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.inbox[channel]
	if !ok {
		return nil
	}
	delete(l.inbox, channel)
	close(ch)
	for name, members := range l.groups {
		delete(members, channel)
		if len(members) == 0 {
			delete(l.groups, name)
		}
	}
	return nil
}

func (l *MemoryLayer) GroupAdd(_ context.Context, group, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	members, ok := l.groups[group]
	if !ok {
		members = make(map[string]struct{})
		l.groups[group] = members
	}
	members[channel] = struct{}{}
	return nil
}

func (l *MemoryLayer) GroupDiscard(_ context.Context, group, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	members, ok := l.groups[group]
	if !ok {
		return nil
	}
	delete(members, channel)
	if len(members) == 0 {
		delete(l.groups, group)
	}
	return nil
}

func (l *MemoryLayer) GroupSend(_ context.Context, group string, env Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for channel := range l.groups[group] {
		l.deliverUnsafe(channel, env)
	}
	return nil
}

func (l *MemoryLayer) Send(_ context.Context, channel string, env Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.inbox[channel]; !ok {
		return ErrNoSuchChannel
	}
	l.deliverUnsafe(channel, env)
	return nil
}

// Members returns the channels currently in group.
func (l *MemoryLayer) Members(group string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.groups[group]))
	for channel := range l.groups[group] {
		out = append(out, channel)
	}
	return out
}

// deliverUnsafe never blocks. Assumes l.mu is held.
func (l *MemoryLayer) deliverUnsafe(channel string, env Envelope) {
	ch, ok := l.inbox[channel]
	if !ok {
		return
	}
	select {
	case ch <- env:
	default:
		l.log.Warnf("inbox for %s full, dropped %s", channel, env.Type)
	}
}
