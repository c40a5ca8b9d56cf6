package notifier

import (
	"context"
	"errors"
	"fmt"
)

// Message is one outbound notification.
type Message struct {
	AlertID string
	Subject string
	Body    string
}

type Notifier interface {
	Name() string
	Enabled() bool
	Notify(ctx context.Context, msg Message) error
}

// Multi sends synchronously to every enabled channel and joins the failures.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Enabled() bool {
	for _, n := range m {
		if n.Enabled() {
			return true
		}
	}
	return false
}

func (m Multi) Notify(ctx context.Context, msg Message) error {
	if !m.Enabled() {
		return errors.New("no notification channel configured")
	}
	var errs []error
	for _, n := range m {
		if !n.Enabled() {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
