// Package fleet holds the state shared by the fleet-control components.
package fleet

import (
	"fleetguard/internal/alerts"
	"fleetguard/internal/notifier"
)

// Context is passed explicitly to every component that reads thresholds,
// raises alerts or updates the auto-healing session.
type Context struct {
	Thresholds *alerts.ThresholdPolicy
	Alerts     *alerts.Sink
	Session    *Session
}

func New(thresholds *alerts.ThresholdPolicy, sink *alerts.Sink) *Context {
	return &Context{Thresholds: thresholds, Alerts: sink, Session: NewSession()}
}

// ObserveDelivery is registered as a dispatcher hook to count sent alerts.
func (c *Context) ObserveDelivery(r notifier.Result) {
	if r.Status == notifier.StatusSent {
		c.Session.RecordAlertSent(r.Message.AlertID)
	}
}
