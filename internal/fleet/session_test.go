package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleetguard/internal/notifier"
)

func TestSessionLifecycleKeepsCountersUntilReset(t *testing.T) {
	s := NewSession()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	assert.True(t, s.Begin(5*time.Minute, now))
	assert.False(t, s.Begin(10*time.Minute, now))
	s.RecordCheck(now)
	s.RecordRestart()
	assert.True(t, s.End())
	assert.False(t, s.End())

	snap := s.Snapshot()
	assert.False(t, snap.Enabled)
	assert.Equal(t, 5, snap.IntervalMinutes)
	assert.Equal(t, 1, snap.ChecksPerformed)
	assert.Equal(t, 1, snap.ContainersRestarted)

	s.Reset()
	snap = s.Snapshot()
	assert.Zero(t, snap.ChecksPerformed)
	assert.Zero(t, snap.ContainersRestarted)
	assert.Nil(t, snap.LastCheck)
}

func TestObserveDeliveryCountsEachAlertOnce(t *testing.T) {
	c := New(nil, nil)
	msg := notifier.Message{AlertID: "a1"}
	c.ObserveDelivery(notifier.Result{Message: msg, Channel: "telegram", Status: notifier.StatusSent})
	c.ObserveDelivery(notifier.Result{Message: msg, Channel: "email", Status: notifier.StatusSent})
	c.ObserveDelivery(notifier.Result{Message: notifier.Message{AlertID: "a2"}, Status: notifier.StatusFailed})
	c.ObserveDelivery(notifier.Result{Message: notifier.Message{AlertID: "a3"}, Status: notifier.StatusSent})

	assert.Equal(t, 2, c.Session.Snapshot().AlertsSent)
}
