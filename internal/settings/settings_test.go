package settings

import (
	"testing"
	"time"
)

func TestClamp_Ranges(t *testing.T) {
	s := Settings{
		ActiveMonitorTimeMinutes: 0,
		MaxQueueSize:             5,
		VerificationDelay:        time.Millisecond,
		PeriodicCheckInterval:    time.Second,
	}.Clamp()

	if s.ActiveMonitorTimeMinutes != MinMonitorMinutes {
		t.Errorf("monitor minutes not clamped up: %d", s.ActiveMonitorTimeMinutes)
	}
	if s.MaxQueueSize != MinQueueSize {
		t.Errorf("queue size not clamped up: %d", s.MaxQueueSize)
	}
	if s.VerificationDelay != MinVerificationDelay {
		t.Errorf("verification delay not clamped up: %v", s.VerificationDelay)
	}
	if s.PeriodicCheckInterval != MinPeriodicCheckInterval {
		t.Errorf("check interval not clamped up: %v", s.PeriodicCheckInterval)
	}

	s = Settings{
		ActiveMonitorTimeMinutes: 100000,
		MaxQueueSize:             100000,
		VerificationDelay:        time.Hour,
		PeriodicCheckInterval:    time.Hour,
	}.Clamp()

	if s.ActiveMonitorTimeMinutes != MaxMonitorMinutes {
		t.Errorf("monitor minutes not clamped down: %d", s.ActiveMonitorTimeMinutes)
	}
	if s.MaxQueueSize != MaxQueueSize {
		t.Errorf("queue size not clamped down: %d", s.MaxQueueSize)
	}
	if s.VerificationDelay != MaxVerificationDelay {
		t.Errorf("verification delay not clamped down: %v", s.VerificationDelay)
	}
	if s.PeriodicCheckInterval != MaxPeriodicCheckInterval {
		t.Errorf("check interval not clamped down: %v", s.PeriodicCheckInterval)
	}
}

func TestBroadcaster_UpdateAndSubscribe(t *testing.T) {
	b := NewBroadcaster(Default())

	var got []int
	cancel := b.Subscribe(func(s Settings) {
		got = append(got, s.ActiveMonitorTimeMinutes)
	})

	next := Default()
	next.ActiveMonitorTimeMinutes = 120
	b.Update(next)

	if b.Current().ActiveMonitorTimeMinutes != 120 {
		t.Errorf("Current not updated: %d", b.Current().ActiveMonitorTimeMinutes)
	}
	if len(got) != 1 || got[0] != 120 {
		t.Errorf("subscriber not notified: %v", got)
	}

	// Cancel is idempotent and stops delivery.
	cancel()
	cancel()
	b.Update(Default())
	if len(got) != 1 {
		t.Errorf("cancelled subscriber still notified: %v", got)
	}
}
