package services

import (
	"context"
	"testing"
	"time"

	"example.com/smartpos/services/pos/internal/events"

	"github.com/stretchr/testify/require"
)

func TestSchedulerArmDisarm(t *testing.T) {
	f := newFixture(t, defaultSyncConfig())
	scheduler := NewSyncScheduler(f.service, time.Minute)
	defer scheduler.Disarm()

	require.False(t, scheduler.Armed())

	require.NoError(t, scheduler.Arm(context.Background()))
	require.True(t, scheduler.Armed())

	// Arming twice is a no-op
	require.NoError(t, scheduler.Arm(context.Background()))
	require.True(t, scheduler.Armed())

	scheduler.Disarm()
	require.False(t, scheduler.Armed())

	// Disarming twice is a no-op
	scheduler.Disarm()
	require.False(t, scheduler.Armed())
}

func TestSchedulerFollowsConnectivity(t *testing.T) {
	f := newFixture(t, defaultSyncConfig())
	// The immediate cycle triggered by the online event must short-circuit
	f.monitor.online = false

	scheduler := NewSyncScheduler(f.service, time.Minute)
	defer scheduler.Disarm()

	handler := scheduler.OnEvent(context.Background())

	handler(events.Online{})
	require.True(t, scheduler.Armed())

	handler(events.Offline{})
	require.False(t, scheduler.Armed())

	handler(events.Online{})
	require.True(t, scheduler.Armed())
}
