package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smarthome-gateway/internal/models"
)

func TestMemoryStore_ControlLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state, err := store.GetControlState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultControlState(), *state)

	heat := models.SwitchOn
	expiry := "2026-10-19 12:00:00.000000"
	require.NoError(t, store.SetManualOverride(ctx, ManualOverride{Heat: &heat, Expiry: expiry}))

	state, _ = store.GetControlState(ctx)
	assert.Equal(t, models.ModeManual, state.Mode)
	assert.Equal(t, models.WindowOpen, state.WindowCommand)
	assert.Equal(t, models.SwitchOn, state.HeatCommand)

	// 到期时间已被改动时不回退
	ok, err := store.RevertToAuto(ctx, "2026-10-19 11:00:00.000000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.RevertToAuto(ctx, expiry)
	require.NoError(t, err)
	assert.True(t, ok)

	state, _ = store.GetControlState(ctx)
	assert.Equal(t, models.ModeAuto, state.Mode)
	assert.Nil(t, state.ManualExpiry)
	assert.Equal(t, models.SwitchOn, state.HeatCommand)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SetManualOverride(ctx, ManualOverride{Expiry: "x"}))

	state, _ := store.GetControlState(ctx)
	*state.ManualExpiry = "mutated"

	again, _ := store.GetControlState(ctx)
	assert.Equal(t, "x", *again.ManualExpiry)
}

func TestMemoryStore_PendingAlert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	cleared, err := store.ClearPendingAlert(ctx)
	require.NoError(t, err)
	assert.False(t, cleared)

	require.NoError(t, store.RaisePendingAlert(ctx))
	cleared, err = store.ClearPendingAlert(ctx)
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestMemoryStore_Records(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, sound := range []string{"Glass", "Noise", "Plastic", "Noise"} {
		require.NoError(t, store.Append(ctx, &models.SensorRecord{ClassifiedSound: sound}))
	}

	recent, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(4), recent[0].ID)
	assert.Equal(t, int64(2), recent[2].ID)

	latest, err := store.LatestClassified(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Plastic", latest.ClassifiedSound)

	empty := NewMemoryStore()
	_, err = empty.LatestClassified(ctx)
	assert.ErrorIs(t, err, ErrNoSensorRecords)
}

func TestMemoryStore_Events(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	inputs := []models.SensorRecord{
		{RainReading: 1000, ClassifiedSound: "Noise"},
		{RainReading: 500, ClassifiedSound: "Noise"},
		{RainReading: 1000, ClassifiedSound: "Can"},
		{RainReading: 1000, ClassifiedSound: "Unknown"},
	}
	for i := range inputs {
		require.NoError(t, store.Append(ctx, &inputs[i]))
	}

	events, err := store.Events(ctx, 800, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Can", events[0].ClassifiedSound)
	assert.Equal(t, 500, events[1].RainReading)
}
