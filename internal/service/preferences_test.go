package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/encore/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/encore/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/logger"
	"github.com/tejashwikalptaru/encore/internal/ports"
	"github.com/tejashwikalptaru/encore/internal/testutil"
)

// brokenStorage fails every operation.
type brokenStorage struct{}

func (brokenStorage) GetItem(context.Context, string) ([]byte, error) {
	return nil, errors.New("storage disabled")
}

func (brokenStorage) SetItem(context.Context, string, []byte) error {
	return errors.New("storage full")
}

func (brokenStorage) RemoveItem(context.Context, string) error {
	return errors.New("storage disabled")
}

// plainStorage hides the Watch method of a memory storage.
type plainStorage struct{ ports.Storage }

func newTestPreferences(t *testing.T, storage ports.Storage) (*PreferenceService, *eventRecorder) {
	t.Helper()
	bus := eventbus.NewSyncEventBus()
	events := newEventRecorder(bus)
	prefs := NewPreferenceService(context.Background(), logger.NewTestLogger(), storage, bus)
	t.Cleanup(func() {
		_ = prefs.Shutdown()
		_ = bus.Close()
	})
	return prefs, events
}

func readPreferences(t *testing.T, storage ports.Storage) map[string]any {
	t.Helper()
	data, err := storage.GetItem(context.Background(), PreferencesKey)
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	return record
}

func TestParsePreferences(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   domain.Preferences
		wantOK bool
	}{
		{"full record", `{"volume":0.5,"lastPosition":42,"hasVisited":true}`,
			domain.Preferences{Volume: 0.5, LastPosition: 42, HasVisited: true}, true},
		{"partial record keeps defaults", `{"volume":0.7}`,
			domain.Preferences{Volume: 0.7}, true},
		{"empty object", `{}`, domain.DefaultPreferences(), true},
		{"volume above range", `{"volume":5}`, domain.Preferences{Volume: 1}, true},
		{"volume below range", `{"volume":-2}`, domain.Preferences{Volume: 0}, true},
		{"negative position", `{"lastPosition":-3}`, domain.DefaultPreferences(), true},
		{"wrong types", `{"volume":"loud"}`, domain.DefaultPreferences(), false},
		{"not json", `volume=0.5`, domain.DefaultPreferences(), false},
		{"empty", ``, domain.DefaultPreferences(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parsePreferences([]byte(tt.data))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPreferenceService_DefaultsWhenMissing(t *testing.T) {
	prefs, _ := newTestPreferences(t, memory.NewStorage())

	current := prefs.Current()
	assert.Equal(t, domain.DefaultVolume, current.Volume)
	assert.Zero(t, current.LastPosition)
	assert.False(t, current.HasVisited)
	assert.False(t, prefs.HasVisited())
}

func TestPreferenceService_CorruptRecordFallsBack(t *testing.T) {
	storage := memory.NewStorage()
	require.NoError(t, storage.SetItem(context.Background(), PreferencesKey, []byte(`{"volume":`)))

	prefs, _ := newTestPreferences(t, storage)
	assert.Equal(t, domain.DefaultPreferences(), prefs.Current())
	assert.False(t, prefs.HasVisited())
}

func TestPreferenceService_BrokenStorageIsTolerated(t *testing.T) {
	prefs, _ := newTestPreferences(t, brokenStorage{})

	assert.Equal(t, domain.DefaultPreferences(), prefs.Current())
	assert.NotPanics(t, func() {
		prefs.SaveVolume(context.Background(), 0.4)
		prefs.SavePosition(context.Background(), 10)
		prefs.MarkVisited(context.Background())
	})
	assert.Equal(t, 0.4, prefs.Current().Volume)
}

func TestPreferenceService_WritesCarryEveryField(t *testing.T) {
	storage := memory.NewStorage()
	require.NoError(t, storage.SetItem(context.Background(), PreferencesKey,
		[]byte(`{"volume":0.5,"lastPosition":3,"hasVisited":true}`)))
	prefs, _ := newTestPreferences(t, storage)
	assert.True(t, prefs.HasVisited())

	prefs.SavePosition(context.Background(), 12.5)

	record := readPreferences(t, storage)
	assert.Equal(t, 0.5, record["volume"])
	assert.Equal(t, 12.5, record["lastPosition"])
	assert.Equal(t, true, record["hasVisited"])

	prefs.SaveVolume(context.Background(), 3)
	record = readPreferences(t, storage)
	assert.Equal(t, 1.0, record["volume"])
	assert.Equal(t, 12.5, record["lastPosition"])
}

func TestPreferenceService_MarkVisited(t *testing.T) {
	storage := memory.NewStorage()
	prefs, _ := newTestPreferences(t, storage)

	prefs.MarkVisited(context.Background())

	record := readPreferences(t, storage)
	assert.Equal(t, true, record["hasVisited"])
	assert.Equal(t, domain.DefaultVolume, record["volume"])
}

func TestPreferenceService_SyncFromOtherInstance(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	hub := memory.NewHub()
	mine := hub.Storage("tab-a")
	theirs := hub.Storage("tab-b")
	prefs, events := newTestPreferences(t, mine)
	defer prefs.Shutdown()

	require.NoError(t, prefs.StartSync(context.Background()))

	// Own writes never come back
	prefs.SaveVolume(context.Background(), 0.2)
	// Corrupt records from others are ignored
	require.NoError(t, theirs.SetItem(context.Background(), PreferencesKey, []byte(`garbage`)))
	// Removals are ignored
	require.NoError(t, theirs.RemoveItem(context.Background(), PreferencesKey))
	// Records that keep the volume are not a change
	require.NoError(t, theirs.SetItem(context.Background(), PreferencesKey,
		[]byte(`{"volume":0.2,"lastPosition":42,"hasVisited":true}`)))
	require.NoError(t, theirs.SetItem(context.Background(), PreferencesKey,
		[]byte(`{"volume":0.8,"lastPosition":99,"hasVisited":true}`)))

	require.Eventually(t, func() bool {
		return events.count(domain.EventVolumeSynced) == 1
	}, waitFor, pollEvery)

	synced := events.ofType(domain.EventVolumeSynced)[0].(domain.VolumeSyncedEvent)
	assert.Equal(t, 0.8, synced.Volume)

	// Only the volume is taken over
	current := prefs.Current()
	assert.Equal(t, 0.8, current.Volume)
	assert.Zero(t, current.LastPosition)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, events.count(domain.EventVolumeSynced))
}

func TestPreferenceService_SyncUnsupported(t *testing.T) {
	prefs, _ := newTestPreferences(t, plainStorage{memory.NewStorage()})

	err := prefs.StartSync(context.Background())
	assert.ErrorIs(t, err, domain.ErrWatchUnsupported)
}
