package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/testutil"
)

func awaitFadeCompleted(t *testing.T, h *harness) domain.AutoplayCompletedEvent {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.events.count(domain.EventAutoplayCompleted) == 1
	}, waitFor, pollEvery)
	return h.events.ofType(domain.EventAutoplayCompleted)[0].(domain.AutoplayCompletedEvent)
}

func assertFadedIn(t *testing.T, h *harness) {
	t.Helper()

	completed := awaitFadeCompleted(t, h)
	assert.False(t, completed.Cancelled)
	assert.InDelta(t, 0.3, completed.Volume, 1e-9)

	w := h.widget()
	volumes := w.Volumes()
	require.NotEmpty(t, volumes)
	assert.Contains(t, volumes, 0, "fade must start muted")
	assert.Equal(t, 30, volumes[len(volumes)-1])
	assert.Equal(t, 30, w.Volume())
	assert.Equal(t, 1, w.Plays())

	state := h.store.Snapshot()
	assert.True(t, state.IsPlaying)
	assert.InDelta(t, 0.3, state.Volume, 1e-9)
	assert.False(t, h.autoplay.Fading())

	marker, err := h.session.GetItem(context.Background(), SessionMarkerKey)
	require.NoError(t, err)
	assert.Equal(t, "true", string(marker))

	stored, ok := h.storedPreferences()
	require.True(t, ok)
	assert.True(t, stored.HasVisited)
}

func TestAutoplay_GateStartsWaiting(t *testing.T) {
	h := newHarness(t).build()

	assert.Equal(t, domain.WaitingForBoth, h.autoplay.Gate())
	assert.False(t, h.autoplay.Fading())
	assert.False(t, h.autoplay.Halted())
}

func TestAutoplay_FadeInWhenPlaylistArrivesFirst(t *testing.T) {
	h := newHarness(t).build()

	h.control.SetPlaylist(testTracks("a", "b"))
	assert.Equal(t, domain.WaitingForReady, h.autoplay.Gate())
	assert.Zero(t, h.events.count(domain.EventAutoplayStarted))

	h.startReady()

	assertFadedIn(t, h)
	assert.Equal(t, domain.BothSatisfied, h.autoplay.Gate())
	assert.Equal(t, []string{"media-a"}, h.widget().Cues())
	assert.Equal(t, 1, h.events.count(domain.EventAutoplayStarted))
}

func TestAutoplay_FadeInWhenEngineIsReadyFirst(t *testing.T) {
	h := newHarness(t).build().startReady()

	assert.Equal(t, domain.WaitingForPlaylist, h.autoplay.Gate())

	// An empty playlist does not open the gate
	h.control.SetPlaylist(nil)
	assert.Equal(t, domain.WaitingForPlaylist, h.autoplay.Gate())

	h.control.SetPlaylist(testTracks("a", "b"))

	assertFadedIn(t, h)
	assert.Equal(t, "media-a", h.widget().MediaID())
}

func TestAutoplay_RunsOncePerSession(t *testing.T) {
	first := newHarness(t).build()
	first.control.SetPlaylist(testTracks("a"))
	first.startReady()
	awaitFadeCompleted(t, first)
	first.shutdown()

	// Same session, new player
	second := newHarness(t)
	second.session = first.session
	second.build()
	second.control.SetPlaylist(testTracks("a"))
	second.startReady()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, second.events.count(domain.EventAutoplayStarted))
	assert.Zero(t, second.widget().Plays())
	assert.False(t, second.store.Snapshot().IsPlaying)
	assert.True(t, second.store.Snapshot().IsPaused)
}

func TestAutoplay_SecondGateEntryDoesNotFadeAgain(t *testing.T) {
	h := newHarness(t).build()
	h.control.SetPlaylist(testTracks("a"))
	h.startReady()
	awaitFadeCompleted(t, h)

	h.control.SetPlaylist(testTracks("b", "c"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.events.count(domain.EventAutoplayStarted))
}

func TestAutoplay_BlockedFallsBackToPausedAtStoredVolume(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.storage.SetItem(context.Background(), PreferencesKey,
		[]byte(`{"volume":0.6,"lastPosition":0,"hasVisited":false}`)))
	h.runtime.SetAutoplayBlocked(true)
	h.build()

	h.control.SetPlaylist(testTracks("a"))
	h.startReady()

	require.Eventually(t, func() bool {
		return h.events.count(domain.EventAutoplayBlocked) == 1
	}, waitFor, pollEvery)

	blocked := h.events.ofType(domain.EventAutoplayBlocked)[0].(domain.AutoplayBlockedEvent)
	assert.ErrorIs(t, blocked.Error, domain.ErrAutoplayBlocked)

	w := h.widget()
	assert.Equal(t, 1, w.Plays())
	assert.Equal(t, 60, w.Volume())

	state := h.store.Snapshot()
	assert.False(t, state.IsPlaying)
	assert.True(t, state.IsPaused)
	assert.InDelta(t, 0.6, state.Volume, 1e-9)
	assert.Empty(t, state.Error, "blocked autoplay is not an error")
	assert.NoError(t, h.control.Err())
	assert.False(t, h.autoplay.Fading())
	assert.Zero(t, h.events.count(domain.EventAutoplayCompleted))

	stored, ok := h.storedPreferences()
	require.True(t, ok)
	assert.True(t, stored.HasVisited)
	assert.InDelta(t, 0.6, stored.Volume, 1e-9)
}

func TestAutoplay_UserActionInterruptsFade(t *testing.T) {
	h := newHarness(t)
	h.timing.FadeStepInterval = time.Minute
	h.build()

	h.control.SetPlaylist(testTracks("a"))
	h.startReady()
	require.Eventually(t, h.autoplay.Fading, waitFor, pollEvery)

	require.NoError(t, h.control.SetVolume(0.8))

	completed := awaitFadeCompleted(t, h)
	assert.True(t, completed.Cancelled)
	assert.Zero(t, completed.Volume)
	assert.False(t, h.autoplay.Fading())

	assert.Equal(t, 80, h.widget().Volume())
	assert.InDelta(t, 0.8, h.store.Snapshot().Volume, 1e-9)

	stored, ok := h.storedPreferences()
	require.True(t, ok)
	assert.True(t, stored.HasVisited)
	assert.InDelta(t, 0.8, stored.Volume, 1e-9)

	// Interrupting again is a no-op
	h.autoplay.Interrupt()
	assert.Equal(t, 1, h.events.count(domain.EventAutoplayCompleted))
}

func TestAutoplay_AdvancesAndWrapsAround(t *testing.T) {
	h := newHarness(t).skipFadeIn().build()
	h.control.SetPlaylist(testTracks("a", "b"))
	h.startReady()

	require.NoError(t, h.control.Play())
	require.Eventually(t, func() bool { return h.store.Snapshot().IsPlaying }, waitFor, pollEvery)

	h.widget().SimulateEnded()
	require.Eventually(t, func() bool {
		st := h.store.Snapshot()
		return st.CurrentIndex == 1 && st.IsPlaying
	}, waitFor, pollEvery)
	assert.Equal(t, "media-b", h.widget().MediaID())

	h.widget().SimulateEnded()
	require.Eventually(t, func() bool {
		st := h.store.Snapshot()
		return st.CurrentIndex == 0 && st.IsPlaying
	}, waitFor, pollEvery)

	assert.Equal(t, []string{"media-b", "media-a"}, h.widget().Loads())
	assert.Equal(t, 2, h.events.count(domain.EventTrackEnded))

	for _, e := range h.events.ofType(domain.EventTrackLoaded) {
		assert.False(t, e.(domain.TrackLoadedEvent).User, "auto-advance is not a user load")
	}
}

func TestAutoplay_HaltsAfterPlaybackFailure(t *testing.T) {
	h := newHarness(t).skipFadeIn()
	h.runtime.SetBroken("media-b", 150)
	h.build()
	h.control.SetPlaylist(testTracks("a", "b", "c"))
	h.startReady()

	require.NoError(t, h.control.Play())
	require.Eventually(t, func() bool { return h.store.Snapshot().IsPlaying }, waitFor, pollEvery)

	h.widget().SimulateEnded()

	require.Eventually(t, h.autoplay.Halted, waitFor, pollEvery)
	require.Eventually(t, func() bool { return h.control.Err() != nil }, waitFor, pollEvery)
	assert.ErrorIs(t, h.control.Err(), domain.ErrRetriesExhausted)

	state := h.store.Snapshot()
	assert.Equal(t, 1, state.CurrentIndex)
	assert.False(t, state.IsPlaying)
	assert.NotEmpty(t, state.Error)

	time.Sleep(30 * time.Millisecond)
	assert.NotContains(t, h.widget().Loads(), "media-c")

	// A user choice resumes normal operation
	h.control.Next()

	require.Eventually(t, func() bool {
		st := h.store.Snapshot()
		return st.CurrentIndex == 2 && st.IsPlaying
	}, waitFor, pollEvery)
	assert.False(t, h.autoplay.Halted())
	assert.Empty(t, h.store.Snapshot().Error)
	assert.NoError(t, h.control.Err())
}

func TestAutoplay_VolumeSyncedFromOtherInstance(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	mine := newHarness(t)
	defer mine.shutdown()
	other := newHarness(t)
	defer other.shutdown()
	other.hub = mine.hub
	other.storage = mine.hub.Storage("")

	mine.skipFadeIn().build().startReady()
	other.skipFadeIn().build().startReady()
	require.NoError(t, mine.prefs.StartSync(context.Background()))

	require.NoError(t, other.control.SetVolume(0.7))

	require.Eventually(t, func() bool {
		return mine.widget().Volume() == 70
	}, waitFor, pollEvery)
	assert.InDelta(t, 0.7, mine.store.Snapshot().Volume, 1e-9)
	assert.Equal(t, 1, mine.events.count(domain.EventVolumeSynced))
	assert.Zero(t, other.events.count(domain.EventVolumeSynced))
}

func TestAutoplay_PositionFromOtherInstanceKeepsFading(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	mine := newHarness(t)
	defer mine.shutdown()
	mine.timing.FadeStepInterval = time.Minute
	other := newHarness(t)
	defer other.shutdown()
	other.hub = mine.hub
	other.storage = mine.hub.Storage("")

	mine.build()
	require.NoError(t, mine.prefs.StartSync(context.Background()))
	mine.control.SetPlaylist(testTracks("a"))
	mine.startReady()
	require.Eventually(t, mine.autoplay.Fading, waitFor, pollEvery)

	other.skipFadeIn().build().startReady()
	other.prefs.SavePosition(context.Background(), 12)

	assert.Never(t, func() bool {
		return mine.events.count(domain.EventVolumeSynced) > 0
	}, 50*time.Millisecond, pollEvery)
	assert.True(t, mine.autoplay.Fading())
	assert.Zero(t, mine.events.count(domain.EventAutoplayCompleted))

	// A real volume change still takes over
	require.NoError(t, other.control.SetVolume(0.7))
	completed := awaitFadeCompleted(t, mine)
	assert.True(t, completed.Cancelled)
	assert.Equal(t, 70, mine.widget().Volume())
	assert.Equal(t, 1, mine.events.count(domain.EventVolumeSynced))
}

func TestAutoplay_ShutdownStopsFade(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	h := newHarness(t)
	defer h.shutdown()
	h.timing.FadeStepInterval = 20 * time.Millisecond
	h.build()
	h.control.SetPlaylist(testTracks("a"))
	h.startReady()
	require.Eventually(t, h.autoplay.Fading, waitFor, pollEvery)

	require.NoError(t, h.autoplay.Shutdown())
	require.NoError(t, h.autoplay.Shutdown())

	volumes := len(h.widget().Volumes())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, volumes, len(h.widget().Volumes()))
	assert.False(t, h.autoplay.Fading())
}
