// Package domain defines events for the event-driven architecture.
// Events replace widget callbacks and enable loose coupling between components.
package domain

import (
	"time"
)

// Event is the base interface for all events in the system.
// All events must implement this interface to be published via the event bus.
type Event interface {
	// Type returns the event type identifier
	Type() EventType

	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// EventType is a string identifier for different event types.
type EventType string

// Event type constants define all possible events in the system.
const (
	// Engine lifecycle events
	EventEngineStateChanged EventType = "engine.state_changed"
	EventEngineReady        EventType = "engine.ready"
	EventEngineFailed       EventType = "engine.failed"

	// Playback events
	EventPlaybackStateChanged EventType = "playback.state_changed"
	EventTrackEnded           EventType = "track.ended"
	EventPlaybackError        EventType = "playback.error"
	EventPlaybackFailed       EventType = "playback.failed"

	// Store events
	EventTrackLoaded     EventType = "track.loaded"
	EventPlaylistUpdated EventType = "playlist.updated"
	EventStateChanged    EventType = "state.changed"
	EventVolumeSynced    EventType = "volume.synced"

	// Autoplay events
	EventAutoplayStarted   EventType = "autoplay.started"
	EventAutoplayCompleted EventType = "autoplay.completed"
	EventAutoplayBlocked   EventType = "autoplay.blocked"

	// Library scanning events
	EventScanStarted   EventType = "scan.started"
	EventScanCompleted EventType = "scan.completed"
)

// EventHandler is a function that handles events.
type EventHandler func(event Event)

// SubscriptionID uniquely identifies an event subscription.
type SubscriptionID string

// baseEvent provides common event functionality.
// All concrete events should embed this struct.
type baseEvent struct {
	timestamp time.Time
}

// Timestamp returns when the event occurred.
func (e baseEvent) Timestamp() time.Time {
	return e.timestamp
}

// newBaseEvent creates a new base event with the current timestamp.
func newBaseEvent() baseEvent {
	return baseEvent{timestamp: time.Now()}
}

// EngineStateChangedEvent is published on every engine lifecycle transition.
type EngineStateChangedEvent struct {
	baseEvent
	From EngineState
	To   EngineState
}

// Type returns the event type.
func (e EngineStateChangedEvent) Type() EventType {
	return EventEngineStateChanged
}

// NewEngineStateChangedEvent creates a new EngineStateChangedEvent.
func NewEngineStateChangedEvent(from, to EngineState) EngineStateChangedEvent {
	return EngineStateChangedEvent{
		baseEvent: newBaseEvent(),
		From:      from,
		To:        to,
	}
}

// EngineReadyEvent is published once, when the widget finished initializing.
type EngineReadyEvent struct {
	baseEvent
}

// Type returns the event type.
func (e EngineReadyEvent) Type() EventType {
	return EventEngineReady
}

// NewEngineReadyEvent creates a new EngineReadyEvent.
func NewEngineReadyEvent() EngineReadyEvent {
	return EngineReadyEvent{baseEvent: newBaseEvent()}
}

// EngineFailedEvent is published when initialization fails for good.
type EngineFailedEvent struct {
	baseEvent
	Error error
}

// Type returns the event type.
func (e EngineFailedEvent) Type() EventType {
	return EventEngineFailed
}

// NewEngineFailedEvent creates a new EngineFailedEvent.
func NewEngineFailedEvent(err error) EngineFailedEvent {
	return EngineFailedEvent{
		baseEvent: newBaseEvent(),
		Error:     err,
	}
}

// PlaybackStateChangedEvent is published when the logical play/pause state flips.
type PlaybackStateChangedEvent struct {
	baseEvent
	MediaID string
	Playing bool
}

// Type returns the event type.
func (e PlaybackStateChangedEvent) Type() EventType {
	return EventPlaybackStateChanged
}

// NewPlaybackStateChangedEvent creates a new PlaybackStateChangedEvent.
func NewPlaybackStateChangedEvent(mediaID string, playing bool) PlaybackStateChangedEvent {
	return PlaybackStateChangedEvent{
		baseEvent: newBaseEvent(),
		MediaID:   mediaID,
		Playing:   playing,
	}
}

// TrackEndedEvent is published after the current item reached its end.
// It is delivered from a timer goroutine, never from inside widget dispatch.
type TrackEndedEvent struct {
	baseEvent
	MediaID string
}

// Type returns the event type.
func (e TrackEndedEvent) Type() EventType {
	return EventTrackEnded
}

// NewTrackEndedEvent creates a new TrackEndedEvent.
func NewTrackEndedEvent(mediaID string) TrackEndedEvent {
	return TrackEndedEvent{
		baseEvent: newBaseEvent(),
		MediaID:   mediaID,
	}
}

// PlaybackErrorEvent is published for every recoverable widget error.
type PlaybackErrorEvent struct {
	baseEvent
	MediaID string
	Code    int
	Attempt int // retry attempt that was scheduled (1-based)
}

// Type returns the event type.
func (e PlaybackErrorEvent) Type() EventType {
	return EventPlaybackError
}

// NewPlaybackErrorEvent creates a new PlaybackErrorEvent.
func NewPlaybackErrorEvent(mediaID string, code, attempt int) PlaybackErrorEvent {
	return PlaybackErrorEvent{
		baseEvent: newBaseEvent(),
		MediaID:   mediaID,
		Code:      code,
		Attempt:   attempt,
	}
}

// PlaybackFailedEvent is published when the retry budget is exhausted.
type PlaybackFailedEvent struct {
	baseEvent
	MediaID string
	Error   error
}

// Type returns the event type.
func (e PlaybackFailedEvent) Type() EventType {
	return EventPlaybackFailed
}

// NewPlaybackFailedEvent creates a new PlaybackFailedEvent.
func NewPlaybackFailedEvent(mediaID string, err error) PlaybackFailedEvent {
	return PlaybackFailedEvent{
		baseEvent: newBaseEvent(),
		MediaID:   mediaID,
		Error:     err,
	}
}

// TrackLoadedEvent is published when the store issues a load for a track.
type TrackLoadedEvent struct {
	baseEvent
	Track Track
	Index int
	User  bool // true when the load came from the control surface
}

// Type returns the event type.
func (e TrackLoadedEvent) Type() EventType {
	return EventTrackLoaded
}

// NewTrackLoadedEvent creates a new TrackLoadedEvent.
func NewTrackLoadedEvent(track Track, index int, user bool) TrackLoadedEvent {
	return TrackLoadedEvent{
		baseEvent: newBaseEvent(),
		Track:     track,
		Index:     index,
		User:      user,
	}
}

// PlaylistUpdatedEvent is published when the playlist is replaced.
type PlaylistUpdatedEvent struct {
	baseEvent
	Playlist []Track
	Index    int
}

// Type returns the event type.
func (e PlaylistUpdatedEvent) Type() EventType {
	return EventPlaylistUpdated
}

// NewPlaylistUpdatedEvent creates a new PlaylistUpdatedEvent.
func NewPlaylistUpdatedEvent(playlist []Track, index int) PlaylistUpdatedEvent {
	return PlaylistUpdatedEvent{
		baseEvent: newBaseEvent(),
		Playlist:  playlist,
		Index:     index,
	}
}

// StateChangedEvent carries a fresh snapshot after every store mutation.
type StateChangedEvent struct {
	baseEvent
	State PlayerState
}

// Type returns the event type.
func (e StateChangedEvent) Type() EventType {
	return EventStateChanged
}

// NewStateChangedEvent creates a new StateChangedEvent.
func NewStateChangedEvent(state PlayerState) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: newBaseEvent(),
		State:     state,
	}
}

// VolumeSyncedEvent is published when another instance changed the volume.
type VolumeSyncedEvent struct {
	baseEvent
	Volume float64
}

// Type returns the event type.
func (e VolumeSyncedEvent) Type() EventType {
	return EventVolumeSynced
}

// NewVolumeSyncedEvent creates a new VolumeSyncedEvent.
func NewVolumeSyncedEvent(volume float64) VolumeSyncedEvent {
	return VolumeSyncedEvent{
		baseEvent: newBaseEvent(),
		Volume:    volume,
	}
}

// AutoplayStartedEvent is published when the session fade-in begins.
type AutoplayStartedEvent struct {
	baseEvent
	Target float64
}

// Type returns the event type.
func (e AutoplayStartedEvent) Type() EventType {
	return EventAutoplayStarted
}

// NewAutoplayStartedEvent creates a new AutoplayStartedEvent.
func NewAutoplayStartedEvent(target float64) AutoplayStartedEvent {
	return AutoplayStartedEvent{
		baseEvent: newBaseEvent(),
		Target:    target,
	}
}

// AutoplayCompletedEvent is published when the fade-in ramp ends.
type AutoplayCompletedEvent struct {
	baseEvent
	Volume    float64
	Cancelled bool
}

// Type returns the event type.
func (e AutoplayCompletedEvent) Type() EventType {
	return EventAutoplayCompleted
}

// NewAutoplayCompletedEvent creates a new AutoplayCompletedEvent.
func NewAutoplayCompletedEvent(volume float64, cancelled bool) AutoplayCompletedEvent {
	return AutoplayCompletedEvent{
		baseEvent: newBaseEvent(),
		Volume:    volume,
		Cancelled: cancelled,
	}
}

// AutoplayBlockedEvent is published when the fade-in could not start playback.
type AutoplayBlockedEvent struct {
	baseEvent
	Error error
}

// Type returns the event type.
func (e AutoplayBlockedEvent) Type() EventType {
	return EventAutoplayBlocked
}

// NewAutoplayBlockedEvent creates a new AutoplayBlockedEvent.
func NewAutoplayBlockedEvent(err error) AutoplayBlockedEvent {
	return AutoplayBlockedEvent{
		baseEvent: newBaseEvent(),
		Error:     err,
	}
}

// ScanStartedEvent is published when a library scan starts.
type ScanStartedEvent struct {
	baseEvent
	Root string
}

// Type returns the event type.
func (e ScanStartedEvent) Type() EventType {
	return EventScanStarted
}

// NewScanStartedEvent creates a new ScanStartedEvent.
func NewScanStartedEvent(root string) ScanStartedEvent {
	return ScanStartedEvent{
		baseEvent: newBaseEvent(),
		Root:      root,
	}
}

// ScanCompletedEvent is published when a library scan finishes.
type ScanCompletedEvent struct {
	baseEvent
	Root        string
	TracksFound int
	Duration    time.Duration
}

// Type returns the event type.
func (e ScanCompletedEvent) Type() EventType {
	return EventScanCompleted
}

// NewScanCompletedEvent creates a new ScanCompletedEvent.
func NewScanCompletedEvent(root string, tracksFound int, duration time.Duration) ScanCompletedEvent {
	return ScanCompletedEvent{
		baseEvent:   newBaseEvent(),
		Root:        root,
		TracksFound: tracksFound,
		Duration:    duration,
	}
}
