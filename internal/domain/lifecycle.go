package domain

// EngineState is the lifecycle state of the playback engine.
type EngineState int

const (
	EngineUninitialized EngineState = iota
	EngineScriptLoading
	EngineScriptLoaded
	EnginePlayerInitializing
	EngineReady
	EnginePlaying
	EnginePaused
	EngineEnded
	EngineError
)

// String returns a human-readable representation of the engine state.
func (s EngineState) String() string {
	switch s {
	case EngineUninitialized:
		return "uninitialized"
	case EngineScriptLoading:
		return "script_loading"
	case EngineScriptLoaded:
		return "script_loaded"
	case EnginePlayerInitializing:
		return "player_initializing"
	case EngineReady:
		return "ready"
	case EnginePlaying:
		return "playing"
	case EnginePaused:
		return "paused"
	case EngineEnded:
		return "ended"
	case EngineError:
		return "error"
	default:
		return "unknown"
	}
}

// IsReady returns true for every state at or after Ready.
// Error counts as ready: the widget exists and accepts new loads.
func (s EngineState) IsReady() bool {
	return s >= EngineReady
}

// WidgetState is the native state reported by the embed widget.
// Values follow the embed player numbering.
type WidgetState int

const (
	WidgetUnstarted WidgetState = -1
	WidgetEnded     WidgetState = 0
	WidgetPlaying   WidgetState = 1
	WidgetPaused    WidgetState = 2
	WidgetBuffering WidgetState = 3
	WidgetCued      WidgetState = 5
)

// String returns a human-readable representation of the widget state.
func (s WidgetState) String() string {
	switch s {
	case WidgetUnstarted:
		return "unstarted"
	case WidgetEnded:
		return "ended"
	case WidgetPlaying:
		return "playing"
	case WidgetPaused:
		return "paused"
	case WidgetBuffering:
		return "buffering"
	case WidgetCued:
		return "cued"
	default:
		return "unknown"
	}
}

// Gate is the combined readiness of the engine and the playlist.
type Gate int

const (
	WaitingForBoth Gate = iota
	WaitingForReady
	WaitingForPlaylist
	BothSatisfied
)

// String returns a human-readable representation of the gate.
func (g Gate) String() string {
	switch g {
	case WaitingForBoth:
		return "waiting_for_both"
	case WaitingForReady:
		return "waiting_for_ready"
	case WaitingForPlaylist:
		return "waiting_for_playlist"
	case BothSatisfied:
		return "both_satisfied"
	default:
		return "unknown"
	}
}

// EvaluateGate combines the two readiness bits. Either bit may flip first.
func EvaluateGate(ready, playlistInitialized bool) Gate {
	switch {
	case ready && playlistInitialized:
		return BothSatisfied
	case ready:
		return WaitingForPlaylist
	case playlistInitialized:
		return WaitingForReady
	default:
		return WaitingForBoth
	}
}
