// Package mpris publishes the player on the D-Bus session bus through the
// MPRIS2 interface, so desktop media keys and applets can drive it.
package mpris

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/tejashwikalptaru/encore/internal/domain"
)

const (
	// BusName is the well-known name requested on the session bus.
	BusName = "org.mpris.MediaPlayer2.encore"

	objectPath     = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	rootInterface  = "org.mpris.MediaPlayer2"
	playerIface    = "org.mpris.MediaPlayer2.Player"
	noTrack        = dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")
	trackPathRoot  = "/org/encore/track/"
	microsPerSec   = 1_000_000
	identity       = "encore"
	desktopEntry   = "encore"
	statusPlaying  = "Playing"
	statusPaused   = "Paused"
	statusStopped  = "Stopped"
	loopAroundList = "Playlist"
)

// ErrNameTaken is returned when another process owns BusName.
var ErrNameTaken = errors.New("mpris: bus name already owned")

// Controller is the part of the player surface MPRIS drives.
type Controller interface {
	State() domain.PlayerState
	Play() error
	Pause() error
	TogglePlayPause() error
	Next()
	Previous()
	SetVolume(volume float64) error
	SeekTo(seconds float64) error
	Subscribe(fn func(domain.PlayerState)) domain.SubscriptionID
	Unsubscribe(id domain.SubscriptionID)
}

// Player is the exported org.mpris.MediaPlayer2.Player object.
//
// Thread-safety: D-Bus calls arrive on the connection's goroutine while
// snapshots arrive on the publisher's; published values are guarded by mu.
type Player struct {
	logger  *slog.Logger
	control Controller
	conn    *dbus.Conn
	props   *prop.Properties

	mu        sync.Mutex
	subID     domain.SubscriptionID
	published map[string]any
	closed    bool
}

// NewPlayer creates an unexported player object. Register connects it to the bus.
func NewPlayer(logger *slog.Logger, control Controller) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		logger:    logger.With(slog.String("component", "mpris")),
		control:   control,
		published: make(map[string]any),
	}
}

// Register connects to the session bus, exports the MPRIS objects and claims BusName.
func Register(logger *slog.Logger, control Controller) (*Player, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}

	p := NewPlayer(logger, control)
	if err := p.export(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Player) export(conn *dbus.Conn) error {
	if err := conn.Export(p, objectPath, playerIface); err != nil {
		return err
	}
	if err := conn.Export(rootObject{}, objectPath, rootInterface); err != nil {
		return err
	}

	state := p.control.State()
	props, err := prop.Export(conn, objectPath, map[string]map[string]*prop.Prop{
		rootInterface: {
			"CanQuit":             {Value: false, Writable: false, Emit: prop.EmitFalse},
			"CanRaise":            {Value: false, Writable: false, Emit: prop.EmitFalse},
			"HasTrackList":        {Value: false, Writable: false, Emit: prop.EmitFalse},
			"Identity":            {Value: identity, Writable: false, Emit: prop.EmitFalse},
			"DesktopEntry":        {Value: desktopEntry, Writable: false, Emit: prop.EmitFalse},
			"SupportedUriSchemes": {Value: []string{"file"}, Writable: false, Emit: prop.EmitFalse},
			"SupportedMimeTypes":  {Value: []string{}, Writable: false, Emit: prop.EmitFalse},
		},
		playerIface: p.playerProps(state),
	})
	if err != nil {
		return err
	}

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       rootInterface,
				Methods:    introspect.Methods(rootObject{}),
				Properties: props.Introspection(rootInterface),
			},
			{
				Name:       playerIface,
				Methods:    introspect.Methods(p),
				Properties: props.Introspection(playerIface),
				Signals: []introspect.Signal{{
					Name: "Seeked",
					Args: []introspect.Arg{{Name: "Position", Type: "x"}},
				}},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrNameTaken
	}

	p.mu.Lock()
	p.conn = conn
	p.props = props
	p.published = playerValues(state)
	p.mu.Unlock()

	id := p.control.Subscribe(p.onState)
	p.mu.Lock()
	p.subID = id
	p.mu.Unlock()

	p.logger.Info("registered on session bus", slog.String("name", BusName))
	return nil
}

// playerProps builds the Player property table for the initial state.
func (p *Player) playerProps(state domain.PlayerState) map[string]*prop.Prop {
	props := map[string]*prop.Prop{
		"LoopStatus":  {Value: loopAroundList, Writable: false, Emit: prop.EmitFalse},
		"Rate":        {Value: 1.0, Writable: false, Emit: prop.EmitFalse},
		"MinimumRate": {Value: 1.0, Writable: false, Emit: prop.EmitFalse},
		"MaximumRate": {Value: 1.0, Writable: false, Emit: prop.EmitFalse},
		"Shuffle":     {Value: false, Writable: false, Emit: prop.EmitFalse},
		"CanControl":  {Value: true, Writable: false, Emit: prop.EmitFalse},
		"Position":    {Value: int64(0), Writable: false, Emit: prop.EmitFalse},
	}
	for name, value := range playerValues(state) {
		props[name] = &prop.Prop{Value: value, Writable: false, Emit: prop.EmitTrue}
	}
	props["Position"].Value = position(state)
	props["Volume"].Writable = true
	props["Volume"].Callback = p.volumeChange
	return props
}

// playerValues returns the Player properties that follow the snapshot.
func playerValues(state domain.PlayerState) map[string]any {
	hasTracks := len(state.Playlist) > 0
	loaded := state.Track != nil
	return map[string]any{
		"PlaybackStatus": playbackStatus(state),
		"Metadata":       metadata(state),
		"Volume":         state.Volume,
		"CanGoNext":      hasTracks,
		"CanGoPrevious":  hasTracks,
		"CanPlay":        loaded || hasTracks,
		"CanPause":       loaded,
		"CanSeek":        loaded && state.Duration > 0,
	}
}

// onState pushes changed properties to the bus.
func (p *Player) onState(state domain.PlayerState) {
	values := playerValues(state)

	p.mu.Lock()
	if p.closed || p.props == nil {
		p.mu.Unlock()
		return
	}
	props := p.props
	var changed []string
	for name, value := range values {
		if !sameValue(p.published[name], value) {
			p.published[name] = value
			changed = append(changed, name)
		}
	}
	p.mu.Unlock()

	props.SetMust(playerIface, "Position", position(state))
	for _, name := range changed {
		props.SetMust(playerIface, name, values[name])
	}
}

// sameValue compares property values; metadata maps compare entry by entry.
func sameValue(a, b any) bool {
	am, aok := a.(map[string]dbus.Variant)
	bm, bok := b.(map[string]dbus.Variant)
	if aok || bok {
		if !aok || !bok || len(am) != len(bm) {
			return false
		}
		for key, av := range am {
			bv, ok := bm[key]
			if !ok || av.String() != bv.String() {
				return false
			}
		}
		return true
	}
	return a == b
}

// playbackStatus maps the snapshot to the MPRIS status string.
func playbackStatus(state domain.PlayerState) string {
	switch {
	case state.IsPlaying:
		return statusPlaying
	case state.IsPaused && state.Track != nil:
		return statusPaused
	default:
		return statusStopped
	}
}

// trackPath returns the MPRIS object path of a track.
func trackPath(track *domain.Track) dbus.ObjectPath {
	if track == nil || track.ID == "" {
		return noTrack
	}
	return dbus.ObjectPath(trackPathRoot + "t" + hex.EncodeToString([]byte(track.ID)))
}

func micros(seconds float64) int64 {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int64(math.Round(seconds * microsPerSec))
}

func position(state domain.PlayerState) int64 {
	return micros(state.CurrentTime)
}

// metadata builds the xesam/mpris metadata map of the loaded track.
func metadata(state domain.PlayerState) map[string]dbus.Variant {
	out := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(trackPath(state.Track)),
	}
	track := state.Track
	if track == nil {
		return out
	}

	length := state.Duration
	if length <= 0 && track.DurationSeconds != nil {
		length = *track.DurationSeconds
	}
	out["mpris:length"] = dbus.MakeVariant(micros(length))
	out["xesam:title"] = dbus.MakeVariant(track.Title)
	out["xesam:artist"] = dbus.MakeVariant([]string{track.Artist})
	if track.AlbumCoverURL != nil {
		out["mpris:artUrl"] = dbus.MakeVariant(*track.AlbumCoverURL)
	}
	if len(track.Tags) > 0 {
		out["xesam:genre"] = dbus.MakeVariant(track.Tags)
	}
	if track.ReleaseDate != "" {
		out["xesam:contentCreated"] = dbus.MakeVariant(track.ReleaseDate)
	}
	if track.Description != "" {
		out["xesam:comment"] = dbus.MakeVariant([]string{track.Description})
	}
	return out
}

func (p *Player) failed(op string, err error) *dbus.Error {
	if err == nil {
		return nil
	}
	p.logger.Warn("mpris command failed", slog.String("op", op), slog.Any("error", err))
	return dbus.MakeFailedError(err)
}

// Player interface methods

// Next skips to the next track.
func (p *Player) Next() *dbus.Error {
	p.control.Next()
	return nil
}

// Previous goes back to the previous track.
func (p *Player) Previous() *dbus.Error {
	p.control.Previous()
	return nil
}

// Pause pauses playback when playing.
func (p *Player) Pause() *dbus.Error {
	if !p.control.State().IsPlaying {
		return nil
	}
	return p.failed("Pause", p.control.Pause())
}

// Play starts or resumes playback.
func (p *Player) Play() *dbus.Error {
	if p.control.State().IsPlaying {
		return nil
	}
	return p.failed("Play", p.control.Play())
}

// PlayPause toggles playback.
func (p *Player) PlayPause() *dbus.Error {
	return p.failed("PlayPause", p.control.TogglePlayPause())
}

// Stop pauses and rewinds to the start of the track.
func (p *Player) Stop() *dbus.Error {
	if err := p.control.Pause(); err != nil {
		return p.failed("Stop", err)
	}
	return p.failed("Stop", p.control.SeekTo(0))
}

// Seek moves by offset microseconds. Seeking past the end skips to the next track.
func (p *Player) Seek(offset int64) *dbus.Error {
	state := p.control.State()
	if state.Track == nil {
		return nil
	}

	target := state.CurrentTime + float64(offset)/microsPerSec
	if target < 0 {
		target = 0
	}
	if state.Duration > 0 && target > state.Duration {
		p.control.Next()
		return nil
	}
	if err := p.control.SeekTo(target); err != nil {
		return p.failed("Seek", err)
	}
	p.emitSeeked(target)
	return nil
}

// SetPosition jumps to an absolute position in the given track. Stale track
// ids and out of range positions are ignored.
func (p *Player) SetPosition(track dbus.ObjectPath, pos int64) *dbus.Error {
	state := p.control.State()
	if state.Track == nil || track != trackPath(state.Track) || pos < 0 {
		return nil
	}

	target := float64(pos) / microsPerSec
	if state.Duration > 0 && target > state.Duration {
		return nil
	}
	if err := p.control.SeekTo(target); err != nil {
		return p.failed("SetPosition", err)
	}
	p.emitSeeked(target)
	return nil
}

// OpenUri is not supported; tracks come from playlists.
func (p *Player) OpenUri(string) *dbus.Error {
	return dbus.MakeFailedError(errors.New("opening URIs is not supported"))
}

func (p *Player) emitSeeked(seconds float64) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Emit(objectPath, playerIface+".Seeked", micros(seconds)); err != nil {
		p.logger.Debug("failed to emit Seeked", slog.Any("error", err))
	}
}

func (p *Player) volumeChange(c *prop.Change) *dbus.Error {
	volume, ok := c.Value.(float64)
	if !ok {
		return dbus.MakeFailedError(errors.New("volume must be a double"))
	}
	p.logger.Debug("volume set over mpris", slog.Float64("volume", volume))
	return p.failed("Volume", p.control.SetVolume(volume))
}

// Close releases the bus name and the connection.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	id := p.subID
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	p.control.Unsubscribe(id)
	if _, err := conn.ReleaseName(BusName); err != nil {
		p.logger.Debug("failed to release bus name", slog.Any("error", err))
	}
	return conn.Close()
}

// rootObject is the org.mpris.MediaPlayer2 object.
type rootObject struct{}

// Raise is a no-op; the player has no window.
func (rootObject) Raise() *dbus.Error { return nil }

// Quit is not supported.
func (rootObject) Quit() *dbus.Error { return nil }
