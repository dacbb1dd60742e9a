package httpapi

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tejashwikalptaru/encore/internal/domain"
	"github.com/tejashwikalptaru/encore/internal/service"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 30 * time.Second
	readLimit   = 4096
	sendBacklog = 16
)

// snapshotStream fans snapshots out to websocket clients. The controller
// subscription is taken with the first client and dropped on close.
type snapshotStream struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	subID   domain.SubscriptionID
	subbed  bool
	closed  bool
	wg      sync.WaitGroup
}

func newSnapshotStream(logger *slog.Logger) *snapshotStream {
	return &snapshotStream{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// streamClient is one websocket connection.
type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// version of the newest snapshot queued, guarded by snapshotStream.mu
	version uint64
}

func (c *streamClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// serve registers conn and starts its pumps. The first message is the
// current snapshot and versions only grow after it.
func (s *snapshotStream) serve(conn *websocket.Conn, control *service.Controller) {
	client := &streamClient{
		conn: conn,
		send: make(chan []byte, sendBacklog),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	if !s.subbed {
		s.subID = control.Subscribe(s.broadcast)
		s.subbed = true
	}
	state := control.State()
	if data, err := json.Marshal(newStateResponse(state)); err == nil {
		client.send <- data
	}
	client.version = state.Version
	s.clients[client] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Debug("websocket client connected", slog.String("remote", conn.RemoteAddr().String()))

	go s.writePump(client)
	go s.readPump(client)
}

// broadcast queues state for every client. Slow clients skip snapshots and
// clients never get a snapshot older than one already queued.
func (s *snapshotStream) broadcast(state domain.PlayerState) {
	data, err := json.Marshal(newStateResponse(state))
	if err != nil {
		s.logger.Warn("failed to encode snapshot", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		if state.Version <= client.version {
			continue
		}
		select {
		case client.send <- data:
			client.version = state.Version
		default:
			s.logger.Debug("websocket client lagging, snapshot dropped")
		}
	}
}

func (s *snapshotStream) remove(client *streamClient) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
	client.stop()
}

// readPump discards client messages and notices disconnects.
func (s *snapshotStream) readPump(client *streamClient) {
	defer s.wg.Done()
	defer s.remove(client)

	client.conn.SetReadLimit(readLimit)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}
	}
}

// writePump owns all writes to the connection and closes it on exit.
func (s *snapshotStream) writePump(client *streamClient) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case data := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.remove(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(client)
				return
			}
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "player shutting down"))
			return
		}
	}
}

// close disconnects every client and waits for their pumps.
func (s *snapshotStream) close(control *service.Controller) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := make([]*streamClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.clients = make(map[*streamClient]struct{})
	subbed, id := s.subbed, s.subID
	s.mu.Unlock()

	if subbed {
		control.Unsubscribe(id)
	}
	for _, client := range clients {
		client.stop()
	}
	s.wg.Wait()
}
