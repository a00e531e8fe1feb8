package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Manager fans game events out to spectator WebSocket connections, pooled by
// game ID.
type Manager struct {
	gameConns map[uuid.UUID]map[*Connection]bool
	mu        sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcast
}

// Connection is one spectator socket.
type Connection struct {
	ID      string
	GameID  uuid.UUID
	Conn    *websocket.Conn
	Send    chan []byte
	manager *Manager

	ConnectedAt time.Time
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcast struct {
	GameID uuid.UUID
	Event  *GameEvent
}

// Stats reports active connection counts.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveGames      int            `json:"active_games"`
	PerGame          map[string]int `json:"per_game"`
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Spectator stream is read-only; origin checks belong to the proxy.
			return true
		},
	}
}

func NewManager(config ConnectionConfig) *Manager {
	return &Manager{
		gameConns: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1000),
	}
}

// Start processes broadcasts until the context is canceled.
func (m *Manager) Start(ctx context.Context) {
	log.Info().Msg("gateway manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway manager shutting down")
			return
		case b := <-m.broadcastCh:
			m.deliver(b)
		}
	}
}

// Upgrade turns an HTTP request into a spectator connection for a game.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) error {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		GameID:      gameID,
		Conn:        ws,
		Send:        make(chan []byte, 256),
		manager:     m,
		ConnectedAt: time.Now(),
	}
	m.register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("game_id", gameID.String()).
		Msg("spectator connected")
	return nil
}

func (m *Manager) register(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gameConns[conn.GameID] == nil {
		m.gameConns[conn.GameID] = make(map[*Connection]bool)
	}
	m.gameConns[conn.GameID][conn] = true
}

func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.gameConns[conn.GameID]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	close(conn.Send)
	if len(conns) == 0 {
		delete(m.gameConns, conn.GameID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("game_id", conn.GameID.String()).
		Msg("spectator disconnected")
}

// Broadcast queues an event for every spectator of the game. Drops the event
// when the queue is full rather than blocking the consumer.
func (m *Manager) Broadcast(gameID uuid.UUID, event *GameEvent) {
	select {
	case m.broadcastCh <- broadcast{GameID: gameID, Event: event}:
	default:
		log.Warn().Str("game_id", gameID.String()).Msg("broadcast queue full, dropping event")
	}
}

func (m *Manager) deliver(b broadcast) {
	m.mu.RLock()
	conns, ok := m.gameConns[b.GameID]
	if !ok {
		m.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(conns))
	for conn := range conns {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	data, err := json.Marshal(b.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal game event")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Slow reader; cut it loose instead of backing up everyone else.
			log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, closing connection")
			m.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// Snapshot returns the current connection stats.
func (m *Manager) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{PerGame: make(map[string]int, len(m.gameConns))}
	for gameID, conns := range m.gameConns {
		stats.TotalConnections += len(conns)
		stats.PerGame[gameID.String()] = len(conns)
	}
	stats.ActiveGames = len(m.gameConns)
	return stats
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("write to spectator failed")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	// Spectators only listen; inbound frames are drained to keep pings alive.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
