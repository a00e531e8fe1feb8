package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(m *Manager, gameID uuid.UUID) *Connection {
	conn := &Connection{
		ID:      uuid.New().String(),
		GameID:  gameID,
		Send:    make(chan []byte, 4),
		manager: m,
	}
	m.register(conn)
	return conn
}

func TestDeliverReachesOnlyGameSpectators(t *testing.T) {
	m := NewManager(DefaultConnectionConfig())
	gameA := uuid.New()
	gameB := uuid.New()

	connA1 := newTestConn(m, gameA)
	connA2 := newTestConn(m, gameA)
	connB := newTestConn(m, gameB)

	event := &GameEvent{
		ID:        uuid.New().String(),
		GameID:    gameA.String(),
		Type:      "TurnSubmittedAck",
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"player_id":"x"}`),
	}
	m.deliver(broadcast{GameID: gameA, Event: event})

	for _, conn := range []*Connection{connA1, connA2} {
		select {
		case raw := <-conn.Send:
			var got GameEvent
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, event.ID, got.ID)
			assert.Equal(t, "TurnSubmittedAck", got.Type)
		default:
			t.Fatal("expected event on spectator send queue")
		}
	}
	assert.Empty(t, connB.Send)
}

func TestUnregisterPrunesEmptyGamePools(t *testing.T) {
	m := NewManager(DefaultConnectionConfig())
	gameID := uuid.New()
	conn := newTestConn(m, gameID)

	stats := m.Snapshot()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveGames)

	m.unregister(conn)
	// A second unregister must not double-close the send channel.
	m.unregister(conn)

	stats = m.Snapshot()
	assert.Zero(t, stats.TotalConnections)
	assert.Zero(t, stats.ActiveGames)
	assert.Empty(t, stats.PerGame)
}

func TestHandleGameConnectionRejectsBadIDs(t *testing.T) {
	h := NewHandler(NewManager(DefaultConnectionConfig()))

	rec := httptest.NewRecorder()
	h.HandleGameConnection(rec, httptest.NewRequest(http.MethodGet, "/ws/game", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleGameConnection(rec, httptest.NewRequest(http.MethodGet, "/ws/game?game_id=not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatsReportsCounts(t *testing.T) {
	m := NewManager(DefaultConnectionConfig())
	gameID := uuid.New()
	newTestConn(m, gameID)
	h := NewHandler(m)

	rec := httptest.NewRecorder()
	h.HandleStats(rec, httptest.NewRequest(http.MethodGet, "/ws/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.PerGame[gameID.String()])
}
