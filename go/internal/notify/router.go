package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/models"
	"github.com/mcdev12/sketchparty/go/internal/outbox"
)

// Envelope is the wire shape published by the outbox relay.
type Envelope struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// GameLookup resolves games for guild routing.
type GameLookup interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
}

// SeasonLookup resolves seasons for guild routing.
type SeasonLookup interface {
	GetSeason(ctx context.Context, id uuid.UUID) (*models.Season, error)
}

// Router translates intent envelopes into NotificationPort calls. Routing is
// best-effort end to end: an event the router cannot place (unknown type,
// missing guild) is dropped with a log line, never retried forever.
type Router struct {
	port     NotificationPort
	channels ChannelConfigPort
	games    GameLookup
	seasons  SeasonLookup
}

func NewRouter(port NotificationPort, channels ChannelConfigPort, games GameLookup, seasons SeasonLookup) *Router {
	return &Router{port: port, channels: channels, games: games, seasons: seasons}
}

// Route dispatches one envelope. A nil return with no delivery means the
// event type is not ours to deliver; errors are transient delivery failures
// the consumer may redeliver.
func (r *Router) Route(ctx context.Context, env Envelope) error {
	switch env.EventType {
	case outbox.EventTurnOffered:
		var p outbox.TurnOfferedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.port.Offer(ctx, p.PlayerID, p.TurnID, p.Deadline,
			[]Action{ActionClaim, ActionPass},
			Message{Key: KeyTurnOffered, Fields: map[string]string{
				"game_id":  p.GameID.String(),
				"deadline": p.Deadline.Format(time.RFC3339),
			}})

	case outbox.EventTurnClaimed:
		var p outbox.TurnClaimedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.port.DM(ctx, p.PlayerID, Message{Key: KeyTurnClaimed, Fields: map[string]string{
			"game_id":  p.GameID.String(),
			"turn_id":  p.TurnID.String(),
			"deadline": p.Deadline.Format(time.RFC3339),
		}})

	case outbox.EventTurnWarning:
		var p outbox.TurnWarningPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		key := KeyTurnSubmitWarning
		if p.IsClaimWarn {
			key = KeyTurnClaimWarning
		}
		return r.port.DM(ctx, p.PlayerID, Message{Key: key, Fields: map[string]string{
			"game_id":   p.GameID.String(),
			"turn_id":   p.TurnID.String(),
			"remaining": p.Remaining.String(),
		}})

	case outbox.EventTurnSubmittedAck:
		var p outbox.TurnSubmittedAckPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.port.DM(ctx, p.PlayerID, Message{Key: KeyTurnSubmittedAck, Fields: map[string]string{
			"game_id": p.GameID.String(),
		}})

	case outbox.EventTurnSkipped:
		var p outbox.TurnSkippedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		if p.PlayerID == nil {
			// Skipped while unassigned, nobody to tell.
			return nil
		}
		return r.port.DM(ctx, *p.PlayerID, Message{Key: KeyTurnSkipped, Fields: map[string]string{
			"game_id": p.GameID.String(),
		}})

	case outbox.EventGameDeletedInitialTurnTimeout:
		var p outbox.GameDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.port.DM(ctx, p.PlayerID, Message{Key: KeyGameDeleted, Fields: map[string]string{
			"game_id": p.GameID.String(),
		}})

	case outbox.EventGameCompleted:
		var p outbox.GameCompletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.announceGame(ctx, p.Game, false, Message{Key: KeyGameCompleted, Fields: map[string]string{
			"game_id": p.Game.ID.String(),
			"reason":  p.Reason,
		}})

	case outbox.EventGameTerminated:
		var p outbox.GameTerminatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.announceGame(ctx, p.Game, true, Message{Key: KeyGameTerminated, Fields: map[string]string{
			"game_id": p.Game.ID.String(),
		}})

	case outbox.EventContentFlagged:
		var p outbox.ContentFlaggedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		g, err := r.games.GetGame(ctx, p.Turn.GameID)
		if err != nil {
			return fmt.Errorf("resolve flagged game: %w", err)
		}
		return r.announceGame(ctx, *g, true, Message{Key: KeyContentFlagged, Fields: map[string]string{
			"game_id":    p.Turn.GameID.String(),
			"turn_id":    p.Turn.ID.String(),
			"flagger_id": p.FlaggerID.String(),
		}})

	case outbox.EventSeasonOpened:
		var p outbox.SeasonOpenedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.announceSeason(ctx, p.Season, false, Message{Key: KeySeasonOpened, Fields: map[string]string{
			"season_id": p.Season.ID.String(),
			"closes_at": p.ClosesAt.Format(time.RFC3339),
		}})

	case outbox.EventSeasonStarted:
		var p outbox.SeasonStartedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.announceSeason(ctx, p.Season, false, Message{Key: KeySeasonStarted, Fields: map[string]string{
			"season_id": p.Season.ID.String(),
			"games":     fmt.Sprintf("%d", p.GameCount),
		}})

	case outbox.EventSeasonCompleted:
		var p outbox.SeasonCompletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.announceSeason(ctx, p.Season, false, Message{Key: KeySeasonCompleted, Fields: map[string]string{
			"season_id": p.Season.ID.String(),
		}})

	case outbox.EventSeasonTerminated:
		var p outbox.SeasonTerminatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.EventType, err)
		}
		return r.announceSeason(ctx, p.Season, true, Message{Key: KeySeasonTerminated, Fields: map[string]string{
			"season_id": p.Season.ID.String(),
		}})

	default:
		log.Debug().Str("event_type", env.EventType).Msg("no notification route for event")
		return nil
	}
}

// announceGame posts a game announcement to the guild's completed channel, or
// the admin channel when admin is set.
func (r *Router) announceGame(ctx context.Context, g models.Game, admin bool, msg Message) error {
	guildID, err := r.guildForGame(ctx, g)
	if err != nil {
		return err
	}
	if guildID == "" {
		log.Warn().Str("game_id", g.ID.String()).Str("message_key", string(msg.Key)).Msg("no guild for game announcement")
		return nil
	}
	return r.announce(ctx, guildID, admin, msg)
}

func (r *Router) announceSeason(ctx context.Context, s models.Season, admin bool, msg Message) error {
	if s.GuildID == nil || *s.GuildID == "" {
		log.Warn().Str("season_id", s.ID.String()).Str("message_key", string(msg.Key)).Msg("no guild for season announcement")
		return nil
	}
	return r.announce(ctx, *s.GuildID, admin, msg)
}

func (r *Router) announce(ctx context.Context, guildID string, admin bool, msg Message) error {
	var (
		channelID string
		err       error
	)
	if admin {
		channelID, err = r.channels.AdminChannelID(ctx, guildID)
	} else {
		channelID, err = r.channels.CompletedChannelID(ctx, guildID)
	}
	if err != nil {
		return fmt.Errorf("resolve channel for guild %s: %w", guildID, err)
	}
	if channelID == "" {
		log.Warn().Str("guild_id", guildID).Str("message_key", string(msg.Key)).Msg("guild has no channel configured")
		return nil
	}
	return r.port.ChannelAnnounce(ctx, channelID, msg)
}

// guildForGame resolves the guild: on-demand games carry it, season games go
// through their season.
func (r *Router) guildForGame(ctx context.Context, g models.Game) (string, error) {
	if g.GuildID != nil {
		return *g.GuildID, nil
	}
	if g.SeasonID == nil {
		return "", nil
	}
	s, err := r.seasons.GetSeason(ctx, *g.SeasonID)
	if err != nil {
		return "", fmt.Errorf("resolve game season: %w", err)
	}
	if s.GuildID == nil {
		return "", nil
	}
	return *s.GuildID, nil
}
