package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MessageKey identifies a renderable message template. Adapters map keys to
// their own copy and localization; the core never formats user-facing text.
type MessageKey string

const (
	KeyTurnOffered       MessageKey = "turn.offered"
	KeyTurnClaimed       MessageKey = "turn.claimed"
	KeyTurnClaimWarning  MessageKey = "turn.claim_warning"
	KeyTurnSubmitWarning MessageKey = "turn.submit_warning"
	KeyTurnSubmittedAck  MessageKey = "turn.submitted_ack"
	KeyTurnSkipped       MessageKey = "turn.skipped"
	KeyGameCompleted     MessageKey = "game.completed"
	KeyGameTerminated    MessageKey = "game.terminated"
	KeyGameDeleted       MessageKey = "game.deleted_unplayed"
	KeyContentFlagged    MessageKey = "content.flagged"
	KeySeasonOpened      MessageKey = "season.opened"
	KeySeasonStarted     MessageKey = "season.started"
	KeySeasonCompleted   MessageKey = "season.completed"
	KeySeasonTerminated  MessageKey = "season.terminated"
)

// Action is an interactive choice attached to an offer prompt.
type Action string

const (
	ActionClaim Action = "claim"
	ActionPass  Action = "pass"
)

// Message is the adapter-agnostic notification content: a template key plus
// the fields the template interpolates.
type Message struct {
	Key    MessageKey        `json:"key"`
	Fields map[string]string `json:"fields,omitempty"`
}

// NotificationPort is the abstract delivery sink. Every call is advisory:
// the caller logs failures and moves on, delivery retries belong to the
// adapter behind the port.
type NotificationPort interface {
	DM(ctx context.Context, playerID uuid.UUID, msg Message) error
	ChannelAnnounce(ctx context.Context, channelID string, msg Message) error
	Offer(ctx context.Context, playerID, turnID uuid.UUID, deadline time.Time, actions []Action, msg Message) error
}

// ChannelConfigPort resolves per-guild announcement channels.
type ChannelConfigPort interface {
	CompletedChannelID(ctx context.Context, guildID string) (string, error)
	AdminChannelID(ctx context.Context, guildID string) (string, error)
}

// LogNotifier is the development NotificationPort: it logs every delivery
// instead of sending it anywhere.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) DM(_ context.Context, playerID uuid.UUID, msg Message) error {
	log.Info().
		Str("player_id", playerID.String()).
		Str("message_key", string(msg.Key)).
		Fields(map[string]interface{}{"fields": msg.Fields}).
		Msg("notify: dm")
	return nil
}

func (n *LogNotifier) ChannelAnnounce(_ context.Context, channelID string, msg Message) error {
	log.Info().
		Str("channel_id", channelID).
		Str("message_key", string(msg.Key)).
		Fields(map[string]interface{}{"fields": msg.Fields}).
		Msg("notify: channel announce")
	return nil
}

func (n *LogNotifier) Offer(_ context.Context, playerID, turnID uuid.UUID, deadline time.Time, actions []Action, msg Message) error {
	log.Info().
		Str("player_id", playerID.String()).
		Str("turn_id", turnID.String()).
		Time("deadline", deadline).
		Int("actions", len(actions)).
		Str("message_key", string(msg.Key)).
		Msg("notify: offer prompt")
	return nil
}

// StaticChannels is a ChannelConfigPort with fixed channel IDs, used in
// development and tests.
type StaticChannels struct {
	Completed string
	Admin     string
}

func (s StaticChannels) CompletedChannelID(_ context.Context, _ string) (string, error) {
	return s.Completed, nil
}

func (s StaticChannels) AdminChannelID(_ context.Context, _ string) (string, error) {
	return s.Admin, nil
}
