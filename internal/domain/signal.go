package domain

import "time"

// Bus channels and streams.
const (
	ChannelPositions = "positions"
	ChannelTickers   = "tickers"
	StreamPositions  = "stream:positions"
)

// PositionEventType names what happened to a position.
type PositionEventType string

const (
	EventPositionCreated        PositionEventType = "position_created"
	EventPositionCreationFailed PositionEventType = "position_creation_failed"
	EventPositionOpened         PositionEventType = "position_opened"
	EventPositionGainUpdated    PositionEventType = "position_gain_updated"
	EventPositionClosing        PositionEventType = "position_closing"
	EventPositionClosed         PositionEventType = "position_closed"
)

// PositionEvent is published for every status change or gain update.
type PositionEvent struct {
	Type      PositionEventType `json:"event"`
	Position  Position          `json:"position"`
	Timestamp time.Time         `json:"timestamp"`
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode           string `json:"mode"`
	FeedConnected  bool   `json:"feed_connected"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	OpenPositions  int    `json:"open_positions"`
	TotalPositions int    `json:"total_positions"`
	StrategyName   string `json:"strategy_name"`
}
