package domain

const (
	EventNameSessionCreated = "session.created"
	EventNameGameStarted    = "game.started"
	EventNameRoundStarted   = "round.started"
	EventNameRoundFinished  = "round.finished"
	EventNameRoundAdvanced  = "round.advanced"
	EventNameGameEnded      = "game.ended"
	EventNameChatPosted     = "chat.posted"
)

type EventSessionCreated struct {
	Code   string
	Mode   Mode
	HostID string
}

func (EventSessionCreated) Name() string { return EventNameSessionCreated }

type EventGameStarted struct {
	Code string
	Mode Mode
}

func (EventGameStarted) Name() string { return EventNameGameStarted }

type EventRoundStarted struct {
	Code  string
	Round int
}

func (EventRoundStarted) Name() string { return EventNameRoundStarted }

type EventRoundFinished struct {
	Code       string
	Round      int
	WinnerID   string
	WinnerKind WinnerKind
}

func (EventRoundFinished) Name() string { return EventNameRoundFinished }

type EventRoundAdvanced struct {
	Code  string
	Round int
}

func (EventRoundAdvanced) Name() string { return EventNameRoundAdvanced }

type EventGameEnded struct {
	Code string
}

func (EventGameEnded) Name() string { return EventNameGameEnded }

type EventChatPosted struct {
	Code    string
	Message ChatMessage
}

func (EventChatPosted) Name() string { return EventNameChatPosted }
