package domain

import (
	"fmt"
	"sort"
	"time"
)

type Mode string

const (
	ModeRace Mode = "RACE"
	ModeTeam Mode = "TEAM"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type WinnerKind string

const (
	WinnerHuman WinnerKind = "human"
	WinnerAI    WinnerKind = "ai"
	WinnerNone  WinnerKind = "none"
)

// AIPlayerID is the reserved sender id for the model in TEAM mode chat.
const AIPlayerID = "AI"

// Session is one game instance from lobby through game-over. It lives as a
// single document in the shared store; every client mutates it through
// read-validate-write, so any field may be stale by the time it is read back.
type Session struct {
	Code            string            `json:"code"`
	Mode            Mode              `json:"mode"`
	Status          Status            `json:"status"`
	HostID          string            `json:"hostId"`
	CurrentRound    int               `json:"currentRound"`
	MaxRounds       int               `json:"maxRounds"`
	CurrentWord     string            `json:"currentWord"`
	PreviousWord    string            `json:"previousWord"`
	CurrentDrawerID string            `json:"currentDrawerId,omitempty"`
	RoundStatus     Status            `json:"roundStatus"`
	RoundStartTime  int64             `json:"roundStartTime,omitempty"`
	RoundWaitingAt  int64             `json:"roundWaitingAt,omitempty"`
	RoundWinner     string            `json:"roundWinner,omitempty"`
	RoundWinnerKind WinnerKind        `json:"roundWinnerKind,omitempty"`
	AIScore         int               `json:"aiScore"`
	CurrentDrawing  string            `json:"currentDrawing,omitempty"`
	RoundDurationMS int64             `json:"roundDurationMs"`
	AIThreshold     float64           `json:"aiThreshold"`
	CreatedAt       int64             `json:"createdAt"`
	Players         map[string]Player `json:"players"`
}

type Player struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Avatar           string  `json:"avatar"`
	Score            int     `json:"score"`
	RoundsWon        int     `json:"roundsWon"`
	IsHost           bool    `json:"isHost"`
	IsOnline         bool    `json:"isOnline"`
	LastSeen         int64   `json:"lastSeen"`
	IsReady          bool    `json:"isReady"`
	HasFinishedRound bool    `json:"hasFinishedRound"`
	FinishTime       int64   `json:"finishTime,omitempty"`
	Confidence       float64 `json:"confidence"`
}

// PresenceRecord is kept apart from Player so heartbeats touch a small
// document instead of the whole session.
type PresenceRecord struct {
	Online     bool   `json:"online"`
	LastSeen   int64  `json:"lastSeen"`
	PlayerName string `json:"playerName,omitempty"`
	JoinedAt   int64  `json:"joinedAt,omitempty"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
	Timestamp int64  `json:"timestamp"`
}

// RoundDuration returns the configured round length of the session.
func (s *Session) RoundDuration() time.Duration {
	return time.Duration(s.RoundDurationMS) * time.Millisecond
}

// PlayerIDs returns the session's player ids in lexical order. Every
// client must iterate players in the same order for drawer rotation and
// host migration to pick the same player everywhere.
func (s *Session) PlayerIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextDrawer returns the player after the current drawer in rotation
// order, wrapping around. With no current drawer it returns the first.
func (s *Session) NextDrawer() string {
	ids := s.PlayerIDs()
	if len(ids) == 0 {
		return ""
	}

	cur := -1
	for i, id := range ids {
		if id == s.CurrentDrawerID {
			cur = i
			break
		}
	}

	return ids[(cur+1)%len(ids)]
}

// AllReady reports whether every known player has readied up for the
// current round. Whether stale players should be excluded is the
// caller's decision; this counts everyone in the document.
func (s *Session) AllReady() bool {
	if len(s.Players) == 0 {
		return false
	}

	for _, p := range s.Players {
		if !p.IsReady {
			return false
		}
	}

	return true
}

// Store paths.

func SessionPath(code string) string {
	return "sessions/" + code
}

func ChatPath(code string) string {
	return SessionPath(code) + "/chat"
}

func PresenceTreePath(code string) string {
	return "presence/" + code
}

func PresencePath(code, playerID string) string {
	return PresenceTreePath(code) + "/" + playerID
}

// PlayerField addresses a single player field for a partial update of
// the session document, e.g. players/<id>/isReady.
func PlayerField(playerID, field string) string {
	return fmt.Sprintf("players/%s/%s", playerID, field)
}
