package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/presence"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The store, not the transport, is the trust boundary.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsFrame is one pushed store snapshot.
type wsFrame struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data,omitempty"`
}

// streamSession upgrades to a websocket and pushes every committed
// write under sessions/{code} (the session document and its chat) in
// store commit order, starting with the current snapshot. A connection
// that identifies its player with the playerId query parameter doubles
// as that player's presence heartbeat for as long as it stays open.
func (a *API) streamSession(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")
	path := domain.SessionPath(code)

	sub, err := a.st.Subscribe(ctx, path)
	if err != nil {
		fail(c, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(ctx, "api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if playerID := c.Query("playerId"); playerID != "" {
		tracker := presence.NewTracker(presence.Config{
			Store:      a.st,
			Code:       code,
			PlayerID:   playerID,
			PlayerName: c.Query("name"),
		})
		if err := tracker.Start(ctx); err != nil {
			slog.ErrorContext(ctx, "api: presence tracking failed",
				"session", code, "player", playerID, "error", err)
		} else {
			// The request context dies with the connection; the offline
			// write must still go out.
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := tracker.Stop(stopCtx); err != nil {
					slog.ErrorContext(ctx, "api: presence stop failed",
						"session", code, "player", playerID, "error", err)
				}
			}()
		}
	}

	// Initial snapshot so the client does not wait for the next write.
	if snap, err := a.st.Get(ctx, path); err == nil && snap.Exists() {
		if err := writeFrame(conn, wsFrame{Path: path, Data: snap.Raw()}); err != nil {
			return
		}
	}

	// Reader goroutine: we never expect client frames, but reading is
	// what surfaces the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeFrame(conn, wsFrame{Path: ev.Path, Data: ev.Data}); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f wsFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}

	return conn.WriteJSON(f)
}
