package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"familysite/internal/player"
	"familysite/internal/visualizer"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = socketPongWait * 9 / 10
	socketMaxMessage = 4096
	socketFrameQueue = 4
)

// socketMessage is a JSON message pushed to the widget. Spectrum frames are
// sent as binary messages holding the raw bins.
type socketMessage struct {
	Type  string        `json:"type"`
	State *player.State `json:"state,omitempty"`
	Error string        `json:"error,omitempty"`
}

// socketCommand is an intent sent by the widget
type socketCommand struct {
	Action string   `json:"action"`
	Volume *float64 `json:"volume,omitempty"`
	Muted  *bool    `json:"muted,omitempty"`
}

// handlePlayerSocket streams player state and spectrum frames to the widget
// and accepts intents from it
func (ss *SiteServer) handlePlayerSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if ss.config.Server.EnableCORS {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ss.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := ss.logger.WithFields(logrus.Fields{
		"request_id": requestIDFromContext(r.Context()),
		"remote":     r.RemoteAddr,
	})
	log.Debug("Player socket connected")

	states := ss.player.Subscribe()
	defer ss.player.Unsubscribe(states)

	frames := make(chan []byte, socketFrameQueue)
	removeListener := ss.player.Visualizer().AddListener(func(f visualizer.Frame) {
		select {
		case frames <- f.Bins:
		default:
			// Drop frames the client cannot keep up with
		}
	})
	defer removeListener()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replies := make(chan socketMessage, 8)
	go ss.readSocket(ctx, cancel, conn, replies, log)

	if err := writeSocketJSON(conn, socketMessage{Type: "state", State: ss.player.State()}); err != nil {
		return
	}

	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Player socket closed")
			return

		case _, ok := <-states:
			if !ok {
				// Dropped for falling behind; the widget reconnects
				conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "state backlog"))
				return
			}
			if err := writeSocketJSON(conn, socketMessage{Type: "state", State: ss.player.State()}); err != nil {
				return
			}

		case bins := <-frames:
			conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, bins); err != nil {
				return
			}

		case msg := <-replies:
			if err := writeSocketJSON(conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readSocket reads intents until the connection fails, then cancels ctx
func (ss *SiteServer) readSocket(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, replies chan<- socketMessage, log *logrus.Entry) {
	defer cancel()

	conn.SetReadLimit(socketMaxMessage)
	conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("Player socket read failed")
			}
			return
		}

		var cmd socketCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			ss.reply(ctx, replies, socketMessage{Type: "error", Error: "Invalid command"})
			continue
		}
		// Loading a track can take a while; keep reading pongs meanwhile
		go func(cmd socketCommand) {
			if err := ss.runSocketCommand(ctx, cmd); err != nil {
				log.WithError(err).WithField("action", cmd.Action).Debug("Player socket command failed")
				ss.reply(ctx, replies, socketMessage{Type: "error", Error: err.Error()})
			}
		}(cmd)
	}
}

// runSocketCommand applies one widget intent
func (ss *SiteServer) runSocketCommand(ctx context.Context, cmd socketCommand) error {
	switch cmd.Action {
	case "volume":
		if verr := validateVolume(cmd.Volume); verr != nil {
			return verr
		}
		ss.player.SetVolume(*cmd.Volume)
		return nil
	case "mute":
		if cmd.Muted == nil {
			ss.player.ToggleMute()
		} else {
			ss.player.SetMuted(*cmd.Muted)
		}
		return nil
	}

	if verr := validatePlayerAction(cmd.Action); verr != nil {
		return verr
	}
	return ss.dispatchAction(ctx, cmd.Action)
}

func (ss *SiteServer) reply(ctx context.Context, replies chan<- socketMessage, msg socketMessage) {
	select {
	case replies <- msg:
	case <-ctx.Done():
	}
}

func writeSocketJSON(conn *websocket.Conn, msg socketMessage) error {
	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(msg)
}
