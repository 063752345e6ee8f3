package web

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/callagent/internal/app"
	"github.com/MrWong99/callagent/internal/call"
	"github.com/MrWong99/callagent/internal/observe"
)

const (
	writeTimeout = 10 * time.Second

	// readLimit bounds one inbound message. Audio chunks are base64 PCM, a
	// few seconds each.
	readLimit = 4 << 20
)

func newConnID() string { return uuid.NewString() }

// conn is one websocket client. A single goroutine reads and dispatches its
// events, so a call's events are handled in arrival order; progress events
// may be written from inside a turn, hence the write lock.
type conn struct {
	srv *Server
	ws  *websocket.Conn
	id  string
	log *slog.Logger

	writeMu sync.Mutex
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		observe.Logger(r.Context()).Warn("web: websocket accept failed", "err", err)
		return
	}
	ws.SetReadLimit(readLimit)

	id := s.cfg.NewID()
	c := &conn{srv: s, ws: ws, id: id, log: observe.SessionLogger(r.Context(), id)}
	c.log.Info("client connected")

	c.serve(r.Context())
}

func (c *conn) serve(ctx context.Context) {
	sessions := c.srv.cfg.Sessions

	// Reads stop when the service drains. Turns keep ctx so they can finish.
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sessions.Draining():
			cancel()
		case <-readCtx.Done():
		}
	}()

	defer func() {
		if draining(sessions) {
			// The session stays registered for the shutdown archive.
			c.log.Info("client released for shutdown")
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		c.drop(ctx)
		c.log.Info("client disconnected")
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()

	c.send(ctx, sessionEvent{Type: EventConnected, SessionID: c.id})
	for {
		var ev inbound
		if err := wsjson.Read(readCtx, c.ws, &ev); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				c.log.Debug("websocket read ended", "err", err)
			}
			return
		}
		c.dispatch(ctx, ev)
	}
}

// drop hangs up a call whose client went away and archives what was said.
func (c *conn) drop(ctx context.Context) {
	res, err := c.srv.cfg.Sessions.Drop(ctx, c.id)
	switch {
	case errors.Is(err, app.ErrNoActiveSession):
	case err != nil:
		c.log.Error("failed to archive dropped call", "err", err)
	case res.CallID != "":
		c.log.Info("call archived after disconnect", "call_id", res.CallID)
	default:
		c.log.Info("call dropped with connection")
	}
}

func draining(sm *app.SessionManager) bool {
	select {
	case <-sm.Draining():
		return true
	default:
		return false
	}
}

func (c *conn) dispatch(ctx context.Context, ev inbound) {
	switch ev.Type {
	case EventStartCall:
		c.startCall(ctx)
	case EventAudioChunk:
		c.audioChunk(ev.Audio)
	case EventUserFinishedSpeaking:
		c.turn(ctx, func(s *call.Session) (call.TurnOutcome, error) { return s.FinishTurn(ctx) })
	case EventUserText:
		c.turn(ctx, func(s *call.Session) (call.TurnOutcome, error) { return s.SubmitText(ctx, ev.Text) })
	case EventEndCall:
		c.endCall(ctx)
	default:
		c.sendError(ctx, msgUnknownEvent+": "+ev.Type)
	}
}

func (c *conn) startCall(ctx context.Context) {
	_, opening, err := c.srv.cfg.Sessions.Open(ctx, c.id, call.WithProgress(c.progress(ctx)))
	if errors.Is(err, app.ErrDuplicateSession) {
		c.sendError(ctx, msgCallInProgress)
		return
	}
	if err != nil {
		c.log.Error("failed to start call", "err", err)
		c.sendError(ctx, "Failed to start call: "+err.Error())
		return
	}
	c.send(ctx, agentSpeaking(opening))
	c.send(ctx, sessionEvent{Type: EventCallStarted, SessionID: c.id, Greeting: opening.Text})
}

func (c *conn) progress(ctx context.Context) func(call.Progress) {
	return func(p call.Progress) {
		if p.Heard != "" {
			c.send(ctx, textEvent{Type: EventUserSpoke, Text: p.Heard})
		}
		if p.Status != "" {
			c.send(ctx, processingEvent{Type: EventProcessing, Status: p.Status})
		}
	}
}

func (c *conn) audioChunk(encoded string) {
	s, err := c.srv.cfg.Sessions.Get(c.id)
	if err != nil {
		c.sendError(context.Background(), msgNoActiveCall)
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		c.sendError(context.Background(), msgBadAudio)
		return
	}
	s.AcceptAudio(chunk)
}

func (c *conn) turn(ctx context.Context, run func(*call.Session) (call.TurnOutcome, error)) {
	s, err := c.srv.cfg.Sessions.Get(c.id)
	if err != nil {
		c.sendError(ctx, msgNoActiveCall)
		return
	}
	out, err := run(s)
	if err != nil {
		c.sendError(ctx, err.Error())
		return
	}

	switch out.Kind {
	case call.Rejected:
		c.sendError(ctx, rejectedMessage(out.Cause))
		return
	case call.AgentReplied:
		c.send(ctx, agentSpeaking(out.Reply))
	}
	if out.Terminated {
		c.endCall(ctx)
	}
}

func rejectedMessage(cause error) string {
	switch {
	case errors.Is(cause, call.ErrNoAudio):
		return msgNoAudio
	case errors.Is(cause, call.ErrSilence):
		return msgNoSpeech
	default:
		return msgNotUnderstood
	}
}

func (c *conn) endCall(ctx context.Context) {
	res, err := c.srv.cfg.Sessions.Close(ctx, c.id)
	if errors.Is(err, app.ErrNoActiveSession) {
		c.sendError(ctx, msgNoActiveCall)
		return
	}
	if err != nil && errors.Is(err, call.ErrPersistenceFailure) {
		c.sendError(ctx, "Call could not be saved: "+err.Error())
	} else if err != nil {
		c.sendError(ctx, err.Error())
		return
	}
	c.send(ctx, callEnded(res))
}

func (c *conn) sendError(ctx context.Context, msg string) {
	c.send(ctx, errorEvent{Type: EventError, Message: msg})
}

func (c *conn) send(ctx context.Context, v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, v); err != nil {
		c.log.Debug("websocket write failed", "err", err)
	}
}
