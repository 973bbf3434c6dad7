package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lms/internal/middleware"
	"github.com/stemsi/exstem-lms/internal/model"
	"github.com/stemsi/exstem-lms/internal/response"
	"github.com/stemsi/exstem-lms/internal/session"
	"github.com/stemsi/exstem-lms/internal/validator"
	ws "github.com/stemsi/exstem-lms/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionHandler streams a live test-taking session over WebSocket.
type SessionHandler struct {
	deps     session.Deps
	opts     session.Options
	registry *session.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler. deps is the template for
// every session; its Navigator and Listener are replaced per connection.
func NewSessionHandler(deps session.Deps, opts session.Options, registry *session.Registry, log zerolog.Logger, allowedOrigins []string) *SessionHandler {
	return &SessionHandler{
		deps:     deps,
		opts:     opts,
		registry: registry,
		log:      log.With().Str("component", "session_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/student/tests/:test_id/session
// Loads the student's attempt and relays session events until the client
// disconnects. Pending answers are flushed on disconnect.
func (h *SessionHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(wsConn)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("test_id", testID.String()).
		Logger()

	deps := h.deps
	deps.Log = wsLog
	deps.Listener = session.ListenerFunc(func(ev session.Event) {
		if err := conn.WriteTyped(eventMessage(ev)); err != nil {
			wsLog.Debug().Err(err).Str("event", string(ev.Type)).Msg("Event dropped")
		}
	})
	deps.Navigator = session.NavigatorFunc(func(path string) {
		_ = conn.WriteTyped(ws.NavigateResponse{Event: ws.EventNavigate, Path: path})
	})

	sess := session.New(claims.UserID, testID, deps, h.opts)
	if prev := h.registry.Register(sess); prev != nil {
		// A second tab takes over; the old stream is told to leave.
		prev.Replace()
	}
	defer func() {
		h.registry.Unregister(sess)
		sess.Close()
		wsLog.Info().Msg("Student disconnected")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsLog.Info().Msg("Student connected")
	if err := sess.Load(ctx); err == nil {
		h.sendLoaded(conn, sess)
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(ctx, conn, sess, wsLog, data)
	}
}

func (h *SessionHandler) dispatch(ctx context.Context, conn *ws.Conn, sess *session.Session, log zerolog.Logger, data []byte) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = conn.WriteError("malformed message", nil)
		return
	}

	switch env.Action {
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !decodeAction(conn, data, &req) {
			return
		}
		raw := req.Answer
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		writeActionError(conn, sess.SetRawAnswer(req.QuestionID, raw))

	case ws.ActionClear:
		var req ws.ClearRequest
		if !decodeAction(conn, data, &req) {
			return
		}
		writeActionError(conn, sess.ClearAnswer(req.QuestionID))

	case ws.ActionClearFiles:
		var req ws.ClearRequest
		if !decodeAction(conn, data, &req) {
			return
		}
		writeActionError(conn, sess.ClearFileAnswer(ctx, req.QuestionID))

	case ws.ActionSave:
		if err := sess.SaveNow(ctx); err != nil {
			log.Warn().Err(err).Msg("Manual save failed")
			_ = conn.WriteError("save failed", nil)
			return
		}
		_ = conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved})

	case ws.ActionSubmit:
		writeActionError(conn, sess.Submit(ctx))

	case ws.ActionConnectivity:
		var req ws.ConnectivityRequest
		if !decodeAction(conn, data, &req) {
			return
		}
		sess.SetOnline(*req.Online)

	case ws.ActionVisibility:
		sess.VisibilityRestored()

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if !decodeAction(conn, data, &req) {
			return
		}
		h.navigate(conn, sess, &req)

	case ws.ActionRetry:
		if err := sess.Retry(ctx); err != nil {
			if errors.Is(err, session.ErrNotRetryable) {
				_ = conn.WriteError(err.Error(), nil)
			}
			return
		}
		h.sendLoaded(conn, sess)

	case ws.ActionProgress:
		p := sess.Progress()
		_ = conn.WriteTyped(ws.ProgressResponse{
			Event:      ws.EventProgress,
			Answered:   p.Answered,
			Total:      p.Total,
			Unanswered: p.Unanswered,
		})

	case ws.ActionPing:
		_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	default:
		log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		_ = conn.WriteError("unknown action: "+string(env.Action), nil)
	}
}

func (h *SessionHandler) navigate(conn *ws.Conn, sess *session.Session, req *ws.NavigateRequest) {
	var (
		q   model.QuestionForStudent
		err error
	)
	switch {
	case req.Index != nil:
		q, err = sess.Goto(*req.Index)
	case req.Direction == "next":
		q, err = sess.Next()
	case req.Direction == "prev":
		q, err = sess.Prev()
	default:
		_ = conn.WriteError("index or direction is required", nil)
		return
	}
	if err != nil {
		_ = conn.WriteError(err.Error(), nil)
		return
	}
	_ = conn.WriteTyped(ws.QuestionResponse{Event: ws.EventQuestion, Index: sess.Cursor(), Question: q})
}

func (h *SessionHandler) sendLoaded(conn *ws.Conn, sess *session.Session) {
	t := sess.Test()
	if t == nil {
		return
	}

	msg := ws.LoadedResponse{
		Event:   ws.EventLoaded,
		Paper:   t.Paper(),
		Answers: sess.Answers(),
		Index:   sess.Cursor(),
	}
	if course := sess.Course(); course != nil {
		msg.Course = course
	}
	if remaining, ok := sess.Remaining(); ok {
		msg.RemainingSeconds = &remaining
	}
	if mode, ok := sess.TimerMode(); ok {
		msg.TimerMode = string(mode)
	}
	_ = conn.WriteTyped(msg)
}

// decodeAction parses and validates an action payload, reporting problems
// to the client.
func decodeAction(conn *ws.Conn, data []byte, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		_ = conn.WriteError("malformed message", nil)
		return false
	}
	if fields := validator.Validate(dst); fields != nil {
		_ = conn.WriteError("validation failed", fields)
		return false
	}
	return true
}

// writeActionError reports err unless the session already alerted the
// student about it.
func writeActionError(conn *ws.Conn, err error) {
	var fe *session.FileError
	switch {
	case err == nil,
		errors.Is(err, session.ErrOffline),
		errors.Is(err, session.ErrSubmitFailed),
		errors.As(err, &fe):
		return
	}
	_ = conn.WriteError(err.Error(), nil)
}

// eventMessage converts a session event to its wire form.
func eventMessage(ev session.Event) any {
	switch ev.Type {
	case session.EventState:
		msg := ws.StateResponse{Event: ws.EventState, State: string(ev.State)}
		if f := ev.Failure; f != nil {
			msg.Error = f.Error()
			msg.Retryable = f.Retryable
			msg.ContactSupport = f.ContactSupport
		}
		return msg
	case session.EventTick:
		return ws.TickResponse{Event: ws.EventTick, RemainingSeconds: ev.Remaining}
	case session.EventSaving:
		return ws.SavingResponse{Event: ws.EventSaving, Status: string(ev.Saving)}
	case session.EventAlert:
		return ws.AlertResponse{Event: ws.EventAlert, Message: ev.Message}
	case session.EventProgress:
		return ws.ProgressResponse{Event: ws.EventProgress, Answered: ev.Answered, Total: ev.Total}
	case session.EventConnectivity:
		return ws.ConnectivityResponse{Event: ws.EventConnectivity, Online: ev.Online}
	}
	return ws.ErrorResponse{Event: ws.EventError, Error: "unknown event: " + string(ev.Type)}
}
