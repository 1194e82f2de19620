package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/auriclabs/auric/internal/config"
	"github.com/auriclabs/auric/internal/domains/user"
	"github.com/auriclabs/auric/internal/session"
	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

// pingInterval paces the server keepalive events on the listen socket.
const pingInterval = 10 * time.Second

// SessionFactory builds one pipeline session; the app layer closes
// over the shared services (provider, repositories, translator) and
// the per-uid speech profile lookup.
type SessionFactory func(ctx context.Context, cfg session.Config) (*session.Session, error)

// Handler owns the listen endpoint: socket upgrade, token auth, the
// device frame protocol and the bridge into the pipeline session.
type Handler struct {
	logger      *Logger.Logger
	settings    *config.Settings
	userService user.UserService
	factory     SessionFactory
	manager     *ConnectionManager
	upgrader    websocket.Upgrader
}

func NewHandler(
	logger *Logger.Logger,
	settings *config.Settings,
	userService user.UserService,
	factory SessionFactory,
) *Handler {
	return &Handler{
		logger:      logger,
		settings:    settings,
		userService: userService,
		factory:     factory,
		manager:     NewConnectionManager(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// device sockets carry their own token auth
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	ws := router.Group("/ws")
	{
		ws.GET("/listen", h.HandleListen)
		ws.GET("/stats", h.HandleStats)
	}
}

// listenState is the per-socket pipeline hookup. The pipeline opens on
// the first open control op (or immediately when the client passes the
// open args as query params, the way wearable firmware does).
type listenState struct {
	pipeline *session.Session
	cancel   context.CancelFunc
	codec    types.Codec
	openedAt time.Time

	// staged before open
	language string
	geo      *types.Geolocation

	badFrames uint64
}

// HandleListen upgrades the device socket and pumps it until either
// side goes away.
func (h *Handler) HandleListen(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	claims, err := h.userService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		h.logger.Debugf("listen token rejected: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("listen upgrade failed for uid %s: %v", claims.UID, err)
		return
	}

	conn := NewConn(claims.UID, claims.DeviceID, ws)
	defer conn.Close()

	h.manager.Register(conn)
	defer h.manager.Unregister(conn)

	state := &listenState{language: c.Query("language")}

	// firmware passes the open args in the query string instead of
	// sending an open op
	if codec := c.Query("codec"); codec != "" {
		args := OpenArgs{
			Codec:           codec,
			SampleRate:      intQuery(c, "sample_rate"),
			Language:        c.Query("language"),
			SpeechProfileID: c.Query("speech_profile_id"),
		}
		if err := h.openPipeline(conn, state, args); err != nil {
			h.logger.Errorf("opening pipeline for uid %s: %v", conn.UID, err)
			conn.SendError("OPEN_FAILED", "could not start session")
			return
		}
	}

	h.readLoop(conn, state)
	h.stopPipeline(conn, state)
}

// HandleStats reports the live socket inventory.
func (h *Handler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   h.manager.Stats(),
	})
}

func (h *Handler) readLoop(conn *Conn, state *listenState) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Errorf("listen read error for uid %s: %v", conn.UID, err)
			} else {
				h.logger.Infof("listen socket closed for uid %s (session %s)", conn.UID, conn.SessionID)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			h.handleControl(conn, state, data)
		case websocket.BinaryMessage:
			h.handleAudio(conn, state, data)
		}
	}
}

func (h *Handler) handleControl(conn *Conn, state *listenState, data []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debugf("bad control frame from uid %s: %v", conn.UID, err)
		conn.SendError("INVALID_MESSAGE", "control frame is not valid JSON")
		return
	}

	switch msg.Op {
	case OpOpen:
		var args OpenArgs
		if err := json.Unmarshal(msg.Args, &args); err != nil {
			conn.SendError("INVALID_ARGS", "open args malformed")
			return
		}
		if err := h.openPipeline(conn, state, args); err != nil {
			h.logger.Errorf("opening pipeline for uid %s: %v", conn.UID, err)
			conn.SendError("OPEN_FAILED", "could not start session")
		}

	case OpClose:
		if state.pipeline != nil {
			state.pipeline.CloseConversation()
		}

	case OpPing:
		conn.SendEvent(types.MessageEvent{
			Type:      types.EventPing,
			SessionID: conn.SessionID,
			Timestamp: time.Now(),
		})

	case OpSetLanguage:
		var args SetLanguageArgs
		if err := json.Unmarshal(msg.Args, &args); err != nil || args.Language == "" {
			conn.SendError("INVALID_ARGS", "set_language args malformed")
			return
		}
		if state.pipeline != nil {
			// provider streams are opened with a fixed language
			conn.SendError("LANGUAGE_LOCKED", "language cannot change while a session is open")
			return
		}
		state.language = args.Language

	case OpGeolocation:
		var args GeolocationArgs
		if err := json.Unmarshal(msg.Args, &args); err != nil {
			conn.SendError("INVALID_ARGS", "geolocation args malformed")
			return
		}
		geo := types.Geolocation{Latitude: args.Latitude, Longitude: args.Longitude, Address: args.Address}
		if state.pipeline != nil {
			state.pipeline.SetGeolocation(geo)
		} else {
			state.geo = &geo
		}

	default:
		conn.SendError("UNKNOWN_OP", "unknown control op: "+string(msg.Op))
	}
}

func (h *Handler) handleAudio(conn *Conn, state *listenState, data []byte) {
	if state.pipeline == nil {
		if state.badFrames == 0 {
			conn.SendError("NOT_OPEN", "audio before open op")
		}
		state.badFrames++
		return
	}

	frame, err := ParseFrame(state.codec, data, time.Since(state.openedAt))
	if err != nil {
		state.badFrames++
		h.logger.Debugf("dropping bad frame from uid %s: %v (total %d)", conn.UID, err, state.badFrames)
		return
	}
	state.pipeline.HandleFrame(frame)
}

func (h *Handler) openPipeline(conn *Conn, state *listenState, args OpenArgs) error {
	if state.pipeline != nil {
		return nil // idempotent: firmware retries the open op
	}

	codec := types.Codec(args.Codec)
	sampleRate := args.SampleRate
	if sampleRate == 0 {
		sampleRate = h.settings.Pipeline.SampleRate
	}
	language := args.Language
	if language == "" {
		language = state.language
	}
	if language == "" {
		language = "en"
	}

	cfg := session.Config{
		UID:             conn.UID,
		DeviceID:        conn.DeviceID,
		SessionID:       conn.SessionID,
		Codec:           codec,
		SampleRate:      sampleRate,
		Language:        language,
		SpeechProfileID: args.SpeechProfileID,
		Pipeline:        h.settings.Pipeline,
		Fanout:          h.settings.Fanout,
		STT:             h.settings.STT,
		Translation:     h.settings.Translation,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	pipeline, err := h.factory(runCtx, cfg)
	if err != nil {
		cancel()
		return err
	}

	state.pipeline = pipeline
	state.cancel = cancel
	state.codec = codec
	state.openedAt = time.Now()
	if state.geo != nil {
		pipeline.SetGeolocation(*state.geo)
		state.geo = nil
	}

	go pipeline.Run(runCtx)
	go h.eventPump(conn, pipeline)

	h.logger.Infof("pipeline open for uid %s (session %s, codec %s, %d Hz, lang %s)",
		conn.UID, conn.SessionID, codec, sampleRate, language)
	return nil
}

// eventPump forwards pipeline events to the client and keeps the
// socket alive with pings. When the pipeline closes on its own the
// socket is closed too, which unwinds the read loop.
func (h *Handler) eventPump(conn *Conn, pipeline *session.Session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-pipeline.Events():
			if !ok {
				conn.Close()
				return
			}
			if err := conn.SendEvent(ev); err != nil {
				h.logger.Debugf("event write to uid %s failed: %v", conn.UID, err)
				return
			}
		case <-ticker.C:
			_ = conn.SendEvent(types.MessageEvent{
				Type:      types.EventPing,
				SessionID: conn.SessionID,
				Timestamp: time.Now(),
			})
		}
	}
}

// stopPipeline cancels the pipeline after the socket goes away and
// waits out the teardown deadline.
func (h *Handler) stopPipeline(conn *Conn, state *listenState) {
	if state.pipeline == nil {
		return
	}
	state.cancel()
	select {
	case <-state.pipeline.Done():
	case <-time.After(h.settings.Pipeline.TeardownDeadline() + time.Second):
		h.logger.Errorf("pipeline for uid %s did not stop within the teardown deadline", conn.UID)
	}
}

// Close shuts down all listen sockets.
func (h *Handler) Close() error {
	return h.manager.Close()
}

func intQuery(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}
