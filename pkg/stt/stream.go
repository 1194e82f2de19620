package stt

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auriclabs/auric/pkg/Logger"
)

// parseFunc turns one provider websocket message into zero or more
// normalized transcript events. A nil error with no events means the
// message was housekeeping (metadata, acks).
type parseFunc func(messageType int, data []byte) ([]TranscriptEvent, error)

// wsStream is the shared duplex core under the websocket providers.
// Each adapter supplies its own handshake, parser, and finalize
// payload; the pump and bookkeeping live here.
type wsStream struct {
	conn     *websocket.Conn
	logger   *Logger.Logger
	parse    parseFunc
	finalize func(*websocket.Conn) error // sent on Close, may be nil

	events   chan TranscriptEvent
	resumeID string

	mu      sync.Mutex
	writeMu sync.Mutex
	err     error
	closed  bool
}

// newWSStream wires the core but does not start reading; the adapter
// calls start once its parser is attached.
func newWSStream(conn *websocket.Conn, logger *Logger.Logger, parse parseFunc, finalize func(*websocket.Conn) error) *wsStream {
	return &wsStream{
		conn:     conn,
		logger:   logger,
		parse:    parse,
		finalize: finalize,
		events:   make(chan TranscriptEvent, 64),
	}
}

func (s *wsStream) start() *wsStream {
	go s.readLoop()
	return s
}

func (s *wsStream) Send(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *wsStream) sendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsStream) Events() <-chan TranscriptEvent {
	return s.events
}

func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream) ResumeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeID
}

func (s *wsStream) setResumeID(id string) {
	s.mu.Lock()
	s.resumeID = id
	s.mu.Unlock()
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.finalize != nil {
		s.writeMu.Lock()
		if err := s.finalize(s.conn); err != nil {
			s.logger.Debugf("stt finalize message failed: %v", err)
		}
		s.writeMu.Unlock()
	}
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
		evs, err := s.parse(msgType, data)
		if err != nil {
			s.logger.Warnf("stt message parse failed: %v", err)
			continue
		}
		for _, ev := range evs {
			s.events <- ev
		}
	}
}
