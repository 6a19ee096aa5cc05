package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WebsocketSource reads push events from a websocket endpoint and reconnects with backoff.
type WebsocketSource struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketSource builds a source for url. token is sent as a Bearer header when set.
func NewWebsocketSource(url, token string, logger *zap.Logger) *WebsocketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketSource{url: url, token: token, dialer: websocket.DefaultDialer, logger: logger}
}

// Run connects and forwards every decoded message to sink until ctx is done.
func (s *WebsocketSource) Run(ctx context.Context, sink Sink) error {
	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		header := http.Header{}
		if s.token != "" {
			header.Set("Authorization", "Bearer "+s.token)
		}
		conn, _, err := s.dialer.DialContext(ctx, s.url, header)
		if err != nil {
			s.logger.Warn("realtime dial failed", zap.String("url", s.url), zap.Duration("retry_in", delay), zap.Error(err))
			if !sleepCtx(ctx, delay) {
				return nil
			}
			delay = nextDelay(delay)
			continue
		}
		delay = reconnectBaseDelay
		s.logger.Info("realtime connected", zap.String("url", s.url))

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		err = s.readLoop(ctx, conn, sink)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("realtime disconnected", zap.Error(err))
	}
}

func (s *WebsocketSource) readLoop(ctx context.Context, conn *websocket.Conn, sink Sink) error {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, conn)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := DecodeEnvelope(data)
		if err != nil {
			s.logger.Warn("dropping realtime frame", zap.Error(err))
			continue
		}
		sink(msg)
	}
}

func (s *WebsocketSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// unblock ReadMessage on shutdown
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// Close drops the active connection, if any.
func (s *WebsocketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
