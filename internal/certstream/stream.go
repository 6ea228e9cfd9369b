/*
Package certstream subscribes to a certstream websocket feed and hands every
decoded message to a Handler.

The subscription owns connection health: it pings the server, notices dead
connections through read deadlines and reconnects with exponential backoff paced
by a token-bucket limiter. Consumers only ever see decoded messages.
*/
package certstream

/*
substream — mine subdomain labels from the Certificate Transparency stream
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x-stp/substream/internal/certlib"
	"github.com/x-stp/substream/internal/client"
	"github.com/x-stp/substream/internal/logging"
	"github.com/x-stp/substream/internal/metrics"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 90 * time.Second
	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 60 * time.Second
	writeWait           = 10 * time.Second
)

// Handler receives feed messages. Handle is called from the stream goroutine, one message at a time.
type Handler interface {
	Handle(ctx context.Context, msg *certlib.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *certlib.Message)

func (f HandlerFunc) Handle(ctx context.Context, msg *certlib.Message) { f(ctx, msg) }

// Config holds subscription parameters. Zero durations take defaults.
type Config struct {
	URL          string
	PingInterval time.Duration
	// ReadTimeout is how long the connection may stay silent (no frame, no pong) before it is considered dead.
	ReadTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Dialer       *client.DialerConfig
}

// Stream is a reconnecting certstream subscription.
type Stream struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	metrics *metrics.Metrics

	messages   atomic.Int64
	malformed  atomic.Int64
	reconnects atomic.Int64
}

// New returns a Stream for cfg. It does not connect until Run.
func New(cfg Config, h Handler) *Stream {
	if cfg.URL == "" {
		cfg.URL = certlib.DefaultFeedURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = defaultReconnectMax
		if cfg.ReconnectMax < cfg.ReconnectMin {
			cfg.ReconnectMax = cfg.ReconnectMin
		}
	}
	return &Stream{
		cfg:     cfg,
		handler: h,
		dialer:  client.NewDialer(cfg.Dialer),
		metrics: metrics.GetMetrics(),
	}
}

// Run connects and delivers messages until ctx is cancelled, reconnecting as needed.
// It returns nil on cancellation; once it has returned no further messages are delivered.
func (s *Stream) Run(ctx context.Context) error {
	// At most one connection attempt per ReconnectMin, even when sessions die instantly.
	limiter := rate.NewLimiter(rate.Every(s.cfg.ReconnectMin), 1)
	backoff := s.cfg.ReconnectMin
	first := true

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if !first {
			s.reconnects.Add(1)
			s.metrics.IncReconnect()
		}
		first = false

		delivered, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 {
			backoff = s.cfg.ReconnectMin
		}
		log.Printf("Feed connection to %s lost: %v; reconnecting in %s", s.cfg.URL, err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.ReconnectMax {
			backoff = s.cfg.ReconnectMax
		}
	}
}

// session runs one connection and returns the number of frames delivered.
func (s *Stream) session(ctx context.Context) (int64, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, client.Header(s.cfg.Dialer))
	if err != nil {
		if resp != nil {
			return 0, fmt.Errorf("dial %s: %w (HTTP %d)", s.cfg.URL, err, resp.StatusCode)
		}
		return 0, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	log.Printf("Connected to certstream at %s", s.cfg.URL)
	s.metrics.SetConnected(true)
	defer s.metrics.SetConnected(false)

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepalive(ctx, conn, stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
		conn.Close()
	}()

	var delivered int64
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			return delivered, err
		}
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		msg, err := certlib.ParseMessage(frame)
		if err != nil {
			s.malformed.Add(1)
			s.metrics.IncDecodeError()
			logging.Debugf("dropping malformed frame (%d bytes): %v", len(frame), err)
			continue
		}
		delivered++
		s.messages.Add(1)
		s.handler.Handle(ctx, msg)
	}
}

// keepalive pings the server and closes the connection when ctx is cancelled,
// which unblocks the reader. WriteControl is safe alongside the reader.
func (s *Stream) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logging.Debugf("close frame: %v", err)
			}
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Printf("Ping error: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// Stats is a snapshot of subscription counters.
type Stats struct {
	Messages   int64
	Malformed  int64
	Reconnects int64
}

func (s *Stream) Stats() Stats {
	return Stats{
		Messages:   s.messages.Load(),
		Malformed:  s.malformed.Load(),
		Reconnects: s.reconnects.Load(),
	}
}
