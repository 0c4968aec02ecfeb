package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// allowOrigin admits clients that send no Origin (not a browser), pages
// served from the bridge's own host, and origins listed in s.WSOrigins.
func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	origin = strings.TrimSuffix(strings.ToLower(origin), "/")
	for _, allowed := range s.WSOrigins {
		if strings.TrimSuffix(strings.ToLower(allowed), "/") == origin {
			return true
		}
	}
	return false
}

// WebsocketHandler speaks the socket protocol over a websocket for browser
// front-ends. Each connection is subscribed to every event and may send
// commands at any time; "subscribe" only narrows the event filter. Export
// always writes to the daemon's export dir on this transport.
func (s *Server) WebsocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin:     s.allowOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade", "origin", r.Header.Get("Origin"), "err", err)
			return
		}
		defer c.Close()
		s.log.Info("websocket client connected", "remote", r.RemoteAddr)

		sub := s.subscribe(nil)
		defer s.unsubscribe(sub)

		var wmu sync.Mutex
		write := func(v any) error {
			wmu.Lock()
			defer wmu.Unlock()
			c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			return c.WriteJSON(v)
		}

		go func() {
			if s.Recorder != nil {
				if err := write(s.statusEvent()); err != nil {
					c.Close()
					return
				}
			}
			for {
				select {
				case ev := <-sub.ch:
					if err := write(ev); err != nil {
						c.Close()
						return
					}
				case <-sub.done:
					c.Close()
					return
				}
			}
		}()

		for {
			var cmd Command
			if err := c.ReadJSON(&cmd); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug("websocket read", "err", err)
				}
				return
			}
			var resp Response
			if cmd.Cmd == CmdSubscribe {
				s.mu.Lock()
				s.setFilterLocked(sub, cmd.Events)
				s.mu.Unlock()
				resp = Response{OK: true}
			} else {
				cmd.Dir = ""
				resp = s.Handle(cmd)
			}
			if err := write(resp); err != nil {
				return
			}
		}
	})
}

// ServeWebsocket serves the websocket bridge at /ws on addr until ctx is done.
func (s *Server) ServeWebsocket(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen websocket: %w", err)
	}
	return s.serveWebsocket(ctx, ln)
}

func (s *Server) serveWebsocket(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.WebsocketHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("websocket bridge listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve websocket: %w", err)
	}
	return nil
}
