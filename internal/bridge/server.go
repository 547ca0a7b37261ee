package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// HandlerFunc runs one command. The returned value is encoded as the
// response result.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Server dispatches bridge requests to registered command handlers.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates a Server with no commands.
func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// Handle registers fn for cmd, replacing any earlier handler.
func (s *Server) Handle(cmd string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cmd] = fn
}

// Handler returns the HTTP handler serving the bridge and health paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathBridge, s.serveBridge)
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) serveBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bridge upgrade failed")
		return
	}
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("bridge client connected")

	ctx, cancel := context.WithCancel(r.Context())
	sc := &serverConn{
		conn:     conn,
		sendChan: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	go sc.writePump()
	s.readLoop(ctx, sc)
	cancel()
	sc.close()
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("bridge client disconnected")
}

func (s *Server) readLoop(ctx context.Context, sc *serverConn) {
	conn := sc.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("bridge read error")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			s.logger.Warn().Err(err).Msg("failed to parse bridge request")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			sc.send(s.dispatch(ctx, req))
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID}

	s.mu.RLock()
	fn, ok := s.handlers[req.Cmd]
	s.mu.RUnlock()
	if !ok {
		resp.Error = "unknown command: " + req.Cmd
		return resp
	}

	result, err := fn(ctx, req.Args)
	if err != nil {
		s.logger.Warn().Err(err).Str("cmd", req.Cmd).Msg("command failed")
		resp.Error = err.Error()
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = "encode result: " + err.Error()
		return resp
	}
	resp.Result = raw
	s.logger.Debug().Str("cmd", req.Cmd).Msg("command handled")
	return resp
}

type serverConn struct {
	conn      *websocket.Conn
	sendChan  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (sc *serverConn) send(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case sc.sendChan <- data:
	case <-sc.done:
	}
}

func (sc *serverConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sc.done:
			return
		case message := <-sc.sendChan:
			sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sc.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				sc.close()
				return
			}
		case <-ticker.C:
			sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sc.close()
				return
			}
		}
	}
}

func (sc *serverConn) close() {
	sc.closeOnce.Do(func() {
		close(sc.done)
		sc.conn.Close()
	})
}
