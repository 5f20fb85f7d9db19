package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/delivery"
	"main/internal/model/enum"
	"main/internal/obs"
)

// Command is a client request frame on the websocket.
type Command struct {
	Action    string `json:"action"` // subscribe | unsubscribe | catchup
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Catchup   bool   `json:"catchup"`
	FromSeq   int64  `json:"from_seq"`
}

// Ack reports the outcome of a command back to the client.
type Ack struct {
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Server exposes the delivery hub over websocket plus a few REST
// endpoints for health and metrics.
type Server struct {
	hub      *delivery.Hub
	metrics  *obs.Metrics
	upgrader websocket.Upgrader
	srv      *http.Server
	nextID   atomic.Int64
}

// NewServer builds the gateway over hub.
func NewServer(hub *delivery.Hub, metrics *obs.Metrics) *Server {
	return &Server{
		hub:     hub,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	router := gin.Default()

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.ClientCount()})
	})

	router.GET("/metrics", func(c *gin.Context) {
		if s.metrics == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, s.metrics.Snapshot())
	})

	router.GET("/bars", s.handleBars)

	s.srv = &http.Server{
		Handler: router,
		Addr:    addr,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.srv.Shutdown(context.Background())
	}
}

// handleBars upgrades to websocket and bridges the connection onto the
// hub: a per-connection send loop streams deliveries out, a read loop
// turns JSON command frames into subscriptions.
func (s *Server) handleBars(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Warnf("gateway: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id := fmt.Sprintf("ws-%d", s.nextID.Add(1))

	// The hub runs one send goroutine per client, so conn writes from
	// the sink and from the read loop must share a serialization point.
	writes := make(chan any, 32)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case payload := <-writes:
				if err := conn.WriteJSON(payload); err != nil {
					if !errors.Is(err, websocket.ErrCloseSent) {
						logs.Warnf("gateway: write to %s failed: %v", id, err)
					}
					return
				}
			case <-stop:
				return
			}
		}
	}()

	sink := func(d delivery.Delivery) {
		select {
		case writes <- d:
		case <-done:
		}
	}

	if err := s.hub.Connect(id, sink); err != nil {
		logs.Errorf("gateway: connect %s failed: %v", id, err)
		return
	}
	defer func() {
		s.hub.Disconnect(id)
		close(stop)
		<-done
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logs.Warnf("gateway: client %s closed: %v", id, err)
			}
			return
		}
		s.ack(writes, done, cmd.Action, s.dispatch(id, cmd))
	}
}

func (s *Server) dispatch(id string, cmd Command) error {
	tf, ok := enum.ParseTimeframe(cmd.Timeframe)
	if !ok {
		return fmt.Errorf("unknown timeframe: %s", cmd.Timeframe)
	}
	switch cmd.Action {
	case "subscribe":
		return s.hub.Subscribe(id, cmd.Symbol, tf, cmd.Catchup)
	case "unsubscribe":
		s.hub.Unsubscribe(id, cmd.Symbol, tf)
		return nil
	case "catchup":
		return s.hub.RequestCatchup(id, cmd.Symbol, tf, cmd.FromSeq)
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

func (s *Server) ack(writes chan any, done chan struct{}, action string, err error) {
	ack := Ack{Action: action, OK: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	select {
	case writes <- ack:
	case <-done:
	}
}
