package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pong-arena-backend/internal/hub"
)

type Options struct {
	ReadTimeout  time.Duration // zero disables the idle timeout
	WriteTimeout time.Duration
	OutboxSize   int
	Logger       *zap.Logger
}

// Handler upgrades the request and feeds every text frame to the dispatcher.
// Each socket is its own client; joining a game happens in-band.
func Handler(d *hub.Dispatcher, opts Options) http.HandlerFunc {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			opts.Logger.Debug("websocket accept", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		c := hub.NewClient(uuid.NewString(), opts.OutboxSize)
		log := opts.Logger.With(zap.String("client_id", c.ID()))
		log.Debug("client connected", zap.String("remote", r.RemoteAddr))

		// Writer goroutine
		written := make(chan struct{})
		go func() {
			defer close(written)
			writeLoop(r.Context(), conn, c, opts.WriteTimeout, log)
		}()

		defer func() {
			// the request context is already gone when the peer hangs up
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), opts.WriteTimeout)
			defer cancel()
			d.Disconnect(ctx, c)
			<-written
			log.Debug("client disconnected")
		}()

		// Reader loop
		for {
			ctx, cancel := readContext(r.Context(), opts.ReadTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read failed", zap.Error(err))
				}
				return
			}
			d.Handle(r.Context(), c, data)
		}
	}
}

// writeLoop drains the outbox until the client is closed, either on
// disconnect or because it fell too far behind.
func writeLoop(ctx context.Context, conn *websocket.Conn, c *hub.Client, timeout time.Duration, log *zap.Logger) {
	defer conn.CloseNow()
	for msg := range c.Outbox() {
		payload, err := msg.Marshal()
		if err != nil {
			log.Error("marshal message", zap.String("type", string(msg.Type)), zap.Error(err))
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, timeout)
		err = conn.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

func readContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
