// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/dyad/internal/auth"
	"github.com/jason-s-yu/dyad/internal/consumer"
	"github.com/jason-s-yu/dyad/internal/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Subprotocol is offered to clients. It is not required.
const Subprotocol = "dyad"

// Options tune the session handler.
type Options struct {
	// OriginPatterns are host patterns accepted in the Origin header.
	OriginPatterns []string
	// Rate and Burst bound inbound messages per connection. Zero Rate disables
	// the limit.
	Rate  rate.Limit
	Burst int
}

// SessionWSHandler authenticates the caller, upgrades to WebSocket, and runs a
// consumer for the connection until either side closes it.
func SessionWSHandler(logger *logrus.Logger, verifier auth.Verifier, deps consumer.Deps, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participant, err := verifier.Verify(r.Context(), tokenFromRequest(r))
		if err != nil {
			logger.Warnf("rejecting upgrade from %s: %v", r.RemoteAddr, err)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.CloseNow()
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		connID := uuid.NewString()
		log := logger.WithFields(logrus.Fields{"conn": connID, "participant": participant.Email})

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		tr := newTransport(c, log)
		cons := consumer.New(connID, participant, deps, tr)
		if err := cons.Connect(ctx); err != nil {
			log.Errorf("connect: %v", err)
			c.Close(LobbyUnavailableError, "lobby unavailable")
			return
		}

		var limiter *rate.Limiter
		if opts.Rate > 0 {
			limiter = rate.NewLimiter(opts.Rate, opts.Burst)
		}

		var wg sync.WaitGroup
		inbound := make(chan []byte)
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.writePump(ctx, cancel)
		}()
		var readErr error
		go func() {
			defer wg.Done()
			readErr = readPump(ctx, c, inbound, limiter, log)
			cancel()
		}()

		cons.Run(ctx, inbound)
		cancel()
		wg.Wait()

		if readErr != nil && !errors.Is(readErr, context.Canceled) {
			middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, readErr)
			return
		}
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, nil)
	}
}

// readPump forwards text frames to inbound until the connection fails or ctx ends.
// A client that outruns the limiter is closed.
func readPump(ctx context.Context, c *websocket.Conn, inbound chan<- []byte, limiter *rate.Limiter, log *logrus.Entry) error {
	defer close(inbound)
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if typ != websocket.MessageText {
			log.Warnf("ignoring non-text message type %d", typ)
			continue
		}
		if limiter != nil && !limiter.Allow() {
			log.Warn("inbound rate exceeded")
			c.Close(RateLimitedError, "message rate exceeded")
			return nil
		}
		select {
		case inbound <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
