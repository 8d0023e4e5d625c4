package gateway

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handlePriceStream pushes refresh batches to the client as they land in the
// cache. The initial frame carries the full snapshot so a reconnecting
// client renders immediately instead of waiting for the next refresh.
func (s *Server) handlePriceStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.CORS.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	updates, cancel := s.prices.Subscribe()
	defer cancel()

	snapshot := s.prices.Snapshot()
	if len(snapshot) > 0 {
		writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
		err := wsjson.Write(writeCtx, conn, map[string]any{"type": "snapshot", "prices": snapshot})
		done()
		if err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-updates:
			if !ok {
				return
			}
			writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, map[string]any{"type": "update", "prices": batch})
			done()
			if err != nil {
				return
			}
		}
	}
}
