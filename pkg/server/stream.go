package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/zen-systems/viewforge/pkg/pipeline"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// handleStream pushes a snapshot on connect and after every store change.
// Slow clients skip intermediate snapshots but always get the latest.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	updates := make(chan pipeline.Snapshot, 1)
	initial, unsubscribe := s.runner.Store().Watch(func(snap pipeline.Snapshot) {
		offerLatest(updates, snap)
	})
	defer unsubscribe()

	if err := writeSnapshot(ctx, conn, initial); err != nil {
		s.logger.Debug("stream write failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-s.ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case snap := <-updates:
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				s.logger.Debug("stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap pipeline.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, newSnapshotView(snap))
}

// offerLatest replaces any unread snapshot in ch with snap. Store listeners
// are serialized, so only the reader races with it.
func offerLatest(ch chan pipeline.Snapshot, snap pipeline.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
