package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"github.com/playperu/adventure/internal/geo"
)

// TrackMessage is a client frame on the tracking WebSocket: either a position
// fix or a report that location permission was denied.
type TrackMessage struct {
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	Denied bool     `json:"denied,omitempty"`
}

// handleTrackWS runs continuous tracking for one session. Fixes read from the
// socket go through the distance throttle into the engine; engine events are
// written back as JSON text frames.
func handleTrackWS(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ch, ok := attachSession(w, r, hub, logger)
		if !ok {
			return
		}
		key := sessionKey(profileFrom(r).ID, e.Project().ID)
		defer hub.Detach(key, e, ch)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
		defer cancel()

		src := geo.NewChanSource()
		defer src.Close()

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			err := e.Track(ctx, src)
			if errors.Is(err, geo.ErrPermissionDenied) {
				// Scan unlocks still work; keep the socket open for events.
				<-ctx.Done()
				return nil
			}
			if err == nil && ctx.Err() == nil {
				return errSessionEnded
			}
			return err
		})

		g.Go(func() error {
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					return err
				}
				var msg TrackMessage
				if err := json.Unmarshal(data, &msg); err != nil {
					logger.Debug("ignoring malformed tracking frame", "error", err)
					continue
				}
				if msg.Denied {
					src.Deny()
					e.SetProximity(false)
					continue
				}
				if msg.Lat == nil || msg.Lon == nil {
					continue
				}
				src.Push(geo.Point{Lat: *msg.Lat, Lon: *msg.Lon})
			}
		})

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case data := <-ch:
					if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
						return err
					}
				}
			}
		})

		err = g.Wait()
		switch {
		case errors.Is(err, errSessionEnded):
			conn.Close(websocket.StatusGoingAway, "session reloaded")
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
			conn.Close(websocket.StatusNormalClosure, "")
		default:
			logger.Debug("tracking websocket ended", "error", err)
		}
	}
}

var errSessionEnded = errors.New("tracking session ended")
