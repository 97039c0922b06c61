package unlock

import (
	"context"
	"fmt"

	"github.com/playperu/adventure/internal/adventure"
	"github.com/playperu/adventure/internal/geo"
)

// Preview builds map markers for locations with a known position. Markers
// within radius of pos are highlighted. Highlighting is display feedback
// only; it has no effect on unlocking.
func Preview(locations []adventure.Location, pos geo.Point, radius float64) []Marker {
	markers := make([]Marker, 0, len(locations))
	for _, l := range locations {
		if !l.HasPosition {
			continue
		}
		d := geo.Distance(pos, l.Position)
		markers = append(markers, Marker{
			LocationID:  l.ID,
			Name:        l.Name,
			Position:    l.Position,
			Distance:    d,
			Highlighted: d <= radius,
		})
	}
	return markers
}

// PreviewFrom previews the engine's locations around the source's current
// fix using the configured preview radius.
func (e *Engine) PreviewFrom(ctx context.Context, src PositionSource) ([]Marker, error) {
	pos, err := src.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current position: %w", err)
	}
	return Preview(e.locations, pos, e.cfg.PreviewRadius), nil
}
