// Package adventure defines the core domain types shared by the unlock
// engine, the backend and the tracker CLI.
package adventure

import (
	"fmt"
	"time"

	"github.com/playperu/adventure/internal/geo"
)

type DisplayMode string

const (
	DisplayInitialClue  DisplayMode = "initial_clue"
	DisplayAllLocations DisplayMode = "all_locations"
)

func ParseDisplayMode(s string) (DisplayMode, error) {
	switch m := DisplayMode(s); m {
	case DisplayInitialClue, DisplayAllLocations:
		return m, nil
	case "":
		return DisplayAllLocations, nil
	}
	return "", fmt.Errorf("unknown display mode %q", s)
}

type ScoringMode string

const (
	ScoringSequence ScoringMode = "sequence"
	ScoringPoints   ScoringMode = "points"
)

func ParseScoringMode(s string) (ScoringMode, error) {
	switch m := ScoringMode(s); m {
	case ScoringSequence, ScoringPoints:
		return m, nil
	case "":
		return ScoringPoints, nil
	}
	return "", fmt.Errorf("unknown scoring mode %q", s)
}

type Project struct {
	ID           string
	Title        string
	Instructions string
	DisplayMode  DisplayMode
	InitialClue  string
	ScoringMode  ScoringMode
	Published    bool
	CreatedAt    time.Time
}

type Location struct {
	ID        string
	ProjectID string
	Name      string
	// RawPosition is the "(lat, lon)" string as stored in the directory.
	RawPosition string
	// Position is valid only when HasPosition is set; locations without a
	// parseable position never unlock by proximity.
	Position    geo.Point
	HasPosition bool
	Points      int
	Clue        string
	Content     string
	SortOrder   int
}

// NewLocation builds a Location and parses its raw position. Negative point
// values are clamped to zero.
func NewLocation(id, projectID, name, rawPosition string, points int) Location {
	l := Location{
		ID:          id,
		ProjectID:   projectID,
		Name:        name,
		RawPosition: rawPosition,
		Points:      max(points, 0),
	}
	l.Position, l.HasPosition = geo.ParsePosition(rawPosition)
	return l
}

// Profile is the user identity carried by a device session.
type Profile struct {
	ID        string
	Username  string
	AvatarURL string
	CreatedAt time.Time
}

// Score derives the total for a visited set. Points mode sums point values of
// visited locations; sequence mode counts them. Ids not in locations are
// ignored.
func Score(locations []Location, visited map[string]struct{}, mode ScoringMode) int {
	total := 0
	for _, l := range locations {
		if _, ok := visited[l.ID]; !ok {
			continue
		}
		if mode == ScoringSequence {
			total++
		} else {
			total += l.Points
		}
	}
	return total
}

// VisitedIDs returns the visited ids in location order.
func VisitedIDs(locations []Location, visited map[string]struct{}) []string {
	ids := make([]string, 0, len(visited))
	for _, l := range locations {
		if _, ok := visited[l.ID]; ok {
			ids = append(ids, l.ID)
		}
	}
	return ids
}
