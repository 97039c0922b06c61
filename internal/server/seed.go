package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// EnsureAdmin creates the admin account on first start. An existing account
// keeps its current password.
func EnsureAdmin(ctx context.Context, store Store, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	return store.EnsureAdmin(ctx, strings.ToLower(strings.TrimSpace(email)), string(hash))
}

type demoLocation struct {
	name, position, clue, content string
	points                        int
}

var demoLocations = []demoLocation{
	{"Plaza de Armas", "(-12.0464, -77.0428)", "Where the city was founded.", "Francisco Pizarro laid out the square in 1535.", 10},
	{"Catedral de Lima", "(-12.0459, -77.0300)", "Bells across the square.", "Rebuilt twice after the earthquakes of 1687 and 1746.", 10},
	{"Convento de San Francisco", "(-12.0455, -77.0275)", "Bones beneath the yellow church.", "The catacombs held the city's dead until 1808.", 20},
	{"Parque de la Muralla", "(-12.0442, -77.0283)", "Walk along the old wall by the river.", "Remains of the 17th century city wall.", 15},
	{"Mirador secreto", "", "Ask the guide for the code.", "A hidden terrace, unlocked by scanning its plaque.", 5},
}

// SeedDemo creates the demo Lima project if no projects exist.
// Idempotent: does nothing if projects already exist.
func SeedDemo(ctx context.Context, logger *slog.Logger, store Store) error {
	existing, err := store.ListProjects(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	project, err := store.CreateProject(ctx, ProjectRequest{
		Title:        "Lima Centro Histórico",
		Instructions: "Walk the historic center. Locations unlock when you are close to them.",
		DisplayMode:  "all_locations",
		ScoringMode:  "points",
		Published:    true,
	})
	if err != nil {
		return fmt.Errorf("creating demo project: %w", err)
	}

	for i, l := range demoLocations {
		order := i
		_, err := store.CreateLocation(ctx, project.ID, LocationRequest{
			Name:      l.name,
			Position:  l.position,
			Points:    l.points,
			Clue:      l.clue,
			Content:   l.content,
			SortOrder: &order,
		})
		if err != nil {
			return fmt.Errorf("creating demo location %q: %w", l.name, err)
		}
	}

	logger.Info("demo project created and seeded", "project_id", project.ID)
	return nil
}
