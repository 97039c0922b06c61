package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/adventure/internal/adventure"
	"github.com/playperu/adventure/internal/database"
	"github.com/playperu/adventure/internal/directory"
	"github.com/playperu/adventure/internal/geo"
	"github.com/playperu/adventure/internal/migrations"
	"github.com/playperu/adventure/internal/unlock"
	"github.com/playperu/adventure/internal/visited"
)

const deviceOwner = "device"

func newPlayCmd(opts *options) *cobra.Command {
	var dbPath string
	cfg := unlock.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "play <project-id>",
		Short: "Track a project from stdin",
		Long: `Reads one command per line from stdin:

  (lat, lon)     position fix
  scan <id>      unlock a location by id
  reset          clear visited locations
  map            preview markers around the last fix
  state          print visited locations and score
  deny | allow   revoke or grant location permission
  quit           stop tracking`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.token == "" {
				return errors.New("--token is required, create one with the signup command")
			}
			logger, err := newLogger(cmd, opts)
			if err != nil {
				return err
			}
			return runPlay(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), logger, opts, dbPath, args[0], cfg)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "tracker.db", "local SQLite file for visited state")
	cmd.Flags().Float64Var(&cfg.UnlockRadius, "radius", cfg.UnlockRadius, "unlock radius in meters")
	cmd.Flags().Float64Var(&cfg.TrackingThrottle, "throttle", cfg.TrackingThrottle, "minimum movement between evaluated fixes in meters")
	cmd.Flags().Float64Var(&cfg.PreviewRadius, "preview", cfg.PreviewRadius, "map highlight radius in meters")
	return cmd
}

func runPlay(ctx context.Context, stdin io.Reader, stdout io.Writer, logger *slog.Logger, opts *options, dbPath, projectID string, cfg unlock.Config) error {
	profile, err := directory.NewClient(opts.api, directory.WithProfile(adventure.Profile{}, opts.token)).Profile(ctx)
	if err != nil {
		return err
	}
	client := directory.NewClient(opts.api, directory.WithProfile(profile, opts.token))

	db, err := database.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		return err
	}
	store := visited.NewSQLiteStore(db, deviceOwner)

	out := newLineWriter(stdout)
	engine, err := unlock.Open(ctx, projectID, unlock.Deps{
		Directory: client,
		Store:     store,
		Recorder:  directory.NewRetryRecorder(client, logger),
		Logger:    logger.With("username", profile.Username),
		OnEvent:   func(ev unlock.Event) { out.write("event", ev) },
	}, cfg)
	if err != nil {
		return err
	}
	defer engine.Wait()
	defer engine.Close()

	out.write("state", engine.State())

	src := geo.NewChanSource()
	return newSession(engine, src, out).run(ctx, stdin)
}

type session struct {
	engine *unlock.Engine
	src    *geo.ChanSource
	out    *lineWriter
}

func newSession(engine *unlock.Engine, src *geo.ChanSource, out *lineWriter) *session {
	return &session{engine: engine, src: src, out: out}
}

var errQuit = errors.New("quit")

// run tracks fixes pushed from stdin until the input ends, quit is read or
// ctx is done.
func (s *session) run(ctx context.Context, stdin io.Reader) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.engine.Track(ctx, s.src)
		if errors.Is(err, geo.ErrPermissionDenied) {
			return nil
		}
		return err
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		defer s.src.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				err := s.handle(ctx, line)
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					s.out.write("error", map[string]string{"error": err.Error()})
				}
			}
		}
	})

	return g.Wait()
}

func (s *session) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return nil
	case "quit", "exit":
		return errQuit
	case "scan":
		if arg == "" {
			return errors.New("usage: scan <location-id>")
		}
		_, _, err := s.engine.Unlock(ctx, arg)
		return err
	case "reset":
		return s.engine.Reset(ctx)
	case "state":
		s.out.write("state", s.engine.State())
		return nil
	case "map":
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		markers, err := s.engine.PreviewFrom(ctx, s.src)
		if err != nil {
			return fmt.Errorf("map preview: %w", err)
		}
		s.out.write("map", markers)
		return nil
	case "deny":
		s.src.Deny()
		s.engine.SetProximity(false)
		return nil
	case "allow":
		s.src.Allow()
		s.engine.SetProximity(true)
		return nil
	}

	p, ok := geo.ParsePosition(line)
	if !ok {
		return fmt.Errorf("unrecognized input %q", line)
	}
	s.src.Push(p)
	return nil
}

// lineWriter writes one JSON object per line. Engine events arrive from
// several goroutines.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (w *lineWriter) write(kind string, v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.enc.Encode(map[string]any{"kind": kind, "data": v})
}
