// Package viewer is the terminal UI that shows the artwork of the playing
// track.
//
// The bubbletea event loop is the main goroutine: the program must be run on
// the goroutine that created the asyncio.Manager, and callbacks are drained
// from Update whenever a dispatch.TeaWake arrives.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/tunez/coverart/internal/artwork"
	"github.com/tunez/coverart/internal/asyncio"
	"github.com/tunez/coverart/internal/dispatch"
	"github.com/tunez/coverart/internal/library"
	"github.com/tunez/coverart/internal/ui"
)

// Options configures the viewer.
type Options struct {
	Manager *asyncio.Manager
	// Resolver may be nil when artwork is turned off; tracks are then shown
	// with the placeholder.
	Resolver *artwork.Resolver
	Theme    ui.Theme
	// ArtWidth and ArtHeight bound the artwork, in terminal cells.
	ArtWidth  int
	ArtHeight int
	Logger    *slog.Logger
}

// Model is the bubbletea model. Copies share the same display state, which is
// only touched on main.
type Model struct {
	opts  Options
	m     *asyncio.Manager
	log   *slog.Logger
	theme ui.Theme
	s     *state

	width  int
	height int
}

type state struct {
	track    library.Track
	hasTrack bool
	key      string

	status  ui.Status
	message string
	source  string
	art     string

	showStats bool
	// gen discards results for tracks that are no longer showing.
	gen uint64
}

func New(opts Options) Model {
	if opts.Manager == nil {
		panic("viewer: Manager is required")
	}
	if opts.ArtWidth <= 0 {
		opts.ArtWidth = 40
	}
	if opts.ArtHeight <= 0 {
		opts.ArtHeight = 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Theme.Name == "" {
		opts.Theme = ui.Rainbow()
	}
	return Model{
		opts:  opts,
		m:     opts.Manager,
		log:   opts.Logger,
		theme: opts.Theme,
		s: &state{
			status:  ui.StatusIdle,
			message: "Waiting for a track…",
			art:     artwork.Placeholder(opts.ArtWidth, opts.ArtHeight/2),
		},
	}
}

// Show switches to t and starts resolving its artwork. Call on main.
func (m Model) Show(t library.Track) {
	m.m.AssertMainThread("viewer.Show")
	s := m.s
	s.gen++
	gen := s.gen
	s.track, s.hasTrack = t, true
	s.key = artwork.Key(t)
	s.source = ""
	if m.opts.Resolver == nil {
		s.art = artwork.Placeholder(m.opts.ArtWidth, m.opts.ArtHeight/2)
		s.status, s.message = ui.StatusIdle, "Artwork is turned off"
		return
	}
	s.status, s.message = ui.StatusPending, "Looking for artwork…"

	err := m.opts.Resolver.Resolve(t, func(res artwork.Result, err error) {
		if gen != s.gen {
			return
		}
		if err != nil {
			m.fail(err)
			return
		}
		m.render(gen, res)
	})
	if err != nil {
		m.fail(err)
	}
}

func (m Model) fail(err error) {
	s := m.s
	s.art = artwork.Placeholder(m.opts.ArtWidth, m.opts.ArtHeight/2)
	switch {
	case errors.Is(err, artwork.ErrNotFound), errors.Is(err, artwork.ErrNoKey):
		s.status, s.message = ui.StatusMissing, "No artwork found"
	default:
		s.status, s.message = ui.StatusFailed, err.Error()
		m.log.Warn("artwork resolution failed", slog.String("key", s.key), slog.Any("err", err))
	}
}

// render converts the image on the pool and swaps it in on main.
func (m Model) render(gen uint64, res artwork.Result) {
	w, h := m.opts.ArtWidth, m.opts.ArtHeight
	err := asyncio.SubmitWithResult(m.m, func() (string, error) {
		return artwork.ConvertToANSI(context.Background(), res.Data, w, h)
	}, func(art string, err error) {
		if gen != m.s.gen {
			return
		}
		if err != nil {
			m.fail(err)
			return
		}
		m.s.art = art
		m.s.source = res.Source
		m.s.status = ui.StatusFound
		m.s.message = fmt.Sprintf("%s from %s", humanize.IBytes(uint64(len(res.Data))), res.Source)
	})
	if err != nil {
		m.fail(err)
	}
}

// forget drops the cached image for the current track and resolves again.
func (m Model) forget() {
	s := m.s
	if !s.hasTrack || s.key == "" || m.opts.Resolver == nil {
		return
	}
	track := s.track
	err := m.m.CacheRemoveAsync(s.key, func(err error) {
		if err != nil {
			m.log.Warn("cache remove failed", slog.String("key", s.key), slog.Any("err", err))
		}
		m.Show(track)
	})
	if err != nil {
		m.fail(err)
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dispatch.TeaWake:
		m.m.Loop().Drain()
	case TrackMsg:
		m.Show(library.Track(msg))
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.s.hasTrack {
				m.Show(m.s.track)
			}
		case "x":
			m.forget()
		case "s":
			m.s.showStats = !m.s.showStats
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}
	return m, nil
}

// TrackMsg asks the viewer to show a track.
type TrackMsg library.Track

func (m Model) View() string {
	s := m.s
	top := m.theme.Title.Render("coverart")

	var info strings.Builder
	if s.hasTrack {
		info.WriteString(m.theme.Title.Render(orDash(s.track.Title)) + "\n")
		info.WriteString(m.theme.Artist.Render(orDash(s.track.LeadArtist())) + "\n")
		if s.track.Album != "" {
			info.WriteString(m.theme.Text.Render(s.track.Album) + "\n")
		}
		info.WriteString(m.theme.Key.Render("key: "+orDash(s.key)) + "\n")
	}
	info.WriteString(m.theme.Render(s.status, s.message))
	if s.showStats {
		info.WriteString("\n\n" + m.theme.Dim.Render(m.stats()))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.Frame.Render(s.art),
		"  ",
		info.String(),
	)
	help := m.theme.Dim.Render("r reload · x forget cached art · s stats · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, top, body, help)
}

func (m Model) stats() string {
	st := m.m.Stats()
	return fmt.Sprintf("cache: %d entries (%d dirty), %s in memory\nhits %d (disk %d) · misses %d · pending writes %d\npool: %d workers · callbacks queued %d",
		st.Cache.Entries, st.Cache.Dirty, humanize.IBytes(uint64(st.Cache.Bytes)),
		st.Cache.Hits, st.Cache.DiskHits, st.Cache.Misses, st.Cache.PendingWrites,
		st.Pool.Workers, st.Callbacks)
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
