// Package ui provides the interactive soundboard.
package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dgnsrekt/chime/internal/watch"
	"github.com/dgnsrekt/chime/pkg/sfx"
)

const (
	statusMessageTimeout = time.Second * 3 // how long to show messages like "stopped 2 sounds"
	refreshInterval      = 100 * time.Millisecond
)

// Player is the part of *sfx.Manager the board drives.
type Player interface {
	Play(name string) (sfx.SessionID, error)
	GetAvailableSounds() []string
	Info(name string) (sfx.SoundInfo, bool)
	Sessions() []sfx.SessionInfo
	StopAllSounds() sfx.StopReport
}

// NewProgram returns a new Tea program.
func NewProgram(p Player, cfg Config) *tea.Program {
	log.Debug("Starting soundboard", "sounds", len(p.GetAvailableSounds()), "watch", cfg.WatchDir)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(p, cfg), opts...)
}

type (
	eventMsg                sfx.Event
	changeMsg               watch.Change
	refreshMsg              time.Time
	statusMessageTimeoutMsg struct{ id int }
)

type model struct {
	player Player
	cfg    Config

	names   []string
	cursor  int
	playing map[string]int

	status    string
	statusErr bool
	statusID  int

	help    help.Model
	spinner spinner.Model
	caser   cases.Caser
	width   int
	height  int
}

func newModel(p Player, cfg Config) model {
	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = playingStyle

	return model{
		player:  p,
		cfg:     cfg,
		names:   p.GetAvailableSounds(),
		playing: make(map[string]int),
		help:    help.New(),
		spinner: sp,
		caser:   cases.Title(language.English, cases.NoLower),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refresh(), waitForEvent(m.cfg.Events), waitForChange(m.cfg.Changes))
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func waitForEvent(ch <-chan sfx.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func waitForChange(ch <-chan watch.Change) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return changeMsg(c)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.player.StopAllSounds()
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.names)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Play):
			if len(m.names) > 0 {
				return m, m.play(m.names[m.cursor])
			}
		case key.Matches(msg, keys.Quick):
			idx := int(msg.String()[0] - '1')
			if idx < len(m.names) {
				m.cursor = idx
				return m, m.play(m.names[idx])
			}
		case key.Matches(msg, keys.Stop):
			report := m.player.StopAllSounds()
			clear(m.playing)
			n := report.Stopped + report.Forced
			return m, m.setStatus(fmt.Sprintf("stopped %d %s", n, plural(n, "sound", "sounds")), false)
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}

	case refreshMsg:
		clear(m.playing)
		for _, s := range m.player.Sessions() {
			m.playing[s.Name]++
		}
		return m, refresh()

	case eventMsg:
		cmd := m.handleEvent(sfx.Event(msg))
		return m, tea.Batch(cmd, waitForEvent(m.cfg.Events))

	case changeMsg:
		cmd := m.handleChange(watch.Change(msg))
		return m, tea.Batch(cmd, waitForChange(m.cfg.Changes))

	case statusMessageTimeoutMsg:
		if msg.id == m.statusID {
			m.status = ""
			m.statusErr = false
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) play(name string) tea.Cmd {
	if _, err := m.player.Play(name); err != nil {
		return m.setStatus(describeError(name, err), true)
	}
	m.playing[name]++
	return m.setStatus("▶ "+m.label(name), false)
}

func (m *model) handleEvent(ev sfx.Event) tea.Cmd {
	switch ev.Kind {
	case sfx.EventPlaybackError:
		return m.setStatus(fmt.Sprintf("%s: %v", m.label(ev.Name), ev.Err), true)
	case sfx.EventForcedStop:
		return m.setStatus(fmt.Sprintf("%s did not stop in time and was cut off", m.label(ev.Name)), true)
	}
	return nil
}

func (m *model) handleChange(c watch.Change) tea.Cmd {
	m.names = m.player.GetAvailableSounds()
	m.cursor = min(m.cursor, max(len(m.names)-1, 0))

	switch c.Op {
	case watch.Loaded:
		return m.setStatus("reloaded "+m.label(c.Name), false)
	case watch.Removed:
		return m.setStatus("removed "+m.label(c.Name), false)
	default:
		return m.setStatus(fmt.Sprintf("could not load %s: %v", c.Path, c.Err), true)
	}
}

func (m *model) setStatus(s string, isErr bool) tea.Cmd {
	m.statusID++
	m.status = s
	m.statusErr = isErr
	id := m.statusID
	return tea.Tick(statusMessageTimeout, func(time.Time) tea.Msg {
		return statusMessageTimeoutMsg{id: id}
	})
}

func (m model) label(name string) string {
	return m.caser.String(strings.ReplaceAll(name, "_", " "))
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("chime") + "\n\n")

	if len(m.names) == 0 {
		b.WriteString(detailStyle.Render("  No sounds loaded.") + "\n")
	}
	for i, name := range m.names {
		line := m.label(name)
		if i < 9 {
			line = fmt.Sprintf("%d %s", i+1, line)
		}
		if info, ok := m.player.Info(name); ok {
			line += detailStyle.Render(fmt.Sprintf("  %dms", info.Duration.Milliseconds()))
		}
		if n := m.playing[name]; n > 0 {
			line += " " + m.spinner.View()
			if n > 1 {
				line += playingStyle.Render(fmt.Sprintf("×%d", n))
			}
		}

		if m.width > 4 {
			line = truncate.StringWithTail(line, uint(m.width-4), "…") //nolint:gosec
		}

		if i == m.cursor {
			b.WriteString(cursorStyle.Render("›") + selectedStyle.Render(line) + "\n")
		} else {
			b.WriteString(itemStyle.Render(line) + "\n")
		}
	}

	status := m.status
	if m.width > 0 {
		status = wordwrap.String(status, m.width)
	}

	footer := ""
	switch {
	case status != "" && m.statusErr:
		footer = errorStyle.Render(status)
	case status != "":
		footer = playingStyle.Render(status)
	case m.cfg.WatchDir != "":
		footer = detailStyle.Render("watching " + m.cfg.WatchDir)
	}
	b.WriteString(footerStyle.Render(footer) + "\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}

func describeError(name string, err error) string {
	switch {
	case errors.Is(err, sfx.ErrNotFound):
		return fmt.Sprintf("%s is no longer loaded", name)
	case errors.Is(err, sfx.ErrQueueFull):
		return "too many sounds queued, dropped " + name
	default:
		return err.Error()
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
