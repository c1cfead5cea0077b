package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alanyoungcy/polyterm/internal/config"
	"github.com/alanyoungcy/polyterm/internal/domain"
	"github.com/alanyoungcy/polyterm/internal/engine"
)

// inputMode tracks which text prompt, if any, owns the keyboard.
type inputMode int

const (
	inputNone inputMode = iota
	inputFilter
	inputSearch
)

// tickMsg drives the render loop: each tick pulls a fresh snapshot from the
// engine. The engine runs independently; the UI only ever reads snapshots.
type tickMsg time.Time

// Model is the main TUI application model.
type Model struct {
	eng *engine.Engine
	cfg config.UIConfig

	tab    domain.Tab
	panel  domain.Panel
	cursor int

	snap domain.RenderSnapshot

	mode  inputMode
	input textinput.Model

	width  int
	height int
	ready  bool
}

// NewModel creates a new TUI model over a running engine.
func NewModel(eng *engine.Engine, cfg config.UIConfig) *Model {
	input := textinput.New()
	input.CharLimit = 80
	input.Width = 40

	return &Model{
		eng:   eng,
		cfg:   cfg,
		tab:   domain.TabEvents,
		panel: domain.PanelList,
		input: input,
	}
}

// Init schedules the first snapshot tick.
func (m *Model) Init() tea.Cmd {
	return m.tick()
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.cfg.TickInterval.Duration, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tickMsg:
		m.snap = m.eng.GetSnapshot(m.tab, m.panel, m.selectedID())
		m.clampCursor()
		return m, m.tick()
	}
	return m, nil
}

// updateInput handles keys while the filter/search prompt is active.
func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.mode == inputFilter {
			m.eng.SetFilter(m.tab, "")
		} else {
			m.eng.ClearSearch(m.tab)
		}
		m.mode = inputNone
		m.input.Blur()
		return m, nil

	case "enter":
		q := m.input.Value()
		if m.mode == inputFilter {
			m.eng.SetFilter(m.tab, q)
		} else if q != "" {
			m.eng.Search(m.tab, q)
		}
		m.mode = inputNone
		m.input.Blur()
		m.cursor = 0
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == inputFilter {
		// Filtering is local and cheap, so it applies per keystroke.
		m.eng.SetFilter(m.tab, m.input.Value())
	}
	return m, cmd
}

func (m *Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "tab":
		m.switchTab(m.tab.Next())
	case "shift+tab":
		m.switchTab(m.tab.Prev())
	case "1":
		m.switchTab(domain.TabEvents)
	case "2":
		m.switchTab(domain.TabFavorites)
	case "3":
		m.switchTab(domain.TabBreaking)
	case "4":
		m.switchTab(domain.TabYield)

	case "j", "down":
		m.cursor++
		m.clampCursor()
		m.maybeLoadMore()
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "g", "home":
		m.cursor = 0
	case "G", "end":
		m.cursor = m.rowCount() - 1
		m.clampCursor()

	case "enter":
		if m.panel == domain.PanelList {
			m.panel = domain.PanelMarkets
		}
	case "t":
		m.panel = domain.PanelTrades
	case "l":
		m.panel = domain.PanelLogs
	case "esc":
		if m.snap.SearchActive {
			m.eng.ClearSearch(m.tab)
			m.cursor = 0
		} else {
			m.panel = domain.PanelList
		}

	case "f":
		m.mode = inputFilter
		m.input.SetValue(m.snap.Filter)
		m.input.Focus()
		return m, textinput.Blink
	case "/":
		m.mode = inputSearch
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case "s":
		m.eng.CycleSort(m.tab)
		m.cursor = 0
	case "r":
		m.eng.Refresh(m.tab)
		m.cursor = 0
	case "m":
		m.eng.RequestMore(m.tab)

	case "w":
		if id := m.selectedEventID(); id != "" {
			m.eng.ToggleWatch(id)
		}
	case "b":
		if id := m.selectedEventID(); id != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = m.eng.ToggleBookmark(ctx, id)
			cancel()
		}
	}
	return m, nil
}

func (m *Model) switchTab(tab domain.Tab) {
	if tab == m.tab {
		return
	}
	m.tab = tab
	m.panel = domain.PanelList
	m.cursor = 0
	// Loads still in flight for the tab left behind are cancelled so their
	// results cannot grow a list the user is no longer looking at.
	m.eng.SelectTab(tab)
	m.snap = m.eng.GetSnapshot(m.tab, m.panel, "")
}

func (m *Model) rowCount() int {
	if m.tab == domain.TabEvents || m.tab == domain.TabFavorites {
		return len(m.snap.Events)
	}
	return len(m.snap.Markets)
}

func (m *Model) clampCursor() {
	n := m.rowCount()
	if n == 0 {
		m.cursor = 0
		return
	}
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// maybeLoadMore requests the next page when the cursor reaches the end of
// the loaded list. Duplicate requests are suppressed by the engine.
func (m *Model) maybeLoadMore() {
	if m.snap.SearchActive {
		return
	}
	if m.cursor >= m.rowCount()-1 {
		m.eng.RequestMore(m.tab)
	}
}

// selectedID returns the id of the row under the cursor.
func (m *Model) selectedID() string {
	if m.tab == domain.TabEvents || m.tab == domain.TabFavorites {
		if m.cursor < len(m.snap.Events) {
			return m.snap.Events[m.cursor].ID
		}
		return ""
	}
	if m.cursor < len(m.snap.Markets) {
		return m.snap.Markets[m.cursor].ID
	}
	return ""
}

// selectedEventID resolves the event the cursor row belongs to, which is the
// row itself on event tabs and the owning event on market tabs.
func (m *Model) selectedEventID() string {
	if m.tab == domain.TabEvents || m.tab == domain.TabFavorites {
		return m.selectedID()
	}
	if m.cursor < len(m.snap.Markets) {
		return m.snap.Markets[m.cursor].EventID
	}
	return ""
}
