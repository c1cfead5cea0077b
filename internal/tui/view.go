package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// View renders the full frame from the last snapshot.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	sections := []string{
		m.viewTabs(),
		m.viewBody(),
		m.viewStatusBar(),
	}
	if m.mode != inputNone {
		prompt := "filter: "
		if m.mode == inputSearch {
			prompt = "search: "
		}
		sections = append(sections, titleStyle.Render(prompt)+m.input.View())
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) viewTabs() string {
	labels := map[domain.Tab]string{
		domain.TabEvents:    "1 Events",
		domain.TabFavorites: "2 Favorites",
		domain.TabBreaking:  "3 Breaking",
		domain.TabYield:     "4 Yield",
	}
	var parts []string
	for _, tab := range domain.Tabs {
		if tab == m.tab {
			parts = append(parts, activeTabStyle.Render(labels[tab]))
		} else {
			parts = append(parts, tabStyle.Render(labels[tab]))
		}
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Top, parts...)

	var hints []string
	if m.tab == domain.TabEvents || m.tab == domain.TabFavorites {
		hints = append(hints, "sort: "+m.eng.SortBy(m.tab).String())
	}
	if m.snap.Filter != "" {
		hints = append(hints, "filter: "+m.snap.Filter)
	}
	if m.snap.SearchActive {
		hints = append(hints, "search results (esc to clear)")
	}
	if len(hints) > 0 {
		bar += "  " + mutedStyle.Render(strings.Join(hints, " · "))
	}
	return bar
}

func (m *Model) viewBody() string {
	switch m.panel {
	case domain.PanelLogs:
		return m.viewLogs()
	case domain.PanelTrades:
		return m.viewTrades()
	case domain.PanelMarkets:
		return lipgloss.JoinHorizontal(lipgloss.Top, m.viewList(), m.viewDetail())
	default:
		return m.viewList()
	}
}

func (m *Model) viewList() string {
	var b strings.Builder
	if m.tab == domain.TabEvents || m.tab == domain.TabFavorites {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-52s %10s %10s %8s", "EVENT", "24H VOL", "TOTAL", "ENDS")))
		b.WriteString("\n")
		for i, ev := range m.snap.Events {
			line := fmt.Sprintf("%-52s %10s %10s %8s",
				truncate(markEvent(ev), 52),
				fmtVolume(ev.Volume24h),
				fmtVolume(ev.VolumeTotal),
				fmtEnd(ev.EndTime),
			)
			b.WriteString(m.renderRow(line, i))
			b.WriteString("\n")
		}
		if len(m.snap.Events) == 0 {
			b.WriteString(mutedStyle.Render(m.emptyText()))
		}
	} else {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-48s %8s %8s %10s %8s", "MARKET", "PRICE", "24H", "24H VOL", "ENDS")))
		b.WriteString("\n")
		for i, mk := range m.snap.Markets {
			line := fmt.Sprintf("%-48s %8s %8s %10s %8s",
				truncate(mk.Question, 48),
				fmtPrice(mk.Best.Price),
				fmtChange(mk.Change24h),
				fmtVolume(mk.Volume24h),
				fmtEnd(mk.EndTime),
			)
			b.WriteString(m.renderRow(line, i))
			b.WriteString("\n")
		}
		if len(m.snap.Markets) == 0 {
			b.WriteString(mutedStyle.Render(m.emptyText()))
		}
	}
	if m.snap.Fetching {
		b.WriteString(mutedStyle.Render("loading more..."))
	}
	return panelStyle.Render(b.String())
}

func (m *Model) viewDetail() string {
	var b strings.Builder
	if m.snap.Selected != nil {
		b.WriteString(titleStyle.Render(truncate(m.snap.Selected.Title, 60)))
		b.WriteString("\n")
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-40s %8s %8s %8s", "QUESTION", "PRICE", "24H", "TRADES")))
	b.WriteString("\n")
	for _, mk := range m.snap.Detail {
		b.WriteString(rowStyle.Render(fmt.Sprintf("%-40s %8s %8s %8d",
			truncate(mk.Question, 40),
			fmtPrice(mk.Best.Price),
			fmtChange(mk.Change24h),
			mk.TradeCount,
		)))
		b.WriteString("\n")
	}
	if len(m.snap.Detail) == 0 {
		b.WriteString(mutedStyle.Render("no markets"))
	}
	return panelStyle.Render(b.String())
}

func (m *Model) viewTrades() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Trades"))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s %-6s %-12s %8s %10s %-16s", "TIME", "SIDE", "OUTCOME", "PRICE", "SIZE", "TRADER")))
	b.WriteString("\n")
	for _, t := range m.snap.Trades {
		side := upStyle.Render(fmt.Sprintf("%-6s", t.Side))
		if t.Side == "SELL" {
			side = downStyle.Render(fmt.Sprintf("%-6s", t.Side))
		}
		b.WriteString(fmt.Sprintf("%-8s %s %-12s %8s %10.2f %-16s\n",
			t.Timestamp.Format("15:04:05"),
			side,
			truncate(t.Outcome, 12),
			fmtPrice(t.Price),
			t.Size,
			truncate(t.User, 16),
		))
	}
	if len(m.snap.Trades) == 0 {
		b.WriteString(mutedStyle.Render("no trades yet; watch an event with 'w' to stream its activity"))
	}
	return panelStyle.Render(b.String())
}

func (m *Model) viewLogs() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Connections"))
	b.WriteString("\n")
	for _, cs := range m.snap.Connections {
		state := liveStyle.Render(cs.State)
		if cs.State != "live" && cs.State != "idle" {
			state = deadStyle.Render(cs.State)
		}
		line := fmt.Sprintf("%-8s %s  subs=%d", cs.Source, state, cs.Subs)
		if cs.LastError != "" {
			line += "  " + mutedStyle.Render(truncate(cs.LastError, 60))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(titleStyle.Render("Log"))
	b.WriteString("\n")
	for _, e := range m.snap.Log {
		b.WriteString(fmt.Sprintf("%s %-5s %s\n",
			mutedStyle.Render(e.Time.Format("15:04:05")),
			e.Level,
			truncate(e.Message, 100),
		))
	}
	return panelStyle.Render(b.String())
}

func (m *Model) viewStatusBar() string {
	var parts []string
	for _, cs := range m.snap.Connections {
		dot := deadStyle.Render("●")
		if cs.State == "live" {
			dot = liveStyle.Render("●")
		} else if cs.State == "idle" {
			dot = mutedStyle.Render("●")
		}
		parts = append(parts, fmt.Sprintf("%s %s", dot, cs.Source))
	}
	parts = append(parts, fmt.Sprintf("rev %d", m.snap.StoreRev))
	if m.snap.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", m.snap.Pending))
	}
	if m.snap.Authenticated {
		parts = append(parts, "signed in")
	}
	bar := statusBarStyle.Render(strings.Join(parts, "  |  "))
	if m.snap.Notice != "" {
		bar += "  " + noticeStyle.Render(m.snap.Notice)
	}
	bar += "  " + mutedStyle.Render("tab:switch  j/k:move  w:watch  b:bookmark  f:filter  /:search  s:sort  r:refresh  l:logs  q:quit")
	return bar
}

func (m *Model) renderRow(line string, i int) string {
	if i == m.cursor && m.panel == domain.PanelList {
		return selectedRowStyle.Render(line)
	}
	return rowStyle.Render(line)
}

func (m *Model) emptyText() string {
	switch {
	case m.tab == domain.TabFavorites && !m.snap.Authenticated:
		return "sign in to see bookmarks"
	case m.snap.Filter != "":
		return "no rows match the filter"
	default:
		return "nothing here yet"
	}
}

// markEvent prefixes the title with watch/bookmark markers. Markers stay
// unstyled so fixed-width columns line up.
func markEvent(ev domain.EventRow) string {
	title := ev.Title
	if ev.Watched {
		title = "▶ " + title
	}
	if ev.Bookmarked {
		title = "★ " + title
	}
	return title
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

func fmtVolume(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

func fmtPrice(p float64) string {
	return fmt.Sprintf("%.0f¢", p*100)
}

// fmtChange stays unstyled inside fixed-width columns; ANSI escapes would
// break the padding math.
func fmtChange(c float64) string {
	return fmt.Sprintf("%+.1f%%", c*100)
}

func fmtEnd(t *time.Time) string {
	if t == nil {
		return "-"
	}
	d := time.Until(*t)
	switch {
	case d <= 0:
		return "ended"
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
