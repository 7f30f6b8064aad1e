package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jwulff/musicmill/internal/db"
	"github.com/jwulff/musicmill/internal/graph"
	"github.com/jwulff/musicmill/internal/nav"
	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
	"github.com/jwulff/musicmill/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

const maxHistory = 200

// HistoryEntry is one logged event shown in the history panel.
type HistoryEntry struct {
	Action    db.EventAction
	From      string
	To        string
	Rating    *int
	Timestamp time.Time
}

// Model is the root bubbletea model for the practice console.
type Model struct {
	graphs *graph.Store
	nav    *nav.Navigator
	rel    *db.Store

	// Graph state
	graphLoaded bool
	loadError   string

	// Navigation
	current  *graph.PhraseNode
	links    []LinkDisplay
	selected int
	loading  bool
	last     *TransitionRef

	// Session
	session     *db.Session
	sessionCh   chan *db.Session
	unsubscribe func()

	history []HistoryEntry

	// UI state
	width  int
	height int

	// Errors
	errorMessage   string
	errorTransient bool

	// Status
	statusText string
}

// New creates a console over local stores. rel must be open.
func New(graphs *graph.Store, navigator *nav.Navigator, rel *db.Store) Model {
	ch := make(chan *db.Session, 8)
	unsubscribe := rel.OnSessionChange(func(s *db.Session) {
		select {
		case ch <- s:
		default:
		}
	})
	return Model{
		graphs:      graphs,
		nav:         navigator,
		rel:         rel,
		session:     rel.CurrentSession(),
		sessionCh:   ch,
		unsubscribe: unsubscribe,
		statusText:  "Loading phrase graph...",
	}
}

// Init loads the graph and starts listening for session changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(loadGraphCmd(m.graphs), waitSessionCmd(m.sessionCh))
}

// loadGraphCmd reads the phrase graph from disk.
func loadGraphCmd(graphs *graph.Store) tea.Cmd {
	return func() tea.Msg {
		if _, err := graphs.Load(); err != nil {
			return GraphLoadErrorMsg{Err: err}
		}
		snap := graphs.Snapshot()
		return GraphLoadedMsg{Nodes: snap.Len(), Tracks: len(snap.Tracks())}
	}
}

// waitSessionCmd blocks until the store reports a session change.
func waitSessionCmd(ch <-chan *db.Session) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return SessionChangedMsg{Session: s}
	}
}

// randomCmd picks a starting phrase.
func randomCmd(navigator *nav.Navigator) tea.Cmd {
	return func() tea.Msg {
		p := navigator.RandomStart()
		if p == nil {
			return ErrorMsg{Err: errors.New("graph has no phrases"), Transient: true}
		}
		return PhraseChangedMsg{Phrase: p}
	}
}

// loadLinksCmd ranks a phrase's links and attaches feedback for display.
func loadLinksCmd(navigator *nav.Navigator, rel *db.Store, phraseID string) tea.Cmd {
	return func() tea.Msg {
		ranked, err := navigator.RankedLinks(phraseID)
		links := make([]LinkDisplay, 0, len(ranked))
		for _, r := range ranked {
			stats, serr := rel.GetFeedback(phraseID, r.TargetID)
			if serr != nil && err == nil {
				err = serr
			}
			links = append(links, LinkDisplay{RankedLink: r, Stats: stats})
		}
		return LinksLoadedMsg{PhraseID: phraseID, Links: links, Err: err}
	}
}

// playCmd logs a played transition and moves to its target.
func playCmd(rel *db.Store, from, to *graph.PhraseNode) tea.Cmd {
	return func() tea.Msg {
		ev, err := rel.LogPlayed(from.ID, to.ID, db.SourcePractice, nil)
		if err != nil {
			return ErrorMsg{Err: err}
		}
		return PhraseChangedMsg{
			Phrase: to,
			Via:    &TransitionRef{From: from.ID, To: to.ID},
			Event:  &ev,
		}
	}
}

// rateCmd logs a rating for a transition.
func rateCmd(rel *db.Store, ref TransitionRef, rating int) tea.Cmd {
	return func() tea.Msg {
		ev, err := rel.LogRating(ref.From, ref.To, rating, db.SourcePractice, "")
		if err != nil {
			return ErrorMsg{Err: err}
		}
		return EventLoggedMsg{Event: ev}
	}
}

// skipCmd logs that a candidate link was passed over.
func skipCmd(rel *db.Store, ref TransitionRef) tea.Cmd {
	return func() tea.Msg {
		ev, err := rel.LogSkipped(ref.From, ref.To, db.SourcePractice)
		if err != nil {
			return ErrorMsg{Err: err}
		}
		return EventLoggedMsg{Event: ev}
	}
}

// toggleSessionCmd starts a practice session or ends the active one. The new
// state arrives through the session channel.
func toggleSessionCmd(rel *db.Store, active bool) tea.Cmd {
	return func() tea.Msg {
		if active {
			if err := rel.EndSession(""); err != nil {
				return ErrorMsg{Err: err}
			}
			return nil
		}
		if _, err := rel.StartSession(db.SessionPractice); err != nil {
			return ErrorMsg{Err: err}
		}
		return nil
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case GraphLoadedMsg:
		m.graphLoaded = true
		m.loadError = ""
		m.statusText = fmt.Sprintf("%d phrases in %d tracks", msg.Nodes, msg.Tracks)
		// Stay on the current phrase across reloads if it still exists.
		if m.current != nil {
			if p := m.nav.Phrase(m.current.ID); p != nil {
				return m.Update(PhraseChangedMsg{Phrase: p})
			}
		}
		return m, randomCmd(m.nav)

	case GraphLoadErrorMsg:
		m.loadError = msg.Err.Error()
		if errors.Is(msg.Err, perrors.ErrNotFound) {
			m.statusText = "No phrase graph yet"
		} else {
			m.statusText = "Phrase graph unreadable"
			m.errorMessage = msg.Err.Error()
		}
		return m, nil

	case PhraseChangedMsg:
		m.current = msg.Phrase
		m.links = nil
		m.selected = 0
		m.loading = true
		if msg.Via != nil {
			m.last = msg.Via
		}
		if msg.Event != nil {
			m.addHistory(*msg.Event)
			m.statusText = "Playing " + phraseLabel(msg.Phrase)
		}
		return m, loadLinksCmd(m.nav, m.rel, msg.Phrase.ID)

	case LinksLoadedMsg:
		if m.current == nil || msg.PhraseID != m.current.ID {
			return m, nil // stale
		}
		m.links = msg.Links
		m.loading = false
		if m.selected >= len(m.links) {
			m.selected = max(0, len(m.links)-1)
		}
		if msg.Err != nil {
			m.errorMessage = "feedback unavailable: " + msg.Err.Error()
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		return m, nil

	case EventLoggedMsg:
		m.addHistory(msg.Event)
		switch msg.Event.Action {
		case db.ActionRated:
			m.statusText = "Rated " + formatRating(msg.Event.Rating)
		case db.ActionSkipped:
			m.statusText = "Skipped " + msg.Event.ToPhraseID
		}
		return m, nil

	case SessionChangedMsg:
		m.session = msg.Session
		if m.session != nil {
			m.statusText = "Session started"
		} else {
			m.statusText = "Session ended"
		}
		return m, waitSessionCmd(m.sessionCh)

	case ErrorMsg:
		m.errorMessage = msg.Err.Error()
		m.errorTransient = msg.Transient
		if msg.Transient {
			return m, clearTransientErrorCmd()
		}
		return m, nil

	case StatusMsg:
		m.statusText = msg.Text
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) addHistory(ev db.TransitionEvent) {
	m.history = append(m.history, HistoryEntry{
		Action:    ev.Action,
		From:      ev.FromPhraseID,
		To:        ev.ToPhraseID,
		Rating:    ev.Rating,
		Timestamp: ev.Timestamp,
	})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

func (m Model) transientError(text string) (tea.Model, tea.Cmd) {
	m.errorMessage = text
	m.errorTransient = true
	return m, clearTransientErrorCmd()
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit

	case KeyJ, KeyDown:
		if m.selected < len(m.links)-1 {
			m.selected++
		}
		return m, nil

	case KeyK, KeyUp:
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyEnter:
		if m.current == nil || m.selected >= len(m.links) {
			return m, nil
		}
		target := m.links[m.selected].Target
		if target == nil {
			return m.transientError("link target is missing from the graph")
		}
		return m, playCmd(m.rel, m.current, target)

	case KeyNext:
		if m.current == nil {
			return m, nil
		}
		next := m.nav.NextInSequence(m.current.ID)
		if next == nil {
			m.statusText = "End of track"
			return m, nil
		}
		return m, playCmd(m.rel, m.current, next)

	case KeyRandom:
		if !m.graphLoaded {
			return m, nil
		}
		return m, randomCmd(m.nav)

	case KeyRateUp, KeyRateUpAlt, KeyRateDown, KeyRateNeutral:
		if m.last == nil {
			return m.transientError("nothing played yet")
		}
		rating := 0
		switch msg.String() {
		case KeyRateUp, KeyRateUpAlt:
			rating = 1
		case KeyRateDown:
			rating = -1
		}
		return m, rateCmd(m.rel, *m.last, rating)

	case KeySkip:
		if m.current == nil || m.selected >= len(m.links) {
			return m, nil
		}
		return m, skipCmd(m.rel, TransitionRef{From: m.current.ID, To: m.links[m.selected].TargetID})

	case KeySession:
		return m, toggleSessionCmd(m.rel, m.session != nil)

	case KeyReload:
		m.statusText = "Reloading phrase graph..."
		return m, loadGraphCmd(m.graphs)
	}

	return m, nil
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(1) + divider(1) + error(1) + footer(1) + padding
	reserved := 7
	return max(5, m.height-reserved)
}

func (m Model) linksPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width*60/100)
}

func (m Model) historyPanelWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(20, m.width-m.linksPanelWidth()-1)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("MUSICMILL")
	if m.current == nil {
		return title
	}
	return title + ui.DimStyle.Render("  "+phraseLabel(m.current))
}

func (m Model) renderStatusBar() string {
	var dot string
	if m.session != nil {
		dot = ui.SessionDotStyle.Render("● " + strings.ToUpper(string(m.session.Type)))
	} else {
		dot = ui.IdleDotStyle.Render("○ NO SESSION")
	}

	var phrase string
	if p := m.current; p != nil {
		phrase = "  " + renderEnergyMeter(p.Energy) +
			ui.DimStyle.Render(fmt.Sprintf("  %.0f BPM", p.Tempo))
		if k := p.KeyName(); k != "" {
			phrase += ui.DimStyle.Render("  " + k)
		}
		if p.SegmentType != "" {
			phrase += "  " + ui.SegmentLabelStyle.Render(p.SegmentType)
		}
	}

	return dot + phrase + "  " + ui.StatusStyle.Render(m.statusText)
}

func renderEnergyMeter(energy float64) string {
	const barLen = 8
	filled := int(energy * barLen)
	if filled > barLen {
		filled = barLen
	}

	var bar string
	for i := 0; i < barLen; i++ {
		if i < filled {
			if float64(i)/barLen > 0.6 {
				bar += ui.LevelYellowStyle.Render("█")
			} else {
				bar += ui.LevelGreenStyle.Render("█")
			}
		} else {
			bar += ui.LevelGrayStyle.Render("░")
		}
	}
	return ui.DimStyle.Render("NRG") + " " + bar
}

func (m Model) renderMainContent() string {
	linksW := m.linksPanelWidth()
	historyW := m.historyPanelWidth()
	contentH := m.contentHeight()

	linkLines := strings.Split(m.renderLinksPanel(linksW, contentH), "\n")
	historyLines := strings.Split(m.renderHistoryPanel(historyW, contentH), "\n")

	divider := ui.DividerStyle.Render("│")

	var rows []string
	for i := 0; i < contentH; i++ {
		ll := strings.Repeat(" ", linksW)
		if i < len(linkLines) {
			ll = linkLines[i]
		}
		hl := ""
		if i < len(historyLines) {
			hl = historyLines[i]
		}
		rows = append(rows, ll+divider+hl)
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderLinksPanel(width, height int) string {
	header := ui.PanelTitleActiveStyle.Render(fmt.Sprintf("LINKS (%d)", len(m.links)))
	lines := []string{header}

	switch {
	case !m.graphLoaded && m.loadError != "":
		lines = append(lines, "")
		lines = append(lines, ui.ErrorStyle.Render("  No phrase graph loaded."))
		lines = append(lines, ui.DimStyle.Render(truncateToWidth("  Expected at "+m.graphs.Path(), width)))
	case !m.graphLoaded:
		lines = append(lines, ui.DimStyle.Render("  Loading phrase graph..."))
	case m.loading:
		lines = append(lines, ui.SpinnerStyle.Render("  ⟳ ranking links..."))
	case len(m.links) == 0:
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  No outgoing links. Press n or r."))
	default:
		visible := height - 1
		start := 0
		if m.selected >= visible {
			start = m.selected - visible + 1
		}
		for i := start; i < len(m.links) && i < start+visible; i++ {
			lines = append(lines, m.renderLink(i, width))
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}
	return strings.Join(lines, "\n")
}

// renderLink draws one ranked link: name, adjusted weight, static weight,
// play count and average rating.
func (m Model) renderLink(i, width int) string {
	l := m.links[i]

	weight := fmt.Sprintf("%.2f", l.Adjusted)
	switch {
	case l.Adjusted > l.Weight:
		weight = ui.WeightUpStyle.Render(weight + "▲")
	case l.Adjusted < l.Weight:
		weight = ui.WeightDownStyle.Render(weight + "▼")
	default:
		weight += " "
	}
	suffix := " " + weight + ui.DimStyle.Render(fmt.Sprintf(" (%.2f)", l.Weight))
	if n := l.Stats.TotalCount(); n > 0 {
		suffix += ui.DimStyle.Render(fmt.Sprintf(" ▶%d", n))
	}
	if l.Stats.RatingCount > 0 {
		avg := fmt.Sprintf(" %+.2f", l.Stats.AverageRating)
		if l.Stats.AverageRating < 0 {
			suffix += ui.RatingNegativeStyle.Render(avg)
		} else {
			suffix += ui.RatingPositiveStyle.Render(avg)
		}
	}
	if l.IsOriginalSequence {
		suffix += " " + ui.SequenceBadgeStyle.Render("SEQ")
	}

	name := l.TargetID
	if l.Target != nil {
		name = phraseLabel(l.Target)
	}
	nameW := max(8, width-lipgloss.Width(suffix)-4)
	name = padRight(truncateToWidth(name, nameW), nameW)

	if i == m.selected {
		return ui.SelectedStyle.Render("> "+name) + suffix
	}
	return "  " + name + suffix
}

func (m Model) renderHistoryPanel(width, height int) string {
	lines := []string{ui.PanelTitleStyle.Render(fmt.Sprintf("HISTORY (%d)", len(m.history)))}

	if len(m.history) == 0 {
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  Enter plays a link"))
	} else {
		visible := height - 1
		start := max(0, len(m.history)-visible)
		for _, h := range m.history[start:] {
			ts := ui.TimestampStyle.Render(h.Timestamp.Format("[15:04:05]"))
			action := renderAction(h)
			pair := truncateToWidth(m.labelFor(h.From)+" → "+m.labelFor(h.To),
				max(5, width-lipgloss.Width(ts)-lipgloss.Width(action)-3))
			lines = append(lines, " "+ts+" "+action+" "+pair)
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func renderAction(h HistoryEntry) string {
	switch h.Action {
	case db.ActionPlayed:
		return ui.LevelGreenStyle.Render("PLAY")
	case db.ActionRated:
		label := "RATE " + formatRating(h.Rating)
		if h.Rating != nil && *h.Rating < 0 {
			return ui.RatingNegativeStyle.Render(label)
		}
		return ui.RatingPositiveStyle.Render(label)
	case db.ActionSkipped:
		return ui.DimStyle.Render("SKIP")
	}
	return ui.DimStyle.Render(strings.ToUpper(string(h.Action)))
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.graphLoaded {
		parts = append(parts, ui.FooterKeyStyle.Render("j/k")+ui.FooterDescStyle.Render(" Select"))
		parts = append(parts, ui.FooterKeyStyle.Render("Enter")+ui.FooterDescStyle.Render(" Play"))
		parts = append(parts, ui.FooterKeyStyle.Render("n")+ui.FooterDescStyle.Render(" Next"))
		parts = append(parts, ui.FooterKeyStyle.Render("r")+ui.FooterDescStyle.Render(" Random"))
		parts = append(parts, ui.FooterKeyStyle.Render("+/-/0")+ui.FooterDescStyle.Render(" Rate"))
		parts = append(parts, ui.FooterKeyStyle.Render("x")+ui.FooterDescStyle.Render(" Skip"))
	}
	if m.session != nil {
		parts = append(parts, ui.FooterKeyStyle.Render("s")+ui.FooterDescStyle.Render(" End session"))
	} else {
		parts = append(parts, ui.FooterKeyStyle.Render("s")+ui.FooterDescStyle.Render(" Start session"))
	}
	parts = append(parts, ui.FooterKeyStyle.Render("R")+ui.FooterDescStyle.Render(" Reload"))
	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func (m Model) labelFor(id string) string {
	if p := m.nav.Phrase(id); p != nil {
		return phraseLabel(p)
	}
	return id
}

// phraseLabel names a phrase by track and position, e.g. "Track Name #3 drop".
func phraseLabel(p *graph.PhraseNode) string {
	name := p.SourceTrackName
	if name == "" {
		name = p.ID
	}
	label := fmt.Sprintf("%s #%d", name, p.TrackIndex+1)
	if p.SegmentType != "" {
		label += " " + p.SegmentType
	}
	return label
}

func formatRating(r *int) string {
	if r == nil {
		return "?"
	}
	return fmt.Sprintf("%+d", *r)
}

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

// truncateToWidth shortens unstyled text to width runes.
func truncateToWidth(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible <= width {
		return s
	}
	runes := []rune(s)
	if width > 1 && len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}
