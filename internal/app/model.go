package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jwulff/sequent/internal/daemon"
	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/ledger"
	"github.com/jwulff/sequent/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// Labels shown in place of texts that do not exist yet or never will.
const (
	PendingLabel = "Analyzing audio..."
	SilentLabel  = "No audible speech detected"
	EmptyLabel   = "Translation empty"
)

// clearConfirmWindow is how long the first "c" press stays armed.
const clearConfirmWindow = 3 * time.Second

// Model is the root bubbletea model for the sequent TUI.
type Model struct {
	// Connection state
	socketPath string
	client     *daemon.Client // command connection
	evClient   *daemon.Client // event subscription connection
	connected  bool
	connError  string

	// Recording state
	recording bool
	sessionID string
	source    lang.Language
	target    lang.Language
	elapsed   time.Duration
	interval  time.Duration

	// Timeline mirrored from the daemon, ordered by sequence number.
	led *ledger.Ledger

	// UI state
	width      int
	height     int
	scroll     int
	live       bool
	clearArmed bool
	toast      string

	// Errors
	errorMessage   string
	errorTransient bool

	// Status
	statusText string

	// Reconnect
	reconnecting     bool
	reconnectAttempt int
}

// New creates a Model that talks to the daemon at socketPath.
func New(socketPath string) Model {
	return Model{
		socketPath: socketPath,
		source:     lang.Korean,
		target:     lang.English,
		interval:   15 * time.Second,
		led:        ledger.New(),
		statusText: "Connecting to sequent daemon...",
		live:       true,
	}
}

// Init dials the daemon; everything else follows from the connect result.
func (m Model) Init() tea.Cmd {
	return connectCmd(m.socketPath)
}

// connectCmd attempts to connect to the daemon with two connections:
// one for commands, one for event subscription.
func connectCmd(sockPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := daemon.Connect(sockPath)
		if err != nil {
			return DaemonConnectErrorMsg{Err: err}
		}
		evClient, err := daemon.Connect(sockPath)
		if err != nil {
			client.Close()
			return DaemonConnectErrorMsg{Err: err}
		}
		return DaemonConnectedMsg{Client: client, EvClient: evClient}
	}
}

// subscribeCmd sends a subscribe command on the event client.
func subscribeCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		if err := evClient.Subscribe(); err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return SubscribedMsg{}
	}
}

// readEventCmd reads the next event from the event client.
func readEventCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return DaemonEventMsg{Event: ev}
	}
}

// snapshotCmd fetches the daemon's timeline.
func snapshotCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdSnapshot})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		if !resp.OK {
			return DaemonEventErrorMsg{Err: errors.New(resp.Error)}
		}
		return SnapshotMsg{Response: resp}
	}
}

// sendCmd runs one command on the command connection.
func sendCmd(client *daemon.Client, cmd daemon.Command) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(cmd)
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return CommandResponseMsg{Cmd: cmd.Cmd, Response: resp}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

func clearToastCmd() tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return ClearToastMsg{}
	})
}

func disarmClearCmd() tea.Cmd {
	return tea.Tick(clearConfirmWindow, func(time.Time) tea.Msg {
		return DisarmClearMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
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
		if m.live {
			m.scrollToBottom()
		}
		return m, nil

	case DaemonConnectedMsg:
		m.client = msg.Client
		m.evClient = msg.EvClient
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		return m, subscribeCmd(m.evClient)

	case DaemonConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "Daemon not running. Reconnecting..."
		return m, reconnectCmd(m.reconnectAttempt)

	case SubscribedMsg:
		return m, snapshotCmd(m.client)

	case SnapshotMsg:
		m.applyStatus(msg.Response)
		m.led.Load(daemon.Entries(msg.Response.Entries))
		if m.live {
			m.scrollToBottom()
		}
		// Events queued since subscribing replay on top of the snapshot.
		return m, readEventCmd(m.evClient)

	case CommandResponseMsg:
		return m.handleResponse(msg)

	case DaemonEventMsg:
		cmd := m.handleEvent(msg.Event)
		// Continue reading events on event client
		return m, tea.Batch(cmd, readEventCmd(m.evClient))

	case DaemonEventErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.statusText = "Disconnected. Reconnecting..."
		m.reconnecting = true
		if m.client != nil {
			m.client.Close()
			m.client = nil
		}
		if m.evClient != nil {
			m.evClient.Close()
			m.evClient = nil
		}
		return m, reconnectCmd(m.reconnectAttempt)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.socketPath)

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil

	case ClearToastMsg:
		m.toast = ""
		return m, nil

	case DisarmClearMsg:
		m.clearArmed = false
		return m, nil
	}

	return m, nil
}

// applyStatus copies the status fields every response carries.
func (m *Model) applyStatus(r daemon.Response) {
	if r.Recording != nil {
		m.recording = *r.Recording
		if m.recording {
			m.statusText = "Recording"
		} else {
			m.statusText = "Idle"
			m.elapsed = 0
		}
	}
	m.sessionID = r.SessionID
	if l, err := lang.Parse(r.Source); err == nil {
		m.source = l
	}
	if l, err := lang.Parse(r.Target); err == nil {
		m.target = l
	}
	if r.IntervalMs != nil {
		m.interval = time.Duration(*r.IntervalMs) * time.Millisecond
	}
	if r.ElapsedMs != nil {
		m.elapsed = time.Duration(*r.ElapsedMs) * time.Millisecond
	}
}

// handleResponse applies the result of a key-triggered command.
func (m Model) handleResponse(msg CommandResponseMsg) (tea.Model, tea.Cmd) {
	r := msg.Response
	if !r.OK {
		m.errorMessage = r.Error
		m.errorTransient = true
		return m, clearTransientErrorCmd()
	}
	switch msg.Cmd {
	case daemon.CmdStart, daemon.CmdStop, daemon.CmdLanguages, daemon.CmdStatus:
		m.applyStatus(r)
	case daemon.CmdExport:
		m.toast = "Saved " + r.Path
		return m, clearToastCmd()
	case daemon.CmdClear:
		// The cleared event empties the timeline.
	}
	return m, nil
}

// handleEvent processes a daemon event and returns any resulting command.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch ev.Event {
	case daemon.EventDispatched:
		if ev.Entry == nil {
			return nil
		}
		// Already present when replayed on top of a snapshot.
		m.led.RegisterPending(ev.Entry.Ledger())
		if m.live {
			m.scrollToBottom()
		}

	case daemon.EventResolved:
		if ev.Entry != nil {
			m.led.Resolve(ev.Entry.SequenceNumber, ev.Entry.OriginalText, ev.Entry.TranslatedText)
		}

	case daemon.EventFailed:
		if ev.Entry != nil {
			m.led.Fail(ev.Entry.SequenceNumber, ev.Entry.ErrorMessage)
		}

	case daemon.EventTick:
		if ev.ElapsedMs != nil {
			m.elapsed = time.Duration(*ev.ElapsedMs) * time.Millisecond
		}
		if ev.IntervalMs != nil {
			m.interval = time.Duration(*ev.IntervalMs) * time.Millisecond
		}

	case daemon.EventStatus:
		if ev.Recording != nil {
			m.recording = *ev.Recording
			if m.recording {
				m.statusText = "Recording"
			} else {
				m.statusText = "Idle"
				m.elapsed = 0
			}
		}
		m.sessionID = ev.SessionID
		if ev.IntervalMs != nil {
			m.interval = time.Duration(*ev.IntervalMs) * time.Millisecond
		}

	case daemon.EventDeviceError:
		m.errorMessage = ev.Message
		m.errorTransient = false

	case daemon.EventCleared:
		m.led.Clear()
		m.scroll = 0
		m.live = true
	}

	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key != KeyClear {
		m.clearArmed = false
	}

	switch key {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.client != nil {
			m.client.Close()
		}
		if m.evClient != nil {
			m.evClient.Close()
		}
		return m, tea.Quit

	case KeySpace:
		if !m.connected {
			return m, nil
		}
		if m.recording {
			return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdStop})
		}
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdStart})

	case KeySource, KeySourceUpper, KeyTarget, KeyTargetUpper:
		if !m.connected {
			return m, nil
		}
		if m.recording {
			m.errorMessage = "Stop recording to change languages"
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		cmd := daemon.Command{Cmd: daemon.CmdLanguages}
		if key == KeySource || key == KeySourceUpper {
			cmd.Source = string(m.source.Next())
		} else {
			cmd.Target = string(m.target.Next())
		}
		return m, sendCmd(m.client, cmd)

	case KeyExport:
		if !m.connected {
			return m, nil
		}
		if m.led.Len() == 0 {
			m.errorMessage = "Nothing to export"
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdExport})

	case KeyClear:
		if !m.connected || m.led.Len() == 0 {
			return m, nil
		}
		if !m.clearArmed {
			m.clearArmed = true
			return m, disarmClearCmd()
		}
		m.clearArmed = false
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdClear})

	case KeyUp, KeyK:
		m.live = false
		if m.scroll > 0 {
			m.scroll--
		}
		return m, nil

	case KeyDown, KeyJ:
		maxScroll := m.maxScroll()
		m.scroll++
		if m.scroll >= maxScroll {
			m.scroll = maxScroll
			m.live = true
		}
		return m, nil

	case KeyEnd:
		m.live = true
		m.scrollToBottom()
		return m, nil
	}

	return m, nil
}

func (m *Model) scrollToBottom() {
	m.scroll = m.maxScroll()
}

func (m Model) maxScroll() int {
	total := len(m.timelineLines(m.timelineWidth()))
	visible := m.timelineVisibleLines()
	if total <= visible {
		return 0
	}
	return total - visible
}

func (m Model) timelineVisibleLines() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(1) + title(1) + divider(1) + error(1) + footer(1) + padding
	reserved := 8
	return max(5, m.height-reserved)
}

func (m Model) timelineWidth() int {
	if m.width == 0 {
		return 80
	}
	return max(20, m.width-2)
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
	sections = append(sections, m.renderTimeline())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	switch {
	case m.errorMessage != "":
		sections = append(sections, m.renderErrorBar())
	case m.clearArmed:
		sections = append(sections, ui.WarnStyle.Render("Press c again to clear the timeline"))
	case m.toast != "":
		sections = append(sections, ui.ToastStyle.Render(m.toast))
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("SEQUENT")

	langStyle := ui.LanguageStyle
	if m.recording {
		langStyle = ui.LanguageLockedStyle
	}
	langs := langStyle.Render(string(m.source)) + ui.DimStyle.Render(" → ") + langStyle.Render(string(m.target))

	return title + ui.DimStyle.Render(" — ") + langs
}

func (m Model) renderStatusBar() string {
	if !m.recording {
		return ui.IdleDotStyle.Render("○ IDLE") + m.renderCounts()
	}

	dot := ui.RecordingDotStyle.Render("● REC")
	barW := min(30, max(10, m.width/3))
	bar := ui.ProgressBar(m.elapsed, m.interval, barW)
	countdown := ui.CountdownStyle.Render(ui.Countdown(m.elapsed, m.interval))
	return dot + "  " + bar + "  " + countdown + m.renderCounts()
}

func (m Model) renderCounts() string {
	n := m.led.Len()
	if n == 0 {
		return ""
	}
	s := fmt.Sprintf("  %d blocks", n)
	if p := m.led.Pending(); p > 0 {
		return ui.StatusStyle.Render(s) + "  " + ui.SpinnerStyle.Render(fmt.Sprintf("⟳ %d analyzing", p))
	}
	return ui.StatusStyle.Render(s)
}

// timelineLines renders every entry as display lines of at most width cells.
func (m Model) timelineLines(width int) []string {
	const indent = "  "
	labelW := 0
	for _, l := range lang.All() {
		labelW = max(labelW, lipgloss.Width(strings.ToUpper(string(l))))
	}
	textWidth := max(10, width-len(indent)-labelW-1)
	pad := strings.Repeat(" ", len(indent)+labelW+1)

	var lines []string
	for _, e := range m.led.Snapshot() {
		header := ui.TimestampStyle.Render(e.StartedAt.Local().Format("[15:04:05]"))
		switch e.State {
		case ledger.Pending:
			header += " " + ui.PendingStyle.Render("⟳ "+PendingLabel)
		case ledger.Failed:
			header += " " + ui.ErrorStyle.Render("✗ Error")
		}
		lines = append(lines, header)

		srcLabel := ui.SourceLabelStyle.Render(padRight(strings.ToUpper(string(e.Source)), labelW))
		tgtLabel := ui.TargetLabelStyle.Render(padRight(strings.ToUpper(string(e.Target)), labelW))

		switch e.State {
		case ledger.Pending:
			lines = append(lines, indent+srcLabel+" "+ui.PendingStyle.Render("…"))
			lines = append(lines, indent+tgtLabel+" "+ui.PendingStyle.Render("…"))

		case ledger.Failed:
			for _, wl := range wrapText(e.ErrorMessage, textWidth+labelW+1) {
				lines = append(lines, indent+ui.ErrorTextStyle.Render(wl))
			}

		default:
			if e.Silent() {
				lines = append(lines, indent+srcLabel+" "+ui.SilentStyle.Render(SilentLabel))
				lines = append(lines, indent+tgtLabel+" "+ui.SilentStyle.Render("-"))
				break
			}
			lines = appendLabelled(lines, indent, pad, srcLabel, e.OriginalText, textWidth, ui.OriginalTextStyle)
			translated := e.TranslatedText
			style := ui.TranslatedTextStyle
			if translated == "" {
				translated = EmptyLabel
				style = ui.SilentStyle
			}
			lines = appendLabelled(lines, indent, pad, tgtLabel, translated, textWidth, style)
		}
		lines = append(lines, "")
	}
	return lines
}

func appendLabelled(lines []string, indent, pad, label, text string, width int, style lipgloss.Style) []string {
	for i, wl := range wrapText(text, width) {
		if i == 0 {
			lines = append(lines, indent+label+" "+style.Render(wl))
		} else {
			lines = append(lines, pad+style.Render(wl))
		}
	}
	return lines
}

func (m Model) renderTimeline() string {
	height := m.timelineVisibleLines() + 1

	var badge string
	if m.live {
		badge = ui.LiveBadgeStyle.Render(" LIVE")
	} else {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}

	var lines []string
	lines = append(lines, ui.PanelTitleStyle.Render("TIMELINE")+badge)

	contentHeight := height - 1 // subtract header line

	if !m.connected {
		if m.reconnecting {
			lines = append(lines, "")
			lines = append(lines, ui.ErrorTextStyle.Render("  Daemon disconnected. Reconnecting..."))
			lines = append(lines, ui.DimStyle.Render("  Start with: sequent daemon"))
		} else {
			lines = append(lines, ui.DimStyle.Render("  Connecting to sequent daemon..."))
		}
	} else if m.led.Len() == 0 {
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  Ready to interpret"))
		lines = append(lines, ui.DimStyle.Render(fmt.Sprintf("  Press Space to start; speech is interpreted every %s.", m.interval)))
	} else {
		display := m.timelineLines(m.timelineWidth())

		start := 0
		if m.live {
			if len(display) > contentHeight {
				start = len(display) - contentHeight
			}
		} else {
			start = m.scroll
		}
		if start < 0 {
			start = 0
		}

		end := start + contentHeight
		if end > len(display) {
			end = len(display)
		}

		for i := start; i < end; i++ {
			lines = append(lines, " "+display[i])
		}
	}

	// Pad to height
	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.connected {
		if m.recording {
			parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Stop"))
		} else {
			parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Record"))
			parts = append(parts, ui.FooterKeyStyle.Render("s/t")+ui.FooterDescStyle.Render(" Languages"))
		}
		if m.led.Len() > 0 {
			parts = append(parts, ui.FooterKeyStyle.Render("e")+ui.FooterDescStyle.Render(" Export CSV"))
			parts = append(parts, ui.FooterKeyStyle.Render("c")+ui.FooterDescStyle.Render(" Clear"))
		}
		parts = append(parts, ui.FooterKeyStyle.Render("↑↓")+ui.FooterDescStyle.Render(" Scroll"))
	}

	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

// wrapText breaks text into lines of at most width cells. Words wider than
// width, common in Chinese and Japanese, are split between characters.
func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			for _, piece := range splitWide(word, width) {
				switch {
				case current == "":
					current = piece
				case lipgloss.Width(current)+1+lipgloss.Width(piece) <= width:
					current += " " + piece
				default:
					lines = append(lines, current)
					current = piece
				}
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

func splitWide(word string, width int) []string {
	if lipgloss.Width(word) <= width {
		return []string{word}
	}
	var pieces []string
	var cur strings.Builder
	curW := 0
	for _, r := range word {
		rw := lipgloss.Width(string(r))
		if curW+rw > width && curW > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curW = 0
		}
		cur.WriteRune(r)
		curW += rw
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}
