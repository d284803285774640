package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agentdeck.local/projects/deck-dashboard/internal/dashboard"
	"agentdeck.local/projects/deck-dashboard/internal/state"
	"agentdeck.local/projects/deck-dashboard/internal/timeline"
)

type ui struct {
	app *tview.Application
	cli *dashboard.Client

	layout       *tview.Flex
	statusView   *tview.TextView
	sessionList  *tview.List
	timelineView *tview.TextView
	metricsView  *tview.TextView
	input        *tview.InputField

	// Suppresses the list changed-callback while render repaints it.
	repainting bool

	unsubState func()
	unsubConn  func()
}

func newUI(ctx context.Context, cli *dashboard.Client) *ui {
	u := &ui{
		app: tview.NewApplication(),
		cli: cli,
	}

	u.statusView = tview.NewTextView().
		SetDynamicColors(true).
		SetText("[yellow]status: disconnected")
	u.statusView.SetBorder(true).SetTitle("Connection")

	u.sessionList = tview.NewList().
		ShowSecondaryText(true)
	u.sessionList.SetBorder(true).SetTitle("Sessions")

	u.timelineView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetScrollable(true)
	u.timelineView.SetBorder(true).SetTitle("Timeline")

	u.metricsView = tview.NewTextView().
		SetDynamicColors(true)
	u.metricsView.SetBorder(true).SetTitle("Metrics")

	helpView := tview.NewTextView().
		SetDynamicColors(true).
		SetText("Enter injects a message into the selected session. /refresh /clear /select <id> /quit")
	helpView.SetBorder(true).SetTitle("Help")

	u.input = tview.NewInputField().
		SetLabel("Inject> ").
		SetFieldWidth(0)
	u.input.SetBorder(true).SetTitle("Compose")

	body := tview.NewFlex().
		AddItem(u.sessionList, 0, 1, false).
		AddItem(u.timelineView, 0, 2, false)

	u.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(u.statusView, 3, 0, false).
		AddItem(body, 0, 1, false).
		AddItem(u.metricsView, 3, 0, false).
		AddItem(helpView, 3, 0, false).
		AddItem(u.input, 3, 0, true)

	// These callbacks run on the event-loop goroutine. Client mutations echo
	// back through the state observer, which queues a redraw; queueing from
	// the event loop itself never drains, so every mutation is dispatched on
	// its own goroutine.
	u.sessionList.SetChangedFunc(func(_ int, _ string, secondary string, _ rune) {
		if u.repainting {
			return
		}
		go cli.SelectConversation(secondary)
	})

	u.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(u.input.GetText())
		if text == "" {
			return
		}
		u.input.SetText("")

		switch {
		case text == "/quit":
			u.app.Stop()
			return
		case text == "/clear":
			go cli.ClearConversations()
			return
		case text == "/refresh":
			go func() {
				refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := cli.Refresh(refreshCtx); err != nil {
					u.app.QueueUpdateDraw(func() {
						u.statusView.SetText(fmt.Sprintf("[red]status: refresh failed (%v)", err))
					})
				}
			}()
			return
		case strings.HasPrefix(text, "/select "):
			id := strings.TrimSpace(strings.TrimPrefix(text, "/select "))
			go cli.SelectConversation(id)
			return
		}

		sessionID := cli.Snapshot().SelectedID
		if sessionID == "" {
			u.statusView.SetText("[red]status: no session selected")
			return
		}
		go cli.InjectMessage(sessionID, text)
	})

	u.unsubState = cli.OnState(func(snapshot state.Snapshot) {
		u.app.QueueUpdateDraw(func() {
			u.render(snapshot)
		})
	})

	u.unsubConn = cli.OnConnectionChange(func(connected bool) {
		u.app.QueueUpdateDraw(func() {
			if connected {
				u.statusView.SetText("[green]status: connected")
				return
			}
			u.statusView.SetText(fmt.Sprintf("[yellow]status: reconnecting (attempt %d)", cli.ReconnectAttempt()))
		})
	})

	return u
}

// render repaints every pane from a snapshot. Must run on the event-loop
// goroutine.
func (u *ui) render(snapshot state.Snapshot) {
	u.repainting = true
	u.sessionList.Clear()
	selectedIndex := -1
	for i, conv := range snapshot.Conversations {
		u.sessionList.AddItem(conv.Title, conv.ID, 0, nil)
		if conv.ID == snapshot.SelectedID {
			selectedIndex = i
		}
	}
	if selectedIndex >= 0 {
		u.sessionList.SetCurrentItem(selectedIndex)
	}
	u.repainting = false

	u.timelineView.Clear()
	if conv, ok := snapshot.Selected(); ok {
		for _, entry := range conv.Items {
			_, _ = fmt.Fprintf(u.timelineView, "%s\n", formatEntry(entry))
		}
	}
	u.timelineView.ScrollToEnd()

	u.metricsView.SetText(formatMetrics(snapshot.Metrics))

	if snapshot.Err != "" {
		u.statusView.SetText(fmt.Sprintf("[red]status: %s", snapshot.Err))
	}
}

// Run drives the terminal dashboard until the user quits or ctx closes.
// The client is expected to be constructed but not yet connected.
func Run(ctx context.Context, cli *dashboard.Client) error {
	u := newUI(ctx, cli)
	defer u.unsubState()
	defer u.unsubConn()

	go func() {
		<-ctx.Done()
		u.app.QueueUpdate(func() {
			u.app.Stop()
		})
	}()

	cli.Connect()
	defer cli.Disconnect()

	u.render(cli.Snapshot())
	return u.app.SetRoot(u.layout, true).EnableMouse(true).Run()
}

func formatEntry(entry timeline.Entry) string {
	color := "white"
	switch {
	case entry.Status == timeline.StatusError:
		color = "red"
	case entry.Kind == timeline.KindUser:
		color = "aqua"
	case entry.Kind == timeline.KindEvent:
		color = "yellow"
	}
	line := fmt.Sprintf("[%s]%s %-5s %s", color, entry.Timestamp, entry.Kind, entry.Content)
	if entry.Latency != "" {
		line += fmt.Sprintf(" [gray](%s)", entry.Latency)
	}
	if entry.Details != "" {
		line += fmt.Sprintf("\n[gray]        %s", entry.Details)
	}
	return line
}

func formatMetrics(metrics []state.Metric) string {
	if len(metrics) == 0 {
		return "[gray]no metrics yet"
	}
	parts := make([]string, 0, len(metrics))
	for _, metric := range metrics {
		parts = append(parts, fmt.Sprintf("[white]%s: %g", metric.Label, metric.Value))
	}
	return strings.Join(parts, "  [gray]|  ")
}
