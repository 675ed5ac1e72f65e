package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/and161185/gokeeper-core/internal/config"
	"github.com/and161185/gokeeper-core/internal/item"
	"github.com/and161185/gokeeper-core/internal/obslog"
	"github.com/and161185/gokeeper-core/internal/sync"
)

// cmdTUI is a deliberately scoped-down screen: one model, no page
// navigation. It runs a sync on launch, then lets the arrow keys browse
// whatever ended up in the item graph.
func cmdTUI(args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	addr := fs.String("addr", "", "sync server base URL (omit for local-only)")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		return fmt.Errorf("tui: -password is required")
	}

	ctx := context.Background()
	sess, err := openSession(ctx, *password)
	if err != nil {
		return err
	}

	var transport sync.Transport
	if *addr != "" {
		transport = NewRestyTransport(*addr)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	engine := sync.NewEngine(transport, sess.store, sess.proto, sess.keys, sess.items, cfg.Sync, obslog.Nop())

	m := newBrowseModel(ctx, engine, sess.items)
	_, err = tea.NewProgram(m).Run()
	return err
}

type syncDoneMsg struct{ err error }

type browseModel struct {
	ctx     context.Context
	engine  *sync.Engine
	items   *item.Manager
	spinner spinner.Model
	syncing bool
	list    []*item.Item
	cursor  int
	status  string
}

func newBrowseModel(ctx context.Context, engine *sync.Engine, items *item.Manager) browseModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return browseModel{ctx: ctx, engine: engine, items: items, spinner: s, syncing: true}
}

func (m browseModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runSync)
}

func (m browseModel) runSync() tea.Msg {
	err := m.engine.Sync(m.ctx, true)
	return syncDoneMsg{err: err}
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			if m.cursor < len(m.list)-1 {
				m.cursor++
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		}
		return m, nil

	case syncDoneMsg:
		m.syncing = false
		m.list = m.items.All()
		if msg.err != nil {
			m.status = "sync error: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("synced, %d items", len(m.list))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

func (m browseModel) View() string {
	out := titleStyle.Render("keepercli") + "\n\n"

	if m.syncing {
		out += m.spinner.View() + " syncing...\n"
		return out
	}

	if len(m.list) == 0 {
		out += "no items\n"
	}
	for i, it := range m.list {
		line := fmt.Sprintf("%s  %s", it.ContentType(), it.UUID())
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		out += line + "\n"
	}

	if m.status != "" {
		out += "\n" + m.status + "\n"
	}
	out += "\nj/k move, q quit\n"
	return out
}
