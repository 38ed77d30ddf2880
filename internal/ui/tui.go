package ui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/form"
	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/reconcile"
	"github.com/ms-iwade/opensearch-app/internal/store"
)

// listItem adapts model.Item to bubbles/list.Item
type listItem struct {
	item model.Item
}

func (i listItem) titleText() string {
	box := boxUnchecked
	if i.item.Status == model.StatusCompleted {
		box = boxChecked
	}
	return fmt.Sprintf("%s %s", box, i.item.Content)
}

// Implement list.Item interface
func (i listItem) Title() string       { return i.titleText() }
func (i listItem) Description() string { return "" }
func (i listItem) FilterValue() string { return i.item.Content }

// Custom delegate to control how items render (single line)
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, _ := item.(listItem)
	done := it.item.Status == model.StatusCompleted

	boxStyled := mutedStyle.Render(boxUnchecked)
	textStyled := it.item.Content
	if done {
		boxStyled = successStyle.Render(boxChecked)
		textStyled = doneStyle.Render(it.item.Content)
	}

	line := fmt.Sprintf("%s %s", boxStyled, textStyled)
	prefix := "  "
	if index == m.Index() {
		prefix = selectedStyle.Render("> ")
	}
	fmt.Fprintln(w, prefix+line)
}

// eventKind tags a live store event pumped into the message loop.
type eventKind int

const (
	eventCreated eventKind = iota
	eventUpdated
	eventDeleted
)

// itemEventMsg carries one live store event. alive is false when the
// stream closed.
type itemEventMsg struct {
	kind  eventKind
	item  model.Item
	alive bool
}

// waitEvent blocks on a subscription channel and re-emits the event
// as a message. The TUI re-issues it after each delivery, so the
// stream is consumed one event per Update pass, serialized by the
// program's message queue.
func waitEvent(kind eventKind, sub *store.Subscription) tea.Cmd {
	return func() tea.Msg {
		item, alive := <-sub.C
		return itemEventMsg{kind: kind, item: item, alive: alive}
	}
}

// collectionsMsg carries the result of an asynchronous reload. failed
// snapshots keep the last known-good collections in place.
type collectionsMsg struct {
	collections reconcile.Collections
	failed      bool
}

type tuiModel struct {
	ctx    context.Context
	rec    *reconcile.Reconciler
	forms  *form.Controller
	st     store.Store
	logger *zap.Logger

	createSub *store.Subscription
	updateSub *store.Subscription
	deleteSub *store.Subscription

	list list.Model
	ti   textinput.Model
	spin spinner.Model

	// A reload is in flight; the spinner runs until the snapshot
	// arrives.
	loading bool

	// Inline add
	adding   bool
	mediated bool // add via the server-side function
	inputErr string

	// Inline edit (the reconciler carries the edit guard)
	editing bool

	// Last submission/status message
	statusMsg string

	// Undo support (single-level): re-creates the last deleted item
	undoItem *model.Item

	width, height int
}

// RunList starts the live Bubble Tea list. Collections load
// asynchronously on startup, behind a spinner; afterwards the view
// tracks the store through its event streams until quit.
func RunList(ctx context.Context, st store.Store, logger *zap.Logger) error {
	rec := reconcile.New(st, logger)

	m := tuiModel{
		ctx:       ctx,
		rec:       rec,
		forms:     form.New(st, logger),
		st:        st,
		logger:    logger,
		createSub: st.OnCreate(),
		updateSub: st.OnUpdate(),
		deleteSub: st.OnDelete(),
		width:     80,
		height:    24,
	}
	defer m.createSub.Cancel()
	defer m.updateSub.Cancel()
	defer m.deleteSub.Cancel()

	l := list.New(nil, itemDelegate{}, 0, 0)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	l.Styles.HelpStyle = helpStyle
	l.Styles.PaginationStyle = helpStyle
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("item", "items")

	// Extend help with our bindings
	bindings := []key.Binding{
		key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
		key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "add via function")),
		key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
		key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "filter")),
		key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo")),
	}
	l.AdditionalShortHelpKeys = func() []key.Binding { return bindings }
	l.AdditionalFullHelpKeys = func() []key.Binding { return bindings }
	m.list = l

	m.ti = textinput.New()
	m.ti.Prompt = "> "
	m.ti.Placeholder = "New item content..."
	m.ti.CharLimit = 200

	m.spin = spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(accentStyle))
	m.loading = true

	m.syncList()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

// syncList rebuilds the bubbles list from the reconciler's filtered
// collection and refreshes the stats header.
func (m *tuiModel) syncList() {
	filtered := m.rec.Filtered()
	items := make([]list.Item, 0, len(filtered))
	for _, item := range filtered {
		items = append(items, listItem{item: item})
	}
	m.list.SetItems(items)

	pending, completed := m.rec.Stats()
	m.list.Title = fmt.Sprintf("%s [%s]   %s %d  %s %d  %s %d",
		titleStyle.Render("Todos"),
		accentStyle.Render(string(m.rec.Filter())),
		successStyle.Render("✔"), completed,
		pendingStyle.Render("•"), pending,
		accentStyle.Render("Total"), pending+completed,
	)
}

func (m tuiModel) selected() (model.Item, bool) {
	li, ok := m.list.SelectedItem().(listItem)
	if !ok {
		return model.Item{}, false
	}
	return li.item, true
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		m.reloadCmd(),
		waitEvent(eventCreated, m.createSub),
		waitEvent(eventUpdated, m.updateSub),
		waitEvent(eventDeleted, m.deleteSub),
	)
}

// reloadCmd fetches a fresh snapshot off the event loop. The filter
// is captured now; Install drops the snapshot if it switched in the
// meantime.
func (m tuiModel) reloadCmd() tea.Cmd {
	ctx, st, filter, logger := m.ctx, m.st, m.rec.Filter(), m.logger
	return func() tea.Msg {
		c, err := reconcile.FetchCollections(ctx, st, filter)
		if err != nil {
			logger.Warn("reload failed", zap.Error(err))
			return collectionsMsg{failed: true}
		}
		return collectionsMsg{collections: c}
	}
}

// startReload flips the spinner on and kicks off an asynchronous
// fetch.
func (m tuiModel) startReload() (tuiModel, tea.Cmd) {
	m.loading = true
	return m, tea.Batch(m.spin.Tick, m.reloadCmd())
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case itemEventMsg:
		return m.applyEvent(msg)

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case collectionsMsg:
		m.loading = false
		if !msg.failed {
			m.rec.Install(msg.collections)
		}
		m.syncList()
		return m, nil

	case tea.KeyMsg:
		if m.adding {
			return m.updateAdding(msg)
		}
		if m.editing {
			return m.updateEditing(msg)
		}
		return m.updateBrowsing(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// applyEvent merges one live store event into the reconciler and
// refreshes the list. The matching wait command is re-issued so the
// next event is picked up.
func (m tuiModel) applyEvent(msg itemEventMsg) (tea.Model, tea.Cmd) {
	if !msg.alive {
		return m, nil
	}

	switch msg.kind {
	case eventCreated:
		m.rec.ApplyCreate(msg.item)
	case eventUpdated:
		wasEditing := m.editing && m.rec.EditingID() == msg.item.ID
		m.rec.ApplyUpdate(msg.item)
		if wasEditing && m.rec.EditingID() == "" {
			// A concurrent remote write to the item under edit wins;
			// keeping the editor open would push stale input over it.
			m.editing = false
			m.ti.SetValue("")
			m.ti.Blur()
			m.statusMsg = "edit cancelled: item changed remotely"
		}
	case eventDeleted:
		m.rec.ApplyDelete(msg.item)
	}
	m.syncList()

	var sub *store.Subscription
	switch msg.kind {
	case eventCreated:
		sub = m.createSub
	case eventUpdated:
		sub = m.updateSub
	default:
		sub = m.deleteSub
	}
	return m, waitEvent(msg.kind, sub)
}

func (m tuiModel) updateAdding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		content := m.ti.Value()
		if strings.TrimSpace(content) == "" {
			m.inputErr = "Content cannot be empty"
			return m, nil
		}
		via := form.PathwayDirect
		if m.mediated {
			via = form.PathwayMediated
		}
		sub := m.forms.Submit(m.ctx, content, via)
		m.statusMsg = sub.Message
		m.syncList()
		m.ti.SetValue("")
		m.ti.Blur()
		m.adding = false
		m.inputErr = ""
		if sub.NeedsReload {
			// The mediated pathway emits no create event.
			return m.startReload()
		}
		return m, nil
	case "esc":
		m.adding = false
		m.inputErr = ""
		m.ti.SetValue("")
		m.ti.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m tuiModel) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		content := strings.TrimSpace(m.ti.Value())
		if content == "" {
			m.inputErr = "Content cannot be empty"
			return m, nil
		}
		id := m.rec.EditingID()
		if id != "" {
			item, found := m.rec.Find(id)
			if found {
				if _, err := m.st.Update(m.ctx, id, content, item.Status); err != nil {
					m.logger.Warn("update failed", zap.Error(err))
					m.statusMsg = "error: failed to update"
				}
			}
		}
		m.rec.CancelEdit()
		m.ti.SetValue("")
		m.ti.Blur()
		m.editing = false
		m.inputErr = ""
		return m.startReload()
	case "esc":
		m.rec.CancelEdit()
		m.editing = false
		m.inputErr = ""
		m.ti.SetValue("")
		m.ti.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m tuiModel) updateBrowsing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit

	case "tab":
		next := model.StatusPending
		if m.rec.Filter() == model.StatusPending {
			next = model.StatusCompleted
		}
		m.rec.SetFilter(m.ctx, next)
		m.syncList()
		return m, nil

	case " ":
		if item, ok := m.selected(); ok {
			next := model.StatusCompleted
			if item.Status == model.StatusCompleted {
				next = model.StatusPending
			}
			if _, err := m.st.Update(m.ctx, item.ID, item.Content, next); err != nil {
				m.logger.Warn("toggle failed", zap.Error(err))
				m.statusMsg = "error: failed to update"
			}
			return m.startReload()
		}
		return m, nil

	case "d":
		if item, ok := m.selected(); ok {
			tmp := item
			m.undoItem = &tmp
			if _, err := m.st.Delete(m.ctx, item.ID); err != nil {
				m.logger.Warn("delete failed", zap.Error(err))
				m.statusMsg = "error: failed to delete"
			}
			return m.startReload()
		}
		return m, nil

	case "u":
		if m.undoItem != nil {
			// Re-create under a fresh id; the original id is gone.
			if _, err := m.st.Create(m.ctx, m.undoItem.Content, m.undoItem.Status); err != nil {
				m.logger.Warn("undo failed", zap.Error(err))
				m.statusMsg = "error: failed to undo"
			}
			m.undoItem = nil
			return m.startReload()
		}
		return m, nil

	case "a", "m":
		m.adding = true
		m.mediated = msg.String() == "m"
		m.ti.SetValue("")
		m.ti.Placeholder = "New item content..."
		m.ti.Focus()
		return m, nil

	case "e":
		if item, ok := m.selected(); ok {
			m.editing = true
			m.rec.BeginEdit(item.ID)
			m.ti.SetValue(item.Content)
			m.ti.CursorEnd()
			m.ti.Placeholder = "Edit item content..."
			m.ti.Focus()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m tuiModel) View() string {
	listHeight := m.height - 4
	if m.adding || m.editing {
		listHeight = m.height - 6
	}
	m.list.SetSize(m.width-2, listHeight)

	content := m.list.View()
	if m.loading {
		content += "\n" + m.spin.View() + mutedStyle.Render("loading items...")
	}
	if m.statusMsg != "" {
		content += "\n" + mutedStyle.Render(m.statusMsg)
	}
	if m.adding || m.editing {
		bar := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
		title := "Add new item"
		if m.mediated && m.adding {
			title = "Add new item (via function)"
		}
		if m.editing {
			title = "Edit item"
		}
		if m.inputErr != "" {
			title += " — " + errorStyle.Render(m.inputErr)
		}
		inputLine := title + "\n" + m.ti.View()
		content = content + "\n" + bar.Render(inputLine)
	}
	return panelString(content)
}
