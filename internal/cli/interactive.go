package cli

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/store"
	"github.com/tmercier/fieldmend/internal/validation"
)

var (
	reviewValidator string
	reviewRole      string
	reviewLimit     int
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Interactive TUI for validating queued corrections",
	Long: `Walk the validation queue interactively: claim an item, then accept,
reject, or modify its suggested correction. Every decision feeds the
training corpus.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reviewValidator == "" {
			return fmt.Errorf("--validator is required")
		}
		ctx := context.Background()

		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		manager := validation.New(store.New(pool), nil, log)

		items, err := manager.GetPending(ctx, store.PendingOptions{
			ValidatorID: reviewValidator,
			Limit:       reviewLimit,
		})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Validation queue is empty")
			return nil
		}

		m := newReviewModel(ctx, manager, items, reviewValidator, reviewRole)
		p := tea.NewProgram(m, tea.WithAltScreen())
		final, err := p.Run()
		if err != nil {
			return err
		}
		if fm, ok := final.(reviewModel); ok {
			fmt.Printf("Validated %d of %d items\n", fm.decided, len(fm.items))
		}
		return nil
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewValidator, "validator", "", "validator id")
	reviewCmd.Flags().StringVar(&reviewRole, "role", "", "validator role")
	reviewCmd.Flags().IntVar(&reviewLimit, "limit", 50, "max items to load")
}

// --- Styles ---

var (
	reviewTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	reviewSelectedStyle = lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("236")).Foreground(lipgloss.Color("15"))
	reviewDimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	reviewWarnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	reviewOkStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	reviewErrStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	reviewHelpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// --- Model ---

type reviewItem struct {
	quality.ValidationQueueItem
	decision quality.ValidationDecision // empty until validated
	claimed  bool
}

type reviewModel struct {
	ctx       context.Context
	manager   *validation.Manager
	validator string
	role      string

	items   []*reviewItem
	cursor  int
	decided int

	inputMode   bool
	inputBuffer string
	status      string
	width       int
	height      int
}

func newReviewModel(ctx context.Context, manager *validation.Manager, items []quality.ValidationQueueItem, validator, role string) reviewModel {
	wrapped := make([]*reviewItem, len(items))
	for i := range items {
		wrapped[i] = &reviewItem{ValidationQueueItem: items[i]}
	}
	return reviewModel{
		ctx:       ctx,
		manager:   manager,
		validator: validator,
		role:      role,
		items:     wrapped,
		width:     80,
		height:    24,
	}
}

func (m reviewModel) Init() tea.Cmd {
	return nil
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.inputMode {
			return m.handleInputKey(msg)
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "j", "down":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "g":
			m.cursor = 0
		case "G":
			m.cursor = len(m.items) - 1

		case "a":
			return m.decide(quality.DecisionAccept, nil)
		case "r":
			return m.decide(quality.DecisionReject, nil)
		case "m":
			if m.items[m.cursor].decision == "" {
				m.inputMode = true
				m.inputBuffer = ""
				m.status = ""
			}
		}
	}
	return m, nil
}

func (m reviewModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.inputMode = false
		if m.inputBuffer == "" {
			m.status = "modify needs a value"
			return m, nil
		}
		return m.decide(quality.DecisionModify, m.inputBuffer)
	case "esc":
		m.inputMode = false
		m.inputBuffer = ""
	case "backspace":
		if len(m.inputBuffer) > 0 {
			m.inputBuffer = m.inputBuffer[:len(m.inputBuffer)-1]
		}
	default:
		if len(msg.String()) == 1 {
			m.inputBuffer += msg.String()
		}
	}
	return m, nil
}

// decide claims the item if needed, then records the decision.
func (m reviewModel) decide(d quality.ValidationDecision, value any) (tea.Model, tea.Cmd) {
	item := m.items[m.cursor]
	if item.decision != "" {
		m.status = "already validated"
		return m, nil
	}

	if !item.claimed {
		if err := m.manager.Assign(m.ctx, item.ID, m.validator); err != nil {
			m.status = reviewErrStyle.Render(err.Error())
			return m, nil
		}
		item.claimed = true
	}

	_, err := m.manager.Validate(m.ctx, validation.ValidateRequest{
		CorrectionID:   item.CorrectionID,
		Decision:       d,
		CorrectedValue: value,
		ValidatorID:    m.validator,
		ValidatorRole:  m.role,
	})
	if err != nil {
		m.status = reviewErrStyle.Render(err.Error())
		return m, nil
	}

	item.decision = d
	m.decided++
	m.status = reviewOkStyle.Render(fmt.Sprintf("%s recorded", d))
	if m.cursor < len(m.items)-1 {
		m.cursor++
	}
	if m.decided == len(m.items) {
		return m, tea.Quit
	}
	return m, nil
}

func (m reviewModel) View() string {
	var b strings.Builder

	b.WriteString(reviewTitleStyle.Render(fmt.Sprintf("Validation queue for %s", m.validator)))
	b.WriteString(reviewDimStyle.Render(fmt.Sprintf("  (%d/%d done)", m.decided, len(m.items))))
	b.WriteString("\n\n")

	for i, item := range m.items {
		line := fmt.Sprintf("p%-2d %-8s %-18s %v → %v  (%.2f)",
			item.Priority, item.Type, item.Field, item.OldValue, item.NewValue, item.Confidence)
		switch {
		case item.decision != "":
			line = reviewDimStyle.Render(fmt.Sprintf("%s  [%s]", line, item.decision))
		case i == m.cursor:
			line = reviewSelectedStyle.Render("> " + line)
		default:
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.inputMode {
		b.WriteString(reviewWarnStyle.Render(fmt.Sprintf("corrected value: %s_", m.inputBuffer)))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(reviewHelpStyle.Render("j/k move · a accept · r reject · m modify · q quit"))
	return b.String()
}
