package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/mindstream/internal/client"
	"github.com/raphaelgruber/mindstream/internal/ingest"
)

const (
	remotePollInterval = time.Second
	localPollInterval  = 150 * time.Millisecond
)

// errInterrupted is returned when the user stops a local ingestion.
var errInterrupted = errors.New("ingestion interrupted")

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	Agent      lipgloss.Color
	ProgressBg lipgloss.Color
}

var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"),
	Success:    lipgloss.Color("#00D787"),
	Error:      lipgloss.Color("#FF005F"),
	Hint:       lipgloss.Color("#6C6C6C"),
	Agent:      lipgloss.Color("#D7AF5F"),
	ProgressBg: lipgloss.Color("#3A3A3A"),
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) agentStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Agent).Bold(true)
}

// fetchFunc returns the current state of the job being watched.
type fetchFunc func(ctx context.Context) (*client.Job, error)

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *client.Job
	err error
}

// progressModel is the bubbletea model for ingestion progress.
type progressModel struct {
	fetch    fetchFunc
	jobID    string
	job      *client.Job
	progress progress.Model
	theme    Theme
	interval time.Duration
	// background is true when the job outlives this process.
	background bool
	done       bool
	quitting   bool
	err        error
}

func newProgressModel(fetch fetchFunc, job *client.Job, interval time.Duration, background bool) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		fetch:      fetch,
		jobID:      job.ID,
		job:        job,
		progress:   prog,
		theme:      defaultTheme,
		interval:   interval,
		background: background,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.tick(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job
		if m.job.Status == "failed" {
			m.done = true
			m.err = errors.New(m.job.Error)
			if m.job.Error == "" {
				m.err = errors.New("job failed with unknown error")
			}
			return m, tea.Quit
		}
		if m.job.Done() {
			m.done = true
			return m, tea.Quit
		}
		return m, m.tick()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.job == nil {
		return "Loading job status...\n"
	}

	var pct float64
	if m.job.Total > 0 {
		pct = float64(m.job.Progress) / float64(m.job.Total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	counts := fmt.Sprintf("%d/%d records", m.job.Progress, m.job.Total)

	hint := "Press Ctrl+C to stop; ingestion is idempotent and can be re-run"
	if m.background {
		hint = "Press Ctrl+C to continue in background"
	}
	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, m.theme.hintStyle().Render(hint))
}

func (m progressModel) finalView() string {
	if m.quitting {
		if m.background {
			msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'mindstream jobs %s' to check status.\n", m.jobID, m.jobID)
			return m.theme.hintStyle().Render(msg)
		}
		return m.theme.hintStyle().Render("\nIngestion stopped. Run ingest again to finish.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}
	if m.job != nil && m.job.Result != nil {
		return renderResult(m.theme, *m.job.Result)
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n"
}

// renderResult formats ingestion counts.
func renderResult(t Theme, r ingest.Result) string {
	var sb strings.Builder
	sb.WriteString(t.completedStyle().Render("✓ Completed"))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "  Log records added:  %d\n", r.Added)
	fmt.Fprintf(&sb, "  Already present:    %d\n", r.Skipped)
	fmt.Fprintf(&sb, "  Core memories:      %d\n", r.CoreAdded)
	fmt.Fprintf(&sb, "  Derived cleared:    %d\n", r.Deleted)
	fmt.Fprintf(&sb, "  Retained:           %d\n", r.Retained)
	if r.Reflections > 0 {
		fmt.Fprintf(&sb, "  Reflections:        %d\n", r.Reflections)
	}
	return sb.String()
}

// fetchJob runs as a command so Update never blocks.
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.fetch(ctx)
		return jobUpdateMsg{job: job, err: err}
	}
}

func (m progressModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runJobProgress runs the interactive progress UI for a job.
// It returns nil on success, errInterrupted when a local job was stopped,
// and the job error on failure. Stopping a background job is not an error.
func runJobProgress(fetch fetchFunc, job *client.Job, interval time.Duration, background bool) (*client.Job, error) {
	p := tea.NewProgram(newProgressModel(fetch, job, interval, background))

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := final.(progressModel)
	if !ok {
		return nil, nil
	}
	if m.quitting {
		if background {
			return m.job, nil
		}
		return m.job, errInterrupted
	}
	return m.job, m.err
}

// waitPlain polls a job without a terminal UI, printing a line whenever progress changes.
func waitPlain(ctx context.Context, w io.Writer, fetch fetchFunc, interval time.Duration) (*client.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		job, err := fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch job status: %w", err)
		}
		if job.Progress != last {
			fmt.Fprintf(w, "[%s] %d/%d records\n", job.Status, job.Progress, job.Total)
			last = job.Progress
		}
		if job.Status == "failed" {
			return job, fmt.Errorf("job failed: %s", job.Error)
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
