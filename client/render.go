package client

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the styles used to print frames.
type Theme struct {
	Session   lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Tool      lipgloss.Style
	Update    lipgloss.Style
	Error     lipgloss.Style
}

// NewTheme builds the default theme against r.
func NewTheme(r *lipgloss.Renderer) Theme {
	muted := lipgloss.Color("245")
	return Theme{
		Session:   r.NewStyle().Foreground(muted).Italic(true),
		User:      r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		Assistant: r.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
		Tool:      r.NewStyle().Foreground(lipgloss.Color("111")).Bold(true),
		Update:    r.NewStyle().Foreground(muted),
		Error:     r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

// Renderer prints frames to a terminal.
type Renderer struct {
	w       io.Writer
	theme   Theme
	verbose bool
}

// NewRenderer creates a renderer writing to w. Colors are used only when w
// is a terminal. Verbose also prints node updates and final state.
func NewRenderer(w io.Writer, verbose bool) *Renderer {
	return &Renderer{
		w:       w,
		theme:   NewTheme(lipgloss.NewRenderer(w)),
		verbose: verbose,
	}
}

// Render prints one frame.
func (r *Renderer) Render(f Frame) error {
	switch f.Channel {
	case "session":
		var data struct {
			ThreadID string `json:"thread_id"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return err
		}
		return r.line(r.theme.Session.Render("thread " + data.ThreadID))
	case "messages":
		msg, node, err := f.MessageData()
		if err != nil {
			return err
		}
		return r.line(r.prefix(msg.Role, node) + " " + msg.Content)
	case "updates":
		if !r.verbose {
			return nil
		}
		var data map[string]map[string]json.RawMessage
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return err
		}
		for _, node := range sortedKeys(data) {
			step := "-"
			if raw, ok := data[node]["step"]; ok {
				_ = json.Unmarshal(raw, &step)
			}
			if err := r.line(r.theme.Update.Render(fmt.Sprintf("  %s -> %s", node, step))); err != nil {
				return err
			}
		}
		return nil
	case "raw":
		if !r.verbose {
			return nil
		}
		return r.line(r.theme.Update.Render("  state " + string(f.Data)))
	case "error":
		return r.line(r.theme.Error.Render("error: " + f.ErrorMessage()))
	default:
		return r.line(fmt.Sprintf("[%s] %s", f.Channel, f.Data))
	}
}

// RenderError prints an error that ended a request before streaming.
func (r *Renderer) RenderError(err error) error {
	return r.line(r.theme.Error.Render("error: " + err.Error()))
}

func (r *Renderer) prefix(role, node string) string {
	label := role
	if node != "" && role != "user" {
		label = role + "@" + node
	}
	label += ":"
	switch role {
	case "user":
		return r.theme.User.Render(label)
	case "tool":
		return r.theme.Tool.Render(label)
	default:
		return r.theme.Assistant.Render(label)
	}
}

func (r *Renderer) line(s string) error {
	_, err := io.WriteString(r.w, strings.TrimRight(s, "\n")+"\n")
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
