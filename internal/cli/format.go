package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/coral-mesh/corostack/internal/coroutine"
	"github.com/coral-mesh/corostack/internal/coroutine/classify"
	"github.com/coral-mesh/corostack/internal/coroutine/continuation"
	"github.com/coral-mesh/corostack/internal/coroutine/stack"
	"github.com/coral-mesh/corostack/pkg/remote"
)

// OutputFormat represents the output format type.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

var _ pflag.Value = (*OutputFormat)(nil)

// String implements pflag.Value.
func (f *OutputFormat) String() string {
	return string(*f)
}

// Set implements pflag.Value.
func (f *OutputFormat) Set(v string) error {
	switch OutputFormat(v) {
	case FormatText, FormatJSON:
		*f = OutputFormat(v)
		return nil
	default:
		return fmt.Errorf("must be one of: text, json")
	}
}

// Type implements pflag.Value.
func (f *OutputFormat) Type() string {
	return "format"
}

// OutputFormatter formats command output.
type OutputFormatter interface {
	FormatDump(entries []stack.Entry) (string, error)
	FormatStack(title string, frames []coroutine.Frame) (string, error)
	FormatResolve(id coroutine.Identity, chain continuation.Chain) (string, error)
}

// NewFormatter creates an output formatter for the given format. hide, when
// not nil, removes scheduler plumbing frames from the output.
func NewFormatter(format OutputFormat, hide *classify.Filter, color bool) OutputFormatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{hide: hide}
	default:
		return &TextFormatter{hide: hide, styles: newStyles(color)}
	}
}

// IsTTY determines if w should get terminal formatting: it must be a
// terminal, NO_COLOR must be unset and TERM must be neither empty nor dumb.
func IsTTY(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	termEnv := os.Getenv("TERM")
	if termEnv == "dumb" || termEnv == "" {
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// visible drops plumbing frames. Only live and transition frames come from
// native threads, so only they can be plumbing.
func visible(frames []coroutine.Frame, hide *classify.Filter) ([]coroutine.Frame, int) {
	if hide == nil {
		return frames, 0
	}
	kept := make([]coroutine.Frame, 0, len(frames))
	for _, f := range frames {
		if (f.Kind == coroutine.FrameLive || f.Kind == coroutine.FrameTransition) && hide.Match(f.Location) {
			continue
		}
		kept = append(kept, f)
	}
	return kept, len(frames) - len(kept)
}

type styles struct {
	header lipgloss.Style
	muted  lipgloss.Style
	kinds  map[coroutine.FrameKind]lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{header: plain, muted: plain, kinds: map[coroutine.FrameKind]lipgloss.Style{}}
	}
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		kinds: map[coroutine.FrameKind]lipgloss.Style{
			coroutine.FrameLive:       lipgloss.NewStyle(),
			coroutine.FrameRestored:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			coroutine.FrameSpliced:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
			coroutine.FrameTransition: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			coroutine.FrameCreation:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		},
	}
}

func (s styles) kind(k coroutine.FrameKind) lipgloss.Style {
	if st, ok := s.kinds[k]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// TextFormatter formats output as human-readable text.
type TextFormatter struct {
	hide   *classify.Filter
	styles styles
}

// FormatDump formats a coroutine dump.
func (f *TextFormatter) FormatDump(entries []stack.Entry) (string, error) {
	if len(entries) == 0 {
		return "No coroutines found.\n", nil
	}

	var buf strings.Builder
	for i, e := range entries {
		if i > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(f.styles.header.Render(caption(e.Info)) + "\n")
		f.writeFrames(&buf, e.Frames)
		if e.Stop.Truncated() {
			fmt.Fprintf(&buf, "  %s\n", f.styles.muted.Render("(restored stack truncated: "+e.Stop.String()+")"))
		}
	}
	return buf.String(), nil
}

// FormatStack formats one logical stack.
func (f *TextFormatter) FormatStack(title string, frames []coroutine.Frame) (string, error) {
	var buf strings.Builder
	buf.WriteString(f.styles.header.Render(title) + "\n")
	if len(frames) == 0 {
		buf.WriteString("  No logical stack.\n")
		return buf.String(), nil
	}
	f.writeFrames(&buf, frames)
	return buf.String(), nil
}

// FormatResolve formats an identity and its continuation chain.
func (f *TextFormatter) FormatResolve(id coroutine.Identity, chain continuation.Chain) (string, error) {
	var buf strings.Builder
	buf.WriteString(f.styles.header.Render(identity(id)) + "\n")
	if id.Dispatcher != "" {
		fmt.Fprintf(&buf, "Dispatcher: %s\n", id.Dispatcher)
	}
	fmt.Fprintf(&buf, "Chain:      %d links, %s\n", chain.Links, chain.Stop)
	if chain.Err != nil {
		fmt.Fprintf(&buf, "Error:      %v\n", chain.Err)
	}
	f.writeFrames(&buf, chain.Frames)
	return buf.String(), nil
}

// nolint: errcheck
func (f *TextFormatter) writeFrames(buf *strings.Builder, frames []coroutine.Frame) {
	frames, hidden := visible(frames, f.hide)

	w := tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
	for _, fr := range frames {
		if fr.Kind == coroutine.FrameCreation && fr.First {
			w.Flush()
			fmt.Fprintf(buf, "  %s\n", f.styles.muted.Render("--- Creation stack trace ---"))
		}
		fmt.Fprintf(w, "  %s\t%s%s%s\n",
			f.styles.kind(fr.Kind).Render(fr.Kind.String()),
			fr.Location,
			paired(fr.Paired),
			variables(fr.Variables),
		)
	}
	w.Flush()

	if hidden > 0 {
		fmt.Fprintf(buf, "  %s\n", f.styles.muted.Render(fmt.Sprintf("(%d plumbing frames hidden)", hidden)))
	}
}

func identity(id coroutine.Identity) string {
	return fmt.Sprintf("%q:%s", id.Name+"#"+id.ID, id.State)
}

func caption(info *coroutine.Info) string {
	s := identity(info.Identity)
	if info.ActiveThread != nil {
		s += fmt.Sprintf(" on thread %q", info.ActiveThread.Name)
	}
	if info.Identity.Dispatcher != "" {
		s += ", " + info.Identity.Dispatcher
	}
	return s
}

func paired(loc *remote.Location) string {
	if loc == nil {
		return ""
	}
	return " <- " + loc.String()
}

func variables(vars []coroutine.Variable) string {
	if len(vars) == 0 {
		return ""
	}
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return "  [" + strings.Join(names, ", ") + "]"
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	hide *classify.Filter
}

type resolveOutput struct {
	Identity coroutine.Identity      `json:"identity"`
	Frames   []coroutine.Frame       `json:"frames"`
	Stop     continuation.StopReason `json:"stop"`
	Error    string                  `json:"error,omitempty"`
}

type stackOutput struct {
	Title  string            `json:"title"`
	Frames []coroutine.Frame `json:"frames"`
}

// FormatDump formats a coroutine dump.
func (f *JSONFormatter) FormatDump(entries []stack.Entry) (string, error) {
	out := make([]stack.Entry, len(entries))
	for i, e := range entries {
		e.Frames, _ = visible(e.Frames, f.hide)
		out[i] = e
	}
	return marshal(out)
}

// FormatStack formats one logical stack.
func (f *JSONFormatter) FormatStack(title string, frames []coroutine.Frame) (string, error) {
	frames, _ = visible(frames, f.hide)
	if frames == nil {
		frames = []coroutine.Frame{}
	}
	return marshal(stackOutput{Title: title, Frames: frames})
}

// FormatResolve formats an identity and its continuation chain.
func (f *JSONFormatter) FormatResolve(id coroutine.Identity, chain continuation.Chain) (string, error) {
	out := resolveOutput{Identity: id, Frames: chain.Frames, Stop: chain.Stop}
	if out.Frames == nil {
		out.Frames = []coroutine.Frame{}
	}
	if chain.Err != nil {
		out.Error = chain.Err.Error()
	}
	return marshal(out)
}

func marshal(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data) + "\n", nil
}
