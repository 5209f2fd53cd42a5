// Package ui renders sessions, history and streamed answers to the terminal
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"golang.org/x/term"

	"study-chat/internal/conversation"
	"study-chat/internal/grounding"
	"study-chat/internal/profile"
)

var (
	bold    = color.New(color.Bold)
	title   = color.New(color.Bold, color.FgCyan)
	gray    = color.New(color.FgHiBlack)
	green   = color.New(color.FgGreen)
	boldGrn = color.New(color.Bold, color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed)
	cyan    = color.New(color.FgCyan)
	blue    = color.New(color.FgHiBlue)
)

// Display writes formatted output. Methods are safe to call from the stream
// observer and the input loop at the same time.
type Display struct {
	mu        sync.Mutex
	out       io.Writer
	width     int
	renderer  *glamour.TermRenderer
	startTime time.Time
	words     int
}

// NewDisplay creates a display writing to out. Markdown rendering of final
// answers is enabled when markdown is true.
func NewDisplay(out io.Writer, markdown bool) *Display {
	width := terminalWidth()
	d := &Display{out: out, width: width}
	if markdown {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(width-10, 40)),
		)
		if err == nil {
			d.renderer = renderer
		}
	}
	return d
}

// ClearScreen clears the terminal
func (d *Display) ClearScreen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.out, "\033[2J\033[H")
}

// PrintWelcome displays the banner and the active provider
func (d *Display) PrintWelcome(provider, model string, mode grounding.Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	title.Fprintln(d.out, "╔══════════════════════════════════════════╗")
	title.Fprintln(d.out, "║      study-chat - your study assistant   ║")
	title.Fprintln(d.out, "╚══════════════════════════════════════════╝")
	fmt.Fprintf(d.out, "\n%s %s (%s)\n", gray.Sprint("Model:"), model, provider)
	fmt.Fprintf(d.out, "%s %s\n", gray.Sprint("Web search:"), mode)
	gray.Fprintln(d.out, "Type a question, or /help for commands")
}

// PrintHelp lists the commands
func (d *Display) PrintHelp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, line := range [][2]string{
		{"/new", "start a new chat"},
		{"/tabs", "list open sessions"},
		{"/switch <n|id>", "make an open session active"},
		{"/close [n|id]", "close a session (the active one by default)"},
		{"/history", "list saved conversations"},
		{"/load <n|id>", "open a saved conversation"},
		{"/delete <n|id>", "delete a saved conversation"},
		{"/search <term>", "search saved conversations"},
		{"/image <path>", "attach an image to the next question"},
		{"/web off|on|auto", "set web search mode"},
		{"/voice <you> | <ai>", "record a voice exchange"},
		{"/profile [field=value ...]", "show or edit your profile"},
		{"/clear", "clear the screen"},
		{"/exit", "save and quit"},
	} {
		fmt.Fprintf(d.out, "  %-28s %s\n", cyan.Sprint(line[0]), gray.Sprint(line[1]))
	}
}

// PrintSeparator prints a visual separator
func (d *Display) PrintSeparator() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.separator()
}

func (d *Display) separator() {
	gray.Fprintln(d.out, strings.Repeat("─", min(d.width, 80)))
}

// PrintPrompt displays the input prompt with the active conversation title
func (d *Display) PrintPrompt(activeTitle string, attached bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out)
	if activeTitle != "" {
		gray.Fprintf(d.out, "[%s]", truncate(activeTitle, 40))
		if attached {
			gray.Fprint(d.out, " +image")
		}
		fmt.Fprint(d.out, " ")
	}
	boldGrn.Fprint(d.out, "❯ ")
}

// PrintUserMessage echoes a submitted question with its timestamp
func (d *Display) PrintUserMessage(content string, timestamp time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gray.Fprintf(d.out, "\n┌─ You · %s\n", timestamp.Format("15:04:05"))
	fmt.Fprintf(d.out, "%s %s\n", gray.Sprint("│"), content)
	gray.Fprintln(d.out, "└")
}

// StartAssistantResponse resets response tracking and prints the header
func (d *Display) StartAssistantResponse() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startTime = time.Now()
	d.words = 0
	gray.Fprintf(d.out, "\n┌─ Assistant · %s\n", d.startTime.Format("15:04:05"))
	fmt.Fprintf(d.out, "%s ", gray.Sprint("│"))
}

// WriteAnswer streams answer text as it arrives
func (d *Display) WriteAnswer(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.words += len(strings.Fields(text))
	fmt.Fprint(d.out, text)
}

// EndAssistantResponse renders the finished answer with its sources and
// follow-up suggestions
func (d *Display) EndAssistantResponse(in conversation.Interaction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	duration := time.Since(d.startTime)

	fmt.Fprint(d.out, "\n\n")
	if d.renderer != nil && in.Response != "" {
		if rendered, err := d.renderer.Render(in.Response); err == nil {
			gray.Fprintln(d.out, "│ Rendered:")
			for _, line := range strings.Split(strings.TrimRight(rendered, "\n"), "\n") {
				fmt.Fprintf(d.out, "%s %s\n", gray.Sprint("│"), line)
			}
		}
	}
	d.printSources(in.Sources)
	if len(in.FollowUpPrompts) > 0 {
		gray.Fprintln(d.out, "│")
		gray.Fprintln(d.out, "│ Try asking:")
		for _, p := range in.FollowUpPrompts {
			fmt.Fprintf(d.out, "%s %s\n", gray.Sprint("│    →"), cyan.Sprint(p))
		}
	}
	gray.Fprintln(d.out, "│")
	gray.Fprintf(d.out, "│ %s · ~%d words\n", formatDuration(duration), d.words)
	gray.Fprintln(d.out, "└")
}

func (d *Display) printSources(sources []conversation.Source) {
	if len(sources) == 0 {
		return
	}
	gray.Fprintln(d.out, "│")
	gray.Fprintln(d.out, "│ Sources:")
	for _, s := range sources {
		label := s.Title
		if label == "" {
			label = s.URI
		}
		fmt.Fprintf(d.out, "%s %s %s\n", gray.Sprint("│    •"), truncate(label, 50), blue.Sprint(truncate(s.URI, 60)))
	}
}

// PrintSessions lists the open sessions, newest first, marking the active one
func (d *Display) PrintSessions(sessions []conversation.Conversation, activeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(sessions) == 0 {
		cyan.Fprintln(d.out, "ℹ No open sessions")
		return
	}
	for i, c := range sessions {
		marker := " "
		if c.ID == activeID {
			marker = boldGrn.Sprint("*")
		}
		state := ""
		if c.Loading() {
			state = yellow.Sprint(" (answering)")
		}
		fmt.Fprintf(d.out, "%s %2d. %s %s%s\n", marker, i+1, bold.Sprint(truncate(c.Title, 50)),
			gray.Sprintf("%d messages", c.Len()), state)
	}
}

// PrintHistory lists saved conversations, most recent first
func (d *Display) PrintHistory(list []conversation.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(list) == 0 {
		cyan.Fprintln(d.out, "ℹ No saved conversations yet")
		return
	}
	for i, c := range list {
		tags := ""
		if len(c.Tags) > 0 {
			tags = cyan.Sprint(" #" + strings.Join(c.Tags, " #"))
		}
		fmt.Fprintf(d.out, "%3d. %s%s %s\n", i+1, bold.Sprint(truncate(c.Title, 50)), tags,
			gray.Sprint(c.UpdatedAt().Format("Jan 2 15:04")))
	}
}

// PrintConversation replays every interaction of a conversation
func (d *Display) PrintConversation(c conversation.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.separator()
	bold.Fprintln(d.out, c.Title)
	d.separator()
	for _, in := range c.Interactions {
		fmt.Fprintf(d.out, "\n%s %s\n", green.Sprint("You:"), in.Query)
		if in.Image != "" {
			gray.Fprintln(d.out, "     [image attached]")
		}
		fmt.Fprintf(d.out, "%s %s\n", blue.Sprint("Assistant:"), in.Response)
		d.printSources(in.Sources)
	}
	d.separator()
}

// PrintProfile shows the student's profile
func (d *Display) PrintProfile(u profile.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, row := range [][2]string{
		{"name", u.Name},
		{"class", u.Class},
		{"goal", u.Goal},
		{"image", u.ProfileImageURL},
	} {
		value := row[1]
		if value == "" {
			value = gray.Sprint("-")
		}
		fmt.Fprintf(d.out, "  %-6s %s\n", cyan.Sprint(row[0]), value)
	}
	if !u.IsInitialSetupComplete {
		yellow.Fprintln(d.out, "⚠ Profile setup is not complete. Set name, class and goal with /profile")
	}
}

// PrintInfo displays an info message
func (d *Display) PrintInfo(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cyan.Fprintf(d.out, "ℹ %s\n", msg)
}

// PrintWarning displays a warning message
func (d *Display) PrintWarning(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	yellow.Fprintf(d.out, "⚠ %s\n", msg)
}

// PrintError displays an error message
func (d *Display) PrintError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	red.Fprintf(d.out, "✗ Error: %v\n", err)
}

// PrintSuccess displays a success message
func (d *Display) PrintSuccess(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	green.Fprintf(d.out, "✓ %s\n", msg)
}

// PrintGoodbye displays the goodbye message
func (d *Display) PrintGoodbye() {
	d.mu.Lock()
	defer d.mu.Unlock()
	title.Fprintln(d.out, "\nHappy studying! 👋")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
