// Package ui is the terminal view of the room. The renderer observes chat
// events and prints them; the console turns typed lines into chat actions.
// Neither modifies the transcript or the channel lifecycle directly.
package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"room-chat/contract"
	"room-chat/domain"
	"room-chat/domain/event"
	"room-chat/moderation"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const timeLayout = "3:04 PM"

var (
	ownStyle    = color.New(color.FgCyan)
	authorStyle = color.New(color.FgGreen, color.OpBold)
	headerStyle = color.New(color.BgBlack, color.FgGreen)
	infoStyle   = color.New(color.FgGray)
	errorStyle  = color.New(color.FgRed)
)

var _ contract.EventSink = (*Renderer)(nil)

type Renderer struct {
	log       *slog.Logger
	out       io.Writer
	chat      contract.IChatService
	moderator *moderation.Moderator
	width     int
	colours   bool
	location  *time.Location

	mu sync.Mutex
}

// NewRenderer writes to out. A nil moderator prints messages as received.
func NewRenderer(log *slog.Logger, out io.Writer, chat contract.IChatService,
	moderator *moderation.Moderator, width int, colours bool) *Renderer {
	if width <= 0 {
		width = 80
	}
	return &Renderer{
		log:       log,
		out:       out,
		chat:      chat,
		moderator: moderator,
		width:     width,
		colours:   colours,
		location:  time.Local,
	}
}

func (r *Renderer) Consume(_ context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.Broadcast:
		r.printMessage(evt)
	case event.PresenceSync:
		r.println(infoStyle, onlineLabel(evt.Online.Len()))
	case event.SessionChanged:
		r.printSession(evt)
	case event.StateChanged:
		r.printState(evt)
	default:
		r.log.Debug("Event not rendered", "kind", e.Kind())
	}
	return nil
}

func onlineLabel(n int) string {
	return strconv.Itoa(n) + " user(s) online"
}

func (r *Renderer) printSession(evt event.SessionChanged) {
	if evt.Session == nil {
		r.println(headerStyle, "  Signed out. Type /signin to join the room.  ")
		return
	}
	r.println(headerStyle, fmt.Sprintf("  Signed in as %s  ", evt.Session.DisplayName()))
}

func (r *Renderer) printState(evt event.StateChanged) {
	switch evt.To {
	case domain.Connecting:
		r.println(infoStyle, "Connecting to the room...")
	case domain.Subscribed:
		r.println(infoStyle, "Joined the room.")
	case domain.TornDown:
		r.println(infoStyle, "Left the room.")
	}
}

// printMessage puts own messages on the right with their avatar, others on the left.
func (r *Renderer) printMessage(evt event.Broadcast) {
	message := evt.Message
	content := message.Message
	if r.moderator != nil {
		inspection := r.moderator.Inspect(content)
		content = inspection.Content
	}

	at := message.SentAt()
	if at.IsZero() {
		at = evt.ReceivedAt
	}
	clock := at.In(r.location).Format(timeLayout)

	var email string
	if session := r.chat.Session(); session != nil {
		email = session.User.Email
	}

	if message.IsOwn(email) {
		line := fmt.Sprintf("%s · %s", content, clock)
		r.println(ownStyle, r.alignRight(line))
		if message.Avatar != "" {
			r.println(infoStyle, r.alignRight(message.Avatar))
		}
		return
	}

	author := message.UserName
	if author == "" {
		author = "anonymous"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, "[%s] %s: %s\n", clock, r.paint(authorStyle, author), content)
}

func (r *Renderer) alignRight(line string) string {
	pad := r.width - utf8.RuneCountInString(line)
	if pad <= 0 {
		return line
	}
	return strings.Repeat(" ", pad) + line
}

func (r *Renderer) paint(style color.Style, s string) string {
	if !r.colours {
		return s
	}
	return style.Render(s)
}

func (r *Renderer) println(style color.Style, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, r.paint(style, s))
}

func (r *Renderer) Info(s string) {
	r.println(infoStyle, s)
}

func (r *Renderer) Error(err error) {
	r.println(errorStyle, "! "+err.Error())
}

func (r *Renderer) newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// PrintRoster lists the online users, marking the local one.
func (r *Renderer) PrintRoster(online domain.Roster) {
	var self string
	if session := r.chat.Session(); session != nil {
		self = session.User.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, onlineLabel(online.Len()))
	if online.Len() == 0 {
		return
	}
	table := r.newTable("#", "User", "")
	for i, key := range online.Keys() {
		marker := ""
		if key == self {
			marker = "(you)"
		}
		table.Append([]string{strconv.Itoa(i + 1), key, marker})
	}
	table.Render()
}

func (r *Renderer) PrintHits(hits []contract.SearchHit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(hits) == 0 {
		_, _ = fmt.Fprintln(r.out, "No message found.")
		return
	}
	table := r.newTable("Time", "Author", "Message", "Score")
	for _, hit := range hits {
		clock := hit.Timestamp
		if at, err := time.Parse(time.RFC3339Nano, hit.Timestamp); err == nil {
			clock = at.In(r.location).Format(timeLayout)
		}
		content := hit.Content
		if r.moderator != nil {
			content, _ = r.moderator.Censor(content)
		}
		table.Append([]string{clock, hit.Author, content, strconv.FormatFloat(hit.Score, 'f', 2, 64)})
	}
	table.Render()
}
