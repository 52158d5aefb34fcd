package ui

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"room-chat/contract"
	"room-chat/errors"
	"strings"
	"sync"
)

const helpText = `Commands:
  <text>                     send a message
  /signin                    sign in with the identity provider
  /signout                   sign out and leave the room
  /who                       list online users
  /find <terms> [--from <user>] [--limit <n>]
  /retry                     resend the last undelivered message
  /quit                      exit`

// Console reads commands line by line. Input is read on its own goroutine so a
// restarted Run keeps the same reader.
type Console struct {
	log      *slog.Logger
	chat     contract.IChatService
	search   contract.ISearchIndex
	renderer *Renderer
	quit     func()

	once  sync.Once
	in    io.Reader
	lines chan string
	eof   chan struct{}
}

func NewConsole(log *slog.Logger, in io.Reader, chat contract.IChatService,
	search contract.ISearchIndex, renderer *Renderer, quit func()) *Console {
	return &Console{
		log:      log,
		in:       in,
		chat:     chat,
		search:   search,
		renderer: renderer,
		quit:     quit,
		lines:    make(chan string),
		eof:      make(chan struct{}),
	}
}

func (c *Console) read() {
	defer close(c.eof)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn("Input closed", "error", err)
	}
}

func (c *Console) Run(ctx context.Context) error {
	c.once.Do(func() {
		c.renderer.Info("Type /help for commands.")
		go c.read()
	})
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.eof:
			c.quit()
			return nil
		case line := <-c.lines:
			if quit := c.handle(ctx, line); quit {
				c.quit()
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (c *Console) handle(ctx context.Context, line string) bool {
	line = strings.TrimRight(line, "\r\n")
	command, _, _ := strings.Cut(strings.TrimSpace(line), " ")

	switch {
	case strings.TrimSpace(line) == "":
		return false
	case command == "/quit":
		return true
	case command == "/help":
		c.renderer.Info(helpText)
	case command == "/signin":
		c.signIn(ctx)
	case command == "/signout":
		c.signOut(ctx)
	case command == "/who":
		c.renderer.PrintRoster(c.chat.Online())
	case command == "/find":
		c.find(ctx, line)
	case command == "/retry":
		c.send(ctx)
	case strings.HasPrefix(command, "/"):
		c.renderer.Error(fmt.Errorf("%w: %s, type /help", errors.ErrUnknownCommand, command))
	default:
		c.chat.SetDraft(line)
		c.send(ctx)
	}
	return false
}

// signIn waits for the browser redirect in the background so /quit stays usable.
func (c *Console) signIn(ctx context.Context) {
	if session := c.chat.Session(); session != nil {
		c.renderer.Info("Already signed in as " + session.DisplayName())
		return
	}
	go func() {
		if err := c.chat.SignIn(ctx); err != nil && ctx.Err() == nil {
			c.renderer.Error(err)
		}
	}()
}

func (c *Console) signOut(ctx context.Context) {
	if c.chat.Session() == nil {
		c.renderer.Error(errors.ErrMissingSession)
		return
	}
	if err := c.chat.SignOut(ctx); err != nil {
		c.renderer.Error(err)
	}
}

func (c *Console) find(ctx context.Context, line string) {
	hits, err := c.search.Find(ctx, line)
	if err != nil {
		c.renderer.Error(err)
		return
	}
	c.renderer.PrintHits(hits)
}

func (c *Console) send(ctx context.Context) {
	err := c.chat.Send(ctx)
	switch {
	case err == nil, stderrors.Is(err, errors.ErrEmptyMessage):
	case stderrors.Is(err, errors.ErrNotJoined):
		c.renderer.Error(fmt.Errorf("not in the room yet, message kept: %w", err))
	case stderrors.Is(err, errors.ErrNotAcknowledged):
		c.renderer.Error(fmt.Errorf("message not delivered, type /retry to resend: %w", err))
	default:
		c.renderer.Error(err)
	}
}
