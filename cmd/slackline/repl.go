package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/codefionn/slackline/internal/client"
	"github.com/codefionn/slackline/internal/engine"
	"github.com/codefionn/slackline/internal/htmlconv"
	"github.com/codefionn/slackline/internal/model"
	"github.com/codefionn/slackline/internal/notify"
	"github.com/codefionn/slackline/internal/securemem"
	"github.com/codefionn/slackline/internal/supervisor"
	"github.com/codefionn/slackline/internal/wire"
)

// errQuit ends the command loop.
var errQuit = errors.New("quit requested")

const helpText = `Commands:
  /channels            list channels
  /users               list users
  /open <id|#name>     show a channel and make it the target of plain text
  /history             load older messages of the open channel
  /mark                mark the open channel as read
  /join <id>           join a channel
  /leave [id]          leave a channel (default: the open one)
  /dm <user id>        open a direct chat
  /close [id]          close a direct chat
  /upload <path>       upload an image into the open channel
  /offline, /online    simulate network loss and recovery
  /login               reconnect with a new token read from stdin
  /logout              forget the session
  /state               show the connection state
  /quit                exit
Any other line is posted to the open channel.`

// printer serializes writes from the engine, supervisor and input goroutines.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{out: w}
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) notification(n notify.Notification) {
	p.printf("(!) %s: %s", n.Title(), n.Body)
}

// session is the presentation side of the CLI.
type session struct {
	out    *printer
	client *client.Client
	dir    *engine.Directory

	mu      sync.Mutex
	active  string
	pending string
}

func (s *session) activeChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *session) senderName(msg model.Message) string {
	if name, ok := s.dir.UserName(msg.UserID); ok {
		return name
	}
	if msg.Username != "" {
		return msg.Username
	}
	return msg.UserID
}

func (s *session) formatMessage(msg model.Message) string {
	text := htmlconv.ToMarkdown(msg.Body)
	for _, a := range msg.Attachments {
		switch {
		case a.ImageURL != "":
			text += fmt.Sprintf("\n    [image] %s", a.ImageURL)
		case a.Title != "":
			text += fmt.Sprintf("\n    [%s] %s", a.Title, htmlconv.Truncate(a.Text, 120))
		}
	}
	edited := ""
	if msg.Edited {
		edited = " (edited)"
	}
	return fmt.Sprintf("%s <%s>%s %s", msg.Timestamp.Time().Format("15:04"), s.senderName(msg), edited, text)
}

// changed runs on the engine goroutine and only prints.
func (s *session) changed(ch engine.Change) {
	switch ch.Kind {
	case engine.MessageAdded, engine.MessageUpdated:
		if ch.Live && ch.ChannelID == s.activeChannel() {
			s.out.printf("%s", s.formatMessage(*ch.Message))
		}
	case engine.ChannelJoined:
		s.out.printf("* joined %s", channelLabel(ch.Channel, ch.ChannelID))
	case engine.ChannelLeft:
		s.out.printf("* left %s", channelLabel(ch.Channel, ch.ChannelID))
	case engine.ChatOpened:
		s.out.printf("* chat %s opened", ch.ChannelID)
	case engine.ChatClosed:
		s.out.printf("* chat %s closed", ch.ChannelID)
	case engine.ModelReset:
		s.mu.Lock()
		s.active = ""
		s.mu.Unlock()
		s.client.SetActiveWindow("")
		s.out.printf("* signed in to another team, use /open")
	}
}

func (s *session) stateChanged(state supervisor.ConnectionState) {
	s.out.printf("* %s", state)
	if state != supervisor.StateConnected {
		return
	}
	s.mu.Lock()
	pending := s.pending
	s.pending = ""
	s.mu.Unlock()
	if pending != "" {
		// not on the supervisor goroutine: actions may report back to it
		go s.open(pending)
	}
}

func (s *session) authFailed(err error) {
	s.out.printf("* authentication rejected (%v); use /login with a new token", err)
}

func channelLabel(ch *model.Channel, id string) string {
	if ch == nil || ch.Name == "" {
		return id
	}
	if ch.Kind == model.KindDirect {
		return "@" + ch.Name
	}
	return "#" + ch.Name
}

// parseCommand splits a command line into its name and argument.
func parseCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (s *session) loop(ctx context.Context, in io.Reader) error {
	s.out.printf("type /help for commands")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.execute(ctx, scanner, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			s.out.printf("! %v", err)
		}
	}
	return scanner.Err()
}

func (s *session) execute(ctx context.Context, scanner *bufio.Scanner, line string) error {
	name, arg := parseCommand(line)
	c := s.client

	switch name {
	case "":
		target := s.activeChannel()
		if target == "" {
			return errors.New("no open channel, use /open")
		}
		_, err := c.PostMessage(ctx, target, arg)
		return err

	case "help":
		s.out.printf("%s", helpText)
	case "quit", "exit":
		return errQuit
	case "state":
		s.out.printf("* %s as %s", c.State(), c.Self())

	case "channels":
		channels, err := c.Engine().Channels(ctx)
		if err != nil {
			return err
		}
		for _, ch := range channels {
			member := " "
			if ch.IsMember {
				member = "*"
			}
			unread := ""
			if ch.Unread > 0 {
				unread = fmt.Sprintf(" (%d)", ch.Unread)
			}
			s.out.printf("%s %s %s%s", member, ch.ID, channelLabel(&ch, ch.ID), unread)
		}

	case "users":
		users, err := c.Engine().Users(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			s.out.printf("  %s %s (%s)", u.ID, u.DisplayName(), u.Presence)
		}

	case "open":
		if arg == "" {
			return errors.New("usage: /open <id|#name>")
		}
		return s.openChannel(ctx, arg)

	case "history":
		target := s.activeChannel()
		if target == "" {
			return errors.New("no open channel")
		}
		more, err := c.LoadHistory(ctx, target)
		if err != nil {
			return err
		}
		if err := s.show(ctx, target); err != nil {
			return err
		}
		if !more {
			s.out.printf("* beginning of channel")
		}

	case "mark":
		target := s.activeChannel()
		if target == "" {
			return errors.New("no open channel")
		}
		positions, err := c.Engine().Positions(ctx)
		if err != nil {
			return err
		}
		newest, ok := positions[target]
		if !ok || newest.IsZero() {
			return nil
		}
		return c.MarkChannel(ctx, target, newest)

	case "join":
		if arg == "" {
			return errors.New("usage: /join <id>")
		}
		return c.JoinChannel(ctx, arg)

	case "leave":
		return c.LeaveChannel(ctx, s.orActive(arg))

	case "dm":
		if arg == "" {
			return errors.New("usage: /dm <user id>")
		}
		channelID, err := c.OpenChat(ctx, arg)
		if err != nil {
			return err
		}
		return s.openChannel(ctx, channelID)

	case "close":
		return c.CloseChat(ctx, s.orActive(arg))

	case "upload":
		return s.upload(ctx, arg)

	case "offline":
		c.SetNetworkAvailable(false)
	case "online":
		c.SetNetworkAvailable(true)

	case "login":
		s.out.printf("token:")
		if !scanner.Scan() {
			return scanner.Err()
		}
		token := securemem.NewToken(strings.TrimSpace(scanner.Text()))
		if token.IsEmpty() {
			return errors.New("empty token")
		}
		c.Start(token)

	case "logout":
		return c.Logout(ctx)

	default:
		return fmt.Errorf("unknown command /%s, see /help", name)
	}
	return nil
}

func (s *session) orActive(id string) string {
	if id != "" {
		return id
	}
	return s.activeChannel()
}

// open is used when the connection comes up with a channel requested on
// the command line.
func (s *session) open(ref string) {
	if err := s.openChannel(context.Background(), ref); err != nil {
		s.out.printf("! %v", err)
	}
}

func (s *session) openChannel(ctx context.Context, ref string) error {
	id, err := s.resolveChannel(ctx, ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
	s.client.SetActiveWindow(id)

	if _, err := s.client.LoadMessages(ctx, id); err != nil {
		return err
	}
	return s.show(ctx, id)
}

func (s *session) resolveChannel(ctx context.Context, ref string) (string, error) {
	name, byName := strings.CutPrefix(ref, "#")
	if !byName {
		return ref, nil
	}
	channels, err := s.client.Engine().Channels(ctx)
	if err != nil {
		return "", err
	}
	for _, ch := range channels {
		if ch.Name == name {
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("no channel named #%s", name)
}

func (s *session) show(ctx context.Context, channelID string) error {
	msgs, err := s.client.Engine().Messages(ctx, channelID)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		s.out.printf("%s", s.formatMessage(msg))
	}
	return nil
}

func (s *session) upload(ctx context.Context, path string) error {
	target := s.activeChannel()
	if target == "" {
		return errors.New("no open channel")
	}
	if path == "" {
		return errors.New("usage: /upload <path>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.client.PostImage(ctx, wire.Upload{
		ChannelID: target,
		Filename:  filepath.Base(path),
		Title:     filepath.Base(path),
		Content:   f,
	})
}
