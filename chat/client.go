package chat

import (
	"context"
	"log/slog"
	"strconv"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/patchbay-tv/chatbot/event"
)

// Enqueuer is the inbound queue the transport produces into.
type Enqueuer interface {
	Enqueue(e *event.Event)
}

// Client wraps the IRC connection for one channel.
type Client struct {
	irc     *twitch.Client
	channel string
	inbox   Enqueuer
	log     *slog.Logger
}

// New builds the IRC client and registers its message callbacks. username
// and oauth are the bot account's chat credentials.
func New(channel, username, oauth string, inbox Enqueuer) *Client {
	c := &Client{
		irc:     twitch.NewClient(username, oauth),
		channel: channel,
		inbox:   inbox,
		log:     slog.Default().With(slog.String("component", "chat")),
	}

	c.irc.OnConnect(func() {
		c.log.Info("connected to twitch chat", slog.String("channel", channel))
	})
	c.irc.OnPrivateMessage(c.onPrivateMessage)
	c.irc.OnUserNoticeMessage(c.onUserNotice)
	c.irc.Join(channel)
	return c
}

// Say sends text to the channel, fire-and-forget.
func (c *Client) Say(text string) {
	c.irc.Say(c.channel, text)
}

// Run connects and blocks until ctx is canceled or the connection fails
// permanently (gempir handles reconnects internally).
func (c *Client) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.irc.Connect() }()
	select {
	case <-ctx.Done():
		if err := c.irc.Disconnect(); err != nil {
			c.log.Warn("disconnect failed", slog.Any("err", err))
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (c *Client) onPrivateMessage(m twitch.PrivateMessage) {
	from := senderFrom(m.User)

	if m.Tags["first-msg"] == "1" {
		first := event.New(event.KindFirstMessage)
		first.Message = m.Message
		first.DisplayName = from.DisplayName
		first.UserID = from.UserID
		c.inbox.Enqueue(first)
	}

	if m.Bits > 0 {
		bits := event.New(event.KindBits)
		bits.Message = m.Message
		bits.DisplayName = from.DisplayName
		bits.UserID = from.UserID
		bits.Attrs = map[string]any{"bits": m.Bits}
		c.inbox.Enqueue(bits)
	}

	if command, rest := event.ParseCommand(m.Message); command != "" {
		c.inbox.Enqueue(event.NewChatCommand(command, rest, from))
		return
	}
	c.inbox.Enqueue(event.NewChatMessage(m.Message, from))
}

func (c *Client) onUserNotice(m twitch.UserNoticeMessage) {
	from := senderFrom(m.User)
	switch m.Tags["msg-id"] {
	case "sub", "resub":
		e := event.New(event.KindSubscription)
		e.Message = m.Message
		e.DisplayName = from.DisplayName
		e.UserID = from.UserID
		e.Attrs = map[string]any{
			"tier":  m.Tags["msg-param-sub-plan"],
			"resub": m.Tags["msg-id"] == "resub",
		}
		c.inbox.Enqueue(e)
	case "raid":
		e := event.New(event.KindRaid)
		e.DisplayName = from.DisplayName
		e.UserID = from.UserID
		viewers, _ := strconv.Atoi(m.Tags["msg-param-viewerCount"])
		e.Attrs = map[string]any{"viewers": viewers}
		c.inbox.Enqueue(e)
	}
}

// senderFrom maps IRC badges onto capability flags. The broadcaster always
// gets the moderator flag here; that normalization belongs to the
// transport, not the gates.
func senderFrom(u twitch.User) event.Sender {
	isBroadcaster := u.Badges["broadcaster"] > 0
	return event.Sender{
		DisplayName:   u.DisplayName,
		UserID:        u.ID,
		IsVIP:         u.Badges["vip"] > 0,
		IsMod:         u.Badges["moderator"] > 0 || isBroadcaster,
		IsBroadcaster: isBroadcaster,
	}
}
