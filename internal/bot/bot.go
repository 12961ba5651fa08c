// Package bot is the Discord command surface of the exchange. Commands are
// parsed once, their targets resolved, and then handed to exchange.Service.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"ch3fx/internal/auth"
	"ch3fx/internal/exchange"
)

const DefaultPrefix = "!"

// Intents the bot needs to read commands and reactions in guild channels.
const Intents = discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions | discordgo.IntentMessageContent

// Sender is satisfied by *discordgo.Session.
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Reply struct {
	Text  string
	Embed *discordgo.MessageEmbed
}

type Bot struct {
	exchange *exchange.Service
	sender   Sender
	allow    *auth.AllowList
	active   map[string]struct{}
	prefix   string
	log      *slog.Logger
	now      func() time.Time

	commandTimeout time.Duration
}

func New(svc *exchange.Service, sender Sender, allow *auth.AllowList, activeChannels []string, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	active := make(map[string]struct{}, len(activeChannels))
	for _, id := range activeChannels {
		active[id] = struct{}{}
	}
	return &Bot{
		exchange:       svc,
		sender:         sender,
		allow:          allow,
		active:         active,
		prefix:         DefaultPrefix,
		log:            logger,
		now:            time.Now,
		commandTimeout: 15 * time.Second,
	}
}

// Attach registers the bot's handlers and intents on session. Call it before
// session.Open.
func (b *Bot) Attach(session *discordgo.Session) {
	session.Identify.Intents = Intents
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessage(m)
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		b.onReaction(r)
	})
}

func (b *Bot) isActive(channelID string) bool {
	_, ok := b.active[channelID]
	return ok
}

func (b *Bot) onMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.commandTimeout)
	defer cancel()

	if cmd, ok := ParseCommand(m.Content, b.prefix); ok {
		b.log.Info("command received", "command", cmd.Name, "user_id", m.Author.ID, "channel_id", m.ChannelID)
		reply, handled := b.Handle(ctx, m.Author.ID, cmd)
		if handled {
			b.send(m.ChannelID, reply)
		}
	}

	if b.isActive(m.ChannelID) {
		res, err := b.exchange.RewardMessage(ctx, m.Author.ID, b.now())
		if err != nil {
			b.log.Error("message reward failed", "user_id", m.Author.ID, "err", err)
			return
		}
		b.log.Debug("message reward", "user_id", m.Author.ID, "amount", res.Amount)
	}
}

func (b *Bot) onReaction(r *discordgo.MessageReactionAdd) {
	if r == nil || r.MessageReaction == nil || !b.isActive(r.ChannelID) {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}
	msg, err := b.sender.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		b.log.Warn("fetch reacted message failed", "message_id", r.MessageID, "err", err)
		return
	}
	if msg.Author == nil || msg.Author.Bot {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.commandTimeout)
	defer cancel()
	if _, err := b.exchange.RewardReaction(ctx, msg.Author.ID, r.UserID, b.now()); err != nil {
		b.log.Error("reaction reward failed", "author_id", msg.Author.ID, "reactor_id", r.UserID, "err", err)
	}
}

func (b *Bot) send(channelID string, reply Reply) {
	var err error
	switch {
	case reply.Embed != nil:
		_, err = b.sender.ChannelMessageSendEmbed(channelID, reply.Embed)
	case reply.Text != "":
		_, err = b.sender.ChannelMessageSend(channelID, reply.Text)
	default:
		return
	}
	if err != nil {
		b.log.Error("send reply failed", "channel_id", channelID, "err", err)
	}
}
