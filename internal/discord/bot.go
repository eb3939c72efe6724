// Package discord adapts the chat platform: gateway bootstrap, voice
// receive demultiplexing, and the guild membership/role directory.
package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Bot owns the gateway session and the voice connection.
type Bot struct {
	session *discordgo.Session
	logger  *slog.Logger
	vc      *discordgo.VoiceConnection
}

func NewBot(token string, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers
	return &Bot{session: s, logger: logger}, nil
}

// Open connects to the gateway and waits for the ready event.
func (b *Bot) Open() error {
	ready := make(chan struct{})
	remove := b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("gateway ready", "user", r.User.Username)
		close(ready)
	})
	defer remove()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open: %w", err)
	}
	<-ready
	return nil
}

// JoinVoice joins the configured channel unmuted and undeafened so the
// moderation pipeline receives audio.
func (b *Bot) JoinVoice(guildID, channelID string) (*discordgo.VoiceConnection, error) {
	vc, err := b.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice: %w", err)
	}
	b.vc = vc
	return vc, nil
}

// SelfID returns the bot's own user ID, used to exclude its playback
// from capture.
func (b *Bot) SelfID() string {
	if b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

// SelfDeafened reports whether the user's own voice state marks them as
// self-deafened.
func (b *Bot) SelfDeafened(guildID, userID string) bool {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return false
	}
	return vs.SelfDeaf
}

// Directory returns the guild membership/role surface for enforcement.
func (b *Bot) Directory() *GuildDirectory {
	return &GuildDirectory{session: b.session}
}

func (b *Bot) Close() {
	if b.vc != nil {
		if err := b.vc.Disconnect(); err != nil {
			b.logger.Warn("voice disconnect failed", "err", err)
		}
	}
	if err := b.session.Close(); err != nil {
		b.logger.Warn("gateway close failed", "err", err)
	}
}
