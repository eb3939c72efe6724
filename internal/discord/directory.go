package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/raghavperera/Agnello-mod/internal/enforce"
)

// GuildDirectory implements enforce.Directory over the Discord REST API.
// Member lookups always hit the API so reversal decisions never trust a
// stale in-memory snapshot.
type GuildDirectory struct {
	session *discordgo.Session
}

func (d *GuildDirectory) Member(ctx context.Context, guildID, userID string) (enforce.Member, error) {
	m, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return enforce.Member{}, fmt.Errorf("discord: member %s: %w", userID, err)
	}
	return enforce.Member{UserID: userID, RoleIDs: m.Roles}, nil
}

func (d *GuildDirectory) BotMember(ctx context.Context, guildID string) (enforce.Member, error) {
	if d.session.State == nil || d.session.State.User == nil {
		return enforce.Member{}, fmt.Errorf("discord: bot identity unknown")
	}
	return d.Member(ctx, guildID, d.session.State.User.ID)
}

func (d *GuildDirectory) Roles(ctx context.Context, guildID string) ([]enforce.Role, error) {
	roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: roles: %w", err)
	}
	out := make([]enforce.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, enforce.Role{ID: r.ID, Name: r.Name, Position: r.Position})
	}
	return out, nil
}

func (d *GuildDirectory) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *GuildDirectory) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (d *GuildDirectory) Notify(ctx context.Context, userID, message string) error {
	ch, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: dm channel: %w", err)
	}
	if _, err := d.session.ChannelMessageSend(ch.ID, message, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: dm send: %w", err)
	}
	return nil
}
