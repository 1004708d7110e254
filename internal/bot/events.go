package bot

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const maxAttachmentBytes = 20 << 20

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.log.Info("connected to discord", zap.String("username", event.User.Username))
	if err := b.registerCommands(); err != nil {
		b.log.Error("registering application commands", zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot messages
	if m.Author.Bot {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(m.Attachments) > 0 {
		for _, att := range m.Attachments {
			b.handleAttachment(ctx, m, att)
		}
		return
	}

	if content := strings.TrimSpace(m.Content); content != "" {
		b.sessions.HandleText(ctx, m.Author.ID, m.ChannelID, content)
	}
}

func (b *Bot) handleAttachment(ctx context.Context, m *discordgo.MessageCreate, att *discordgo.MessageAttachment) {
	if att.Size > maxAttachmentBytes {
		b.discord.ChannelMessageSend(m.ChannelID, "That file is too large for me.")
		return
	}

	data, err := b.download(ctx, att.URL)
	if err != nil {
		b.log.Error("downloading attachment",
			zap.String("user_id", m.Author.ID), zap.String("url", att.URL), zap.Error(err))
		b.discord.ChannelMessageSend(m.ChannelID, "Couldn't download that file. Please try again.")
		return
	}

	b.sessions.HandleDocument(ctx, m.Author.ID, m.ChannelID, att.Filename, att.ContentType, data)
}

func (b *Bot) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleApplicationCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.User != nil {
		return i.User
	}
	if i.Member != nil {
		return i.Member.User
	}
	return nil
}

func (b *Bot) handleApplicationCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		return
	}

	// Ack the interaction; the manager replies with regular messages.
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "On it.",
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b.sessions.HandleCommand(ctx, user.ID, i.ChannelID, i.ApplicationCommandData().Name)
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		return
	}

	// Ack without posting anything; the manager decides what happens next.
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b.sessions.HandleButton(ctx, user.ID, i.ChannelID, i.MessageComponentData().CustomID)
}
