package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/avoronov/splitbot/internal/session"
)

// Messenger sends manager output back through Discord. It is built before
// the Bot so the session manager can hold it without a cycle.
type Messenger struct {
	discord *discordgo.Session
}

func NewMessenger(discord *discordgo.Session) *Messenger {
	return &Messenger{discord: discord}
}

func (m *Messenger) SendText(channelID, text string) error {
	_, err := m.discord.ChannelMessageSend(channelID, text)
	return err
}

func (m *Messenger) SendChoices(channelID, text string, choices []session.Choice) error {
	buttons := make([]discordgo.MessageComponent, 0, len(choices))
	for _, c := range choices {
		buttons = append(buttons, discordgo.Button{
			Label:    c.Label,
			Style:    discordgo.PrimaryButton,
			CustomID: c.ID,
		})
	}
	_, err := m.discord.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: text,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: buttons},
		},
	})
	return err
}

// Bot wires Discord events into the session manager.
type Bot struct {
	discord  *discordgo.Session
	sessions *session.Manager
	log      *zap.Logger
}

func New(discord *discordgo.Session, sessions *session.Manager, log *zap.Logger) *Bot {
	b := &Bot{
		discord:  discord,
		sessions: sessions,
		log:      log,
	}

	discord.AddHandler(b.onReady)
	discord.AddHandler(b.onMessageCreate)
	discord.AddHandler(b.onInteractionCreate)

	discord.Identify.Intents = discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return b
}

func (b *Bot) Start() error {
	if err := b.discord.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.log.Info("discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	return b.discord.Close()
}

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{Name: "start", Description: "Connect your expense account and get going"},
		{Name: "help", Description: "How to use the bot"},
		{Name: "login", Description: "Connect your expense account"},
		{Name: "logout", Description: "Disconnect your expense account"},
		{Name: "change_group", Description: "Pick another expense group"},
		{Name: "cancel", Description: "Drop the receipt being processed"},
	}

	// Global registration; the bot mostly lives in DMs.
	_, err := b.discord.ApplicationCommandBulkOverwrite(b.discord.State.User.ID, "", commands)
	return err
}
