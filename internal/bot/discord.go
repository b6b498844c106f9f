package bot

import (
	"bytes"
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/bowerhall/kindred/internal/logger"
)

type discord struct {
	session *discordgo.Session
	chat    *chat
	ctx     context.Context
}

func newDiscord(token string, c *chat) (Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d := &discord{
		session: session,
		chat:    c,
		ctx:     context.Background(),
	}

	session.AddHandler(d.handleMessage)

	return d, nil
}

func (d *discord) Start(ctx context.Context) error {
	d.ctx = ctx

	if err := d.session.Open(); err != nil {
		return err
	}

	<-ctx.Done()
	return d.session.Close()
}

func discordChatKey(channelID string) string {
	return "discord-" + channelID
}

func discordName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (d *discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	key := discordChatKey(m.ChannelID)
	logger.Info("message received", "chat", key, "from", m.Author.Username, "text", truncate(m.Content, 50))

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		logger.Debug("typing indicator failed", "error", err)
	}

	out := d.chat.handle(d.ctx, incoming{
		ChatKey:         key,
		CounterpartID:   "discord:" + m.Author.ID,
		CounterpartName: discordName(m.Author),
		Text:            m.Content,
	})

	send := &discordgo.MessageSend{
		Content:   out.Text,
		Reference: m.Reference(),
	}
	if len(out.Audio) > 0 {
		send.Files = []*discordgo.File{{
			Name:        "reply.mp3",
			ContentType: "audio/mpeg",
			Reader:      bytes.NewReader(out.Audio),
		}}
	}

	if _, err := s.ChannelMessageSendComplex(m.ChannelID, send); err != nil {
		logger.Error("discord reply failed", "error", err)
	} else {
		logger.Info("reply sent", "chat", key, "chars", len(out.Text))
	}
}
