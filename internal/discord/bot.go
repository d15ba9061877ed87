package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"countryball/internal/config"
)

// commandTimeout 限制单次交互的处理时间，Discord 要求 3 秒内应答。
const commandTimeout = 2500 * time.Millisecond

// Bot 维护与 Discord 的网关连接并分发斜杠命令。
type Bot struct {
	cfg     config.DiscordConfig
	handler *Handler
	logger  *zap.Logger
	session *discordgo.Session
}

// NewBot 创建机器人，不会立即建立连接。
func NewBot(cfg config.DiscordConfig, handler *Handler, logger *zap.Logger) (*Bot, error) {
	if handler == nil {
		return nil, errors.New("discord: handler 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: 创建会话失败: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	return &Bot{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		session: session,
	}, nil
}

// Run 连接网关、注册命令并阻塞到 ctx 结束。
func (b *Bot) Run(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.onInteraction(ctx, s, i)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: 连接网关失败: %w", err)
	}
	defer func() {
		if err := b.session.Close(); err != nil {
			b.logger.Warn("关闭 Discord 连接失败", zap.Error(err))
		}
	}()

	if _, err := b.session.ApplicationCommandBulkOverwrite(b.cfg.ApplicationID, b.cfg.GuildID, Commands()); err != nil {
		return fmt.Errorf("discord: 注册命令失败: %w", err)
	}
	b.logger.Info("Discord 机器人已上线",
		zap.String("application_id", b.cfg.ApplicationID),
		zap.String("guild_id", b.cfg.GuildID),
	)

	<-ctx.Done()
	b.logger.Info("Discord 机器人正在下线")
	return nil
}

func (b *Bot) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != commandTrade || len(data.Options) == 0 {
		return
	}

	req := parseRequest(s, i, data.Options[0])
	reqCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	resp := b.handler.Handle(reqCtx, req)

	var flags discordgo.MessageFlags
	if resp.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         resp.Content,
			Flags:           flags,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	})
	if err != nil {
		b.logger.Warn("回复交互失败",
			zap.String("subcommand", req.Subcommand),
			zap.String("channel_id", req.Scope),
			zap.Error(err),
		)
	}
}

func parseRequest(s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) Request {
	req := Request{
		Scope:      i.ChannelID,
		Subcommand: sub.Name,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		req.UserID = i.Member.User.ID
	case i.User != nil:
		req.UserID = i.User.ID
	}

	for _, opt := range sub.Options {
		switch opt.Name {
		case optionUser:
			if u := opt.UserValue(s); u != nil {
				req.TargetID = u.ID
			}
		case optionBall:
			req.BallID = opt.IntValue()
		}
	}
	return req
}
