package discord

import "github.com/bwmarrin/discordgo"

const (
	commandTrade = "trade"

	subBegin   = "begin"
	subAdd     = "add"
	subRemove  = "remove"
	subLock    = "lock"
	subAccept  = "accept"
	subCancel  = "cancel"
	subView    = "view"
	subHistory = "history"
	subBalls   = "balls"

	optionUser = "user"
	optionBall = "ball"
)

// Commands 返回需要注册的斜杠命令。
func Commands() []*discordgo.ApplicationCommand {
	ballOption := []*discordgo.ApplicationCommandOption{{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        optionBall,
		Description: "球实例编号",
		Required:    true,
	}}

	return []*discordgo.ApplicationCommand{{
		Name:        commandTrade,
		Description: "与其他玩家交换球",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subBegin,
				Description: "发起一场交易",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        optionUser,
					Description: "交易对象",
					Required:    true,
				}},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subAdd, Description: "把球加入提案", Options: ballOption},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subRemove, Description: "从提案移除球", Options: ballOption},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subLock, Description: "锁定你的提案"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subAccept, Description: "确认交易"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subCancel, Description: "取消交易"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subView, Description: "查看当前交易"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subHistory, Description: "查看最近的交易"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subBalls, Description: "列出你可交易的球"},
		},
	}}
}
