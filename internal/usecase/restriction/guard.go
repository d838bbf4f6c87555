package restriction

import (
	"context"

	"cryptobox-parser/internal/domain"
)

// Verdict — результат проверки источника сообщения.
type Verdict struct {
	Restricted bool
	Kind       domain.TargetKind
	TargetID   int64
}

// Guard проверяет автора и чат сообщения: сначала автора, затем чат.
type Guard struct {
	users *Service
	chats *Service
}

// NewGuard создаёт проверку источника.
func NewGuard(users, chats *Service) *Guard {
	return &Guard{users: users, chats: chats}
}

// Users возвращает сервис ограничений пользователей.
func (g *Guard) Users() *Service { return g.users }

// Chats возвращает сервис ограничений чатов.
func (g *Guard) Chats() *Service { return g.chats }

// Check сообщает, ограничен ли источник сообщения.
func (g *Guard) Check(ctx context.Context, msg domain.InboundMessage) (Verdict, error) {
	if msg.FromUser != nil {
		restricted, err := g.users.IsRestricted(ctx, msg.FromUser.ID)
		if err != nil {
			return Verdict{}, err
		}
		if restricted {
			return Verdict{Restricted: true, Kind: domain.TargetUser, TargetID: msg.FromUser.ID}, nil
		}
	}
	if msg.Chat != nil {
		restricted, err := g.chats.IsRestricted(ctx, msg.Chat.ID)
		if err != nil {
			return Verdict{}, err
		}
		if restricted {
			return Verdict{Restricted: true, Kind: domain.TargetChat, TargetID: msg.Chat.ID}, nil
		}
	}
	return Verdict{}, nil
}
