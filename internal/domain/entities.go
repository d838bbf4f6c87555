package domain

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
)

// ChatType перечисляет типы чатов Telegram.
type ChatType string

const (
	ChatTypePrivate    ChatType = "PRIVATE"
	ChatTypeBot        ChatType = "BOT"
	ChatTypeGroup      ChatType = "GROUP"
	ChatTypeSupergroup ChatType = "SUPERGROUP"
	ChatTypeChannel    ChatType = "CHANNEL"
)

// Valid сообщает, известен ли тип чата.
func (t ChatType) Valid() bool {
	switch t {
	case ChatTypePrivate, ChatTypeBot, ChatTypeGroup, ChatTypeSupergroup, ChatTypeChannel:
		return true
	}
	return false
}

// User описывает автора сообщений Telegram.
type User struct {
	ID        int64   `json:"id"`
	IsBot     bool    `json:"is_bot"`
	Username  *string `json:"username,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// FullName склеивает имя и фамилию, пропуская пустые части.
func (u User) FullName() string {
	parts := lo.Compact([]string{lo.FromPtr(u.FirstName), lo.FromPtr(u.LastName)})
	return strings.Join(parts, " ")
}

// Chat описывает чат или канал Telegram.
type Chat struct {
	ID           int64    `json:"id"`
	Type         ChatType `json:"type"`
	Title        *string  `json:"title,omitempty"`
	Username     *string  `json:"username,omitempty"`
	Description  *string  `json:"description,omitempty"`
	MembersCount *int     `json:"members_count,omitempty"`
}

// Message — сохранённое сообщение. MessageID уникален только в пределах чата.
type Message struct {
	ID         int64     `json:"id"`
	ChatID     int64     `json:"chat_id"`
	MessageID  int64     `json:"message_id"`
	Date       time.Time `json:"date"`
	Text       *string   `json:"text,omitempty"`
	Caption    *string   `json:"caption,omitempty"`
	Empty      *bool     `json:"empty,omitempty"`
	FromUserID *int64    `json:"from_user_id,omitempty"`
	ReplyToID  *int64    `json:"reply_to_id,omitempty"`
}

// MessageKey — составной идентификатор сообщения.
type MessageKey struct {
	ChatID    int64
	MessageID int64
}

// TargetKind определяет, к какой сущности относится запись чёрного списка.
type TargetKind string

const (
	TargetUser TargetKind = "user"
	TargetChat TargetKind = "chat"
)

// Valid сообщает, поддерживается ли тип цели.
func (k TargetKind) Valid() bool {
	return k == TargetUser || k == TargetChat
}

// BlacklistEntry — одно нарушение пользователя или чата.
type BlacklistEntry struct {
	ID              int64      `json:"id"`
	Kind            TargetKind `json:"kind"`
	TargetID        int64      `json:"target_id"`
	Reason          *string    `json:"reason,omitempty"`
	ReleaseAt       *time.Time `json:"release_at,omitempty"`
	AmnestiedAt     *time.Time `json:"amnestied_at,omitempty"`
	AmnestiedReason *string    `json:"amnestied_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Active проверяет, ограничивает ли запись цель в момент now:
// запись не амнистирована и срок либо бессрочный, либо ещё не истёк.
func (e BlacklistEntry) Active(now time.Time) bool {
	if e.AmnestiedAt != nil {
		return false
	}
	return e.ReleaseAt == nil || e.ReleaseAt.After(now)
}

// ReleaseHumanize возвращает срок снятия ограничения в человекочитаемом виде.
func (e BlacklistEntry) ReleaseHumanize(now time.Time) string {
	if e.ReleaseAt == nil {
		return "permanent"
	}
	return humanize.RelTime(*e.ReleaseAt, now, "ago", "from now")
}

// AmnestiedHumanize возвращает давность амнистии или пустую строку.
func (e BlacklistEntry) AmnestiedHumanize(now time.Time) string {
	if e.AmnestiedAt == nil {
		return ""
	}
	return humanize.RelTime(*e.AmnestiedAt, now, "ago", "from now")
}

// AnyActive сообщает, ограничивает ли хотя бы одна запись цель.
func AnyActive(entries []BlacklistEntry, now time.Time) bool {
	return lo.SomeBy(entries, func(e BlacklistEntry) bool { return e.Active(now) })
}
