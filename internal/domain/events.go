package domain

import "time"

// InboundUser — автор входящего сообщения.
type InboundUser struct {
	ID        int64   `json:"id" validate:"required"`
	IsBot     bool    `json:"is_bot"`
	Username  *string `json:"username,omitempty" validate:"omitempty,max=64"`
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=64"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=64"`
	Bio       *string `json:"bio,omitempty" validate:"omitempty,max=512"`
}

// User переводит схему в сущность.
func (u InboundUser) User() User {
	return User{
		ID:        u.ID,
		IsBot:     u.IsBot,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Bio:       u.Bio,
	}
}

// InboundChat — чат входящего сообщения.
type InboundChat struct {
	ID           int64    `json:"id" validate:"required"`
	Type         ChatType `json:"type" validate:"required,oneof=PRIVATE BOT GROUP SUPERGROUP CHANNEL"`
	Title        *string  `json:"title,omitempty" validate:"omitempty,max=255"`
	Username     *string  `json:"username,omitempty" validate:"omitempty,max=255"`
	Description  *string  `json:"description,omitempty" validate:"omitempty,max=4096"`
	MembersCount *int     `json:"members_count,omitempty" validate:"omitempty,gte=0"`
}

// Chat переводит схему в сущность.
func (c InboundChat) Chat() Chat {
	return Chat{
		ID:           c.ID,
		Type:         c.Type,
		Title:        c.Title,
		Username:     c.Username,
		Description:  c.Description,
		MembersCount: c.MembersCount,
	}
}

// InboundMessage — сообщение из очереди. ReplyToMessage проверяется по звеньям,
// поэтому валидатор в него не спускается.
type InboundMessage struct {
	ID             int64           `json:"id" validate:"required,gt=0"`
	Date           *time.Time      `json:"date,omitempty"`
	Text           *string         `json:"text,omitempty" validate:"omitempty,max=4096"`
	Caption        *string         `json:"caption,omitempty" validate:"omitempty,max=4096"`
	Empty          *bool           `json:"empty,omitempty"`
	FromUser       *InboundUser    `json:"from_user,omitempty"`
	Chat           *InboundChat    `json:"chat,omitempty"`
	ReplyToMessage *InboundMessage `json:"reply_to_message,omitempty" validate:"-"`
}

// Content возвращает текст сообщения, а при его отсутствии — подпись.
func (m InboundMessage) Content() string {
	if m.Text != nil && *m.Text != "" {
		return *m.Text
	}
	if m.Caption != nil {
		return *m.Caption
	}
	return ""
}

// ClientInfo описывает клиент-продюсер, получивший сообщение.
type ClientInfo struct {
	Name          string       `json:"name"`
	AppVersion    *string      `json:"app_version,omitempty"`
	DeviceModel   *string      `json:"device_model,omitempty"`
	SystemVersion *string      `json:"system_version,omitempty"`
	IsConnected   *bool        `json:"is_connected,omitempty"`
	IsInitialized *bool        `json:"is_initialized,omitempty"`
	Me            *InboundUser `json:"me,omitempty"`
}

// Envelope — тело сообщения очереди.
type Envelope struct {
	Client  *ClientInfo    `json:"client,omitempty"`
	Message InboundMessage `json:"message"`
}

// AcceptedMessage — событие о сообщении, в котором найдены коды.
type AcceptedMessage struct {
	EventID         string         `json:"event_id"`
	ChatID          int64          `json:"chat_id"`
	MessageID       int64          `json:"message_id"`
	MessageRowID    int64          `json:"message_row_id"`
	FromUserID      *int64         `json:"from_user_id,omitempty"`
	Cryptoboxes     []string       `json:"cryptoboxes"`
	TelegramMessage InboundMessage `json:"telegram_message"`
	ProcessedAt     time.Time      `json:"processed_at"`
}
