package domain

import (
	"context"
	"time"
)

// Page задаёт окно выборки для списков.
type Page struct {
	Limit  int
	Offset int
}

// MessageFilter ограничивает выборку сообщений.
type MessageFilter struct {
	ChatID     *int64
	FromUserID *int64
	// Search ищет подстроку в тексте или подписи.
	Search string
	Page   Page
}

// UserRepo управляет пользователями.
type UserRepo interface {
	UserByID(ctx context.Context, id int64) (User, error)
	// InsertUser возвращает ErrConflict, если пользователь уже существует.
	InsertUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	// DeleteUser возвращает ключи сообщений, у которых обнулён автор.
	DeleteUser(ctx context.Context, id int64) ([]MessageKey, error)
	ListUsers(ctx context.Context, page Page) ([]User, error)
	CountUsers(ctx context.Context) (int, error)
}

// ChatRepo управляет чатами.
type ChatRepo interface {
	ChatByID(ctx context.Context, id int64) (Chat, error)
	// InsertChat возвращает ErrConflict, если чат уже существует.
	InsertChat(ctx context.Context, chat Chat) (Chat, error)
	UpdateChat(ctx context.Context, chat Chat) (Chat, error)
	// DeleteChat возвращает ключи удалённых сообщений чата и ответов на них из других чатов.
	DeleteChat(ctx context.Context, id int64) ([]MessageKey, error)
	ListChats(ctx context.Context, page Page) ([]Chat, error)
	CountChats(ctx context.Context) (int, error)
}

// MessageRepo управляет сообщениями.
type MessageRepo interface {
	MessageByKey(ctx context.Context, key MessageKey) (Message, error)
	// InsertMessage возвращает ErrConflict, если пара (chat_id, message_id) уже занята.
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	UpdateMessage(ctx context.Context, msg Message) (Message, error)
	// DeleteMessage возвращает ключи ответов, у которых обнулена ссылка на сообщение.
	DeleteMessage(ctx context.Context, key MessageKey) ([]MessageKey, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error)
	CountMessages(ctx context.Context, filter MessageFilter) (int, error)
}

// BlacklistRepo хранит историю нарушений. Предикат ограничения вычисляется на момент now.
type BlacklistRepo interface {
	BlacklistEntryByID(ctx context.Context, kind TargetKind, id int64) (BlacklistEntry, error)
	// ActiveBlacklist возвращает записи цели, которые ограничивают её в момент now.
	ActiveBlacklist(ctx context.Context, kind TargetKind, targetID int64, now time.Time) ([]BlacklistEntry, error)
	ListBlacklist(ctx context.Context, kind TargetKind, targetID int64) ([]BlacklistEntry, error)
	InsertBlacklistEntry(ctx context.Context, entry BlacklistEntry) (BlacklistEntry, error)
	// AmnestyBlacklistEntries проставляет amnestied_at только тем записям, где он ещё пуст.
	AmnestyBlacklistEntries(ctx context.Context, kind TargetKind, ids []int64, at time.Time, reason *string) ([]BlacklistEntry, error)
	UpdateBlacklistEntry(ctx context.Context, entry BlacklistEntry) (BlacklistEntry, error)
	DeleteBlacklistEntry(ctx context.Context, kind TargetKind, id int64) (BlacklistEntry, error)
	// ListRestrictedTargets возвращает идентификаторы целей, ограниченных в момент now.
	ListRestrictedTargets(ctx context.Context, kind TargetKind, now time.Time, page Page) ([]int64, error)
	CountRestrictedTargets(ctx context.Context, kind TargetKind, now time.Time) (int, error)
}

// Queries объединяет все репозитории над одним подключением или транзакцией.
type Queries interface {
	UserRepo
	ChatRepo
	MessageRepo
	BlacklistRepo
}

// Store — постоянное хранилище с поддержкой транзакций.
type Store interface {
	Queries
	// WithTx выполняет fn в транзакции; ошибка fn откатывает транзакцию.
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

// Sink принимает принятые сообщения для дальнейшей обработки.
type Sink interface {
	Publish(ctx context.Context, msg AcceptedMessage) error
}
