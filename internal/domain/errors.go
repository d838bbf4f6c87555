package domain

import "errors"

var (
	// ErrAlreadyRestricted — у цели уже есть действующая запись в чёрном списке.
	ErrAlreadyRestricted = errors.New("target is already restricted")
	// ErrNotRestricted — у цели нет действующих записей для амнистии.
	ErrNotRestricted = errors.New("target is not restricted")
	// ErrValidation — входящее сообщение не прошло проверку схемы, повтор бесполезен.
	ErrValidation = errors.New("validation error")
	// ErrNotFound — запись отсутствует в хранилище.
	ErrNotFound = errors.New("not found")
	// ErrConflict — вставка проиграла гонку конкурентному писателю.
	ErrConflict = errors.New("persistence conflict")
	// ErrStoreUnavailable — постоянное хранилище недоступно.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCacheUnavailable — кэш недоступен.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// Retryable сообщает, имеет ли смысл повторная доставка сообщения после ошибки.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation)
}
