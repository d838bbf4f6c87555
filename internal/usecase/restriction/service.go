// Package restriction ведёт чёрный список пользователей и чатов.
package restriction

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
)

// Service управляет ограничениями одного вида целей.
type Service struct {
	kind  domain.TargetKind
	store domain.Store
	cache *cache.Namespace[[]domain.BlacklistEntry]
	log   zerolog.Logger
	now   func() time.Time
}

// NewService создаёт сервис ограничений для целей вида kind.
func NewService(kind domain.TargetKind, store domain.Store, entries *cache.Namespace[[]domain.BlacklistEntry], logger zerolog.Logger) *Service {
	return &Service{
		kind:  kind,
		store: store,
		cache: entries,
		log:   logger.With().Str("component", "restriction").Str("kind", string(kind)).Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Kind возвращает вид целей сервиса.
func (s *Service) Kind() domain.TargetKind { return s.kind }

// ActiveEntries возвращает действующие записи цели. В кэше лежит список записей,
// а не флаг: предикат пересчитывается с текущим временем при каждом вызове.
func (s *Service) ActiveEntries(ctx context.Context, targetID int64) ([]domain.BlacklistEntry, error) {
	entries, err := s.cache.GetOrLoad(ctx, cache.Key(targetID), func(ctx context.Context) ([]domain.BlacklistEntry, error) {
		return s.store.ActiveBlacklist(ctx, s.kind, targetID, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("active blacklist %s %d: %w", s.kind, targetID, err)
	}
	now := s.now()
	return lo.Filter(entries, func(e domain.BlacklistEntry, _ int) bool { return e.Active(now) }), nil
}

// IsRestricted сообщает, ограничена ли цель сейчас.
func (s *Service) IsRestricted(ctx context.Context, targetID int64) (bool, error) {
	active, err := s.ActiveEntries(ctx, targetID)
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

// AddToBlacklist создаёт запись. Если цель уже ограничена — ErrAlreadyRestricted.
// releaseAt == nil означает бессрочное ограничение; срок в прошлом — ErrValidation.
func (s *Service) AddToBlacklist(ctx context.Context, targetID int64, reason *string, releaseAt *time.Time) (domain.BlacklistEntry, error) {
	now := s.now()
	if releaseAt != nil && !releaseAt.After(now) {
		return domain.BlacklistEntry{}, fmt.Errorf("%w: release_at must be in the future", domain.ErrValidation)
	}
	active, err := s.store.ActiveBlacklist(ctx, s.kind, targetID, now)
	if err != nil {
		return domain.BlacklistEntry{}, fmt.Errorf("check blacklist %s %d: %w", s.kind, targetID, err)
	}
	if len(active) > 0 {
		return domain.BlacklistEntry{}, domain.ErrAlreadyRestricted
	}
	entry, err := s.store.InsertBlacklistEntry(ctx, domain.BlacklistEntry{
		Kind:      s.kind,
		TargetID:  targetID,
		Reason:    reason,
		ReleaseAt: releaseAt,
	})
	if err != nil {
		return domain.BlacklistEntry{}, fmt.Errorf("insert blacklist %s %d: %w", s.kind, targetID, err)
	}
	if err := s.Invalidate(ctx, targetID); err != nil {
		return entry, err
	}
	s.log.Info().Int64("target", targetID).Int64("entry", entry.ID).Msg("цель добавлена в чёрный список")
	return entry, nil
}

// RemoveFromBlacklist амнистирует все действующие записи цели одной транзакцией.
// Если действующих записей нет — ErrNotRestricted.
func (s *Service) RemoveFromBlacklist(ctx context.Context, targetID int64, amnestiedReason *string) ([]domain.BlacklistEntry, error) {
	var amnestied []domain.BlacklistEntry
	err := s.store.WithTx(ctx, func(q domain.Queries) error {
		now := s.now()
		active, err := q.ActiveBlacklist(ctx, s.kind, targetID, now)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return domain.ErrNotRestricted
		}
		ids := lo.Map(active, func(e domain.BlacklistEntry, _ int) int64 { return e.ID })
		amnestied, err = q.AmnestyBlacklistEntries(ctx, s.kind, ids, now, amnestiedReason)
		if err != nil {
			return err
		}
		if len(amnestied) == 0 {
			return domain.ErrNotRestricted
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("amnesty %s %d: %w", s.kind, targetID, err)
	}
	if err := s.Invalidate(ctx, targetID); err != nil {
		return amnestied, err
	}
	s.log.Info().Int64("target", targetID).Int("entries", len(amnestied)).Msg("цель амнистирована")
	return amnestied, nil
}

// UpdateEntry изменяет запись. amnestied_at записывается один раз.
func (s *Service) UpdateEntry(ctx context.Context, entry domain.BlacklistEntry) (domain.BlacklistEntry, error) {
	entry.Kind = s.kind
	current, err := s.store.BlacklistEntryByID(ctx, s.kind, entry.ID)
	if err != nil {
		return domain.BlacklistEntry{}, fmt.Errorf("get blacklist entry %d: %w", entry.ID, err)
	}
	if current.AmnestiedAt != nil && (entry.AmnestiedAt == nil || !entry.AmnestiedAt.Equal(*current.AmnestiedAt)) {
		return domain.BlacklistEntry{}, fmt.Errorf("%w: amnestied_at is write-once", domain.ErrValidation)
	}
	updated, err := s.store.UpdateBlacklistEntry(ctx, entry)
	if err != nil {
		return domain.BlacklistEntry{}, fmt.Errorf("update blacklist entry %d: %w", entry.ID, err)
	}
	if err := s.Invalidate(ctx, current.TargetID); err != nil {
		return updated, err
	}
	if updated.TargetID != current.TargetID {
		if err := s.Invalidate(ctx, updated.TargetID); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// DeleteEntry удаляет запись.
func (s *Service) DeleteEntry(ctx context.Context, id int64) error {
	deleted, err := s.store.DeleteBlacklistEntry(ctx, s.kind, id)
	if err != nil {
		return fmt.Errorf("delete blacklist entry %d: %w", id, err)
	}
	return s.Invalidate(ctx, deleted.TargetID)
}

// History возвращает все записи цели, включая амнистированные.
func (s *Service) History(ctx context.Context, targetID int64) ([]domain.BlacklistEntry, error) {
	return s.store.ListBlacklist(ctx, s.kind, targetID)
}

// ListRestricted возвращает идентификаторы ограниченных сейчас целей.
func (s *Service) ListRestricted(ctx context.Context, page domain.Page) ([]int64, error) {
	return s.store.ListRestrictedTargets(ctx, s.kind, s.now(), page)
}

// CountRestricted возвращает число ограниченных сейчас целей.
func (s *Service) CountRestricted(ctx context.Context) (int, error) {
	return s.store.CountRestrictedTargets(ctx, s.kind, s.now())
}

// Invalidate сбрасывает кэш ограничений цели. Вызывается после любой записи
// в чёрный список и после изменения или удаления самой цели.
func (s *Service) Invalidate(ctx context.Context, targetID int64) error {
	if err := s.cache.Invalidate(ctx, cache.Key(targetID)); err != nil {
		s.log.Error().Err(err).Int64("target", targetID).Msg("не удалось сбросить кэш ограничений")
		return err
	}
	return nil
}
