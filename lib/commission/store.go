package commission

import (
	"context"
	"time"

	"github.com/servicemart/ledgerhub/common"
	"github.com/servicemart/ledgerhub/db/models"
	"github.com/uptrace/bun"
)

// Store loads and persists rules. The resolver never asks it to pick a rule.
type Store interface {
	ActiveRules(ctx context.Context, now time.Time) ([]models.CommissionRule, error)
	ActiveMarginRules(ctx context.Context) ([]models.MinimumMarginRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]models.CommissionRule, error)
	InsertRule(ctx context.Context, rule *models.CommissionRule) error
	DeactivateRule(ctx context.Context, ruleID string) (bool, error)
	GetRule(ctx context.Context, ruleID string) (*models.CommissionRule, error)
	InsertMarginRule(ctx context.Context, rule *models.MinimumMarginRule) error
}

type BunStore struct {
	db bun.IDB
}

func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db}
}

func (s *BunStore) ActiveRules(ctx context.Context, now time.Time) ([]models.CommissionRule, error) {
	rules := []models.CommissionRule{}
	err := s.db.NewSelect().Model(&rules).
		Where("is_active = ?", true).
		Where("effective_from <= ?", now).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("effective_to IS NULL").WhereOr("effective_to >= ?", now)
		}).
		Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "load commission rules", Err: err}
	}
	return rules, nil
}

func (s *BunStore) ActiveMarginRules(ctx context.Context) ([]models.MinimumMarginRule, error) {
	rules := []models.MinimumMarginRule{}
	err := s.db.NewSelect().Model(&rules).Where("is_active = ?", true).Scan(ctx)
	if err != nil {
		return nil, &common.TransientError{Op: "load margin rules", Err: err}
	}
	return rules, nil
}

func (s *BunStore) ListRules(ctx context.Context, activeOnly bool) ([]models.CommissionRule, error) {
	rules := []models.CommissionRule{}
	q := s.db.NewSelect().Model(&rules)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, &common.TransientError{Op: "list commission rules", Err: err}
	}
	return rules, nil
}

func (s *BunStore) InsertRule(ctx context.Context, rule *models.CommissionRule) error {
	if _, err := s.db.NewInsert().Model(rule).Exec(ctx); err != nil {
		return &common.TransientError{Op: "insert commission rule", Err: err}
	}
	return nil
}

// DeactivateRule reports false when no active rule had that id.
func (s *BunStore) DeactivateRule(ctx context.Context, ruleID string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*models.CommissionRule)(nil)).
		Set("is_active = ?", false).
		Where("id = ?", ruleID).
		Where("is_active = ?", true).
		Exec(ctx)
	if err != nil {
		return false, &common.TransientError{Op: "deactivate commission rule", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &common.TransientError{Op: "deactivate commission rule", Err: err}
	}
	return n == 1, nil
}

func (s *BunStore) GetRule(ctx context.Context, ruleID string) (*models.CommissionRule, error) {
	rule := &models.CommissionRule{}
	err := s.db.NewSelect().Model(rule).Where("id = ?", ruleID).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, common.ErrNotFound
		}
		return nil, &common.TransientError{Op: "get commission rule", Err: err}
	}
	return rule, nil
}

func (s *BunStore) InsertMarginRule(ctx context.Context, rule *models.MinimumMarginRule) error {
	if _, err := s.db.NewInsert().Model(rule).Exec(ctx); err != nil {
		return &common.TransientError{Op: "insert margin rule", Err: err}
	}
	return nil
}
