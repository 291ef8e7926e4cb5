package service

import (
	"context"
	"time"

	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"

	"github.com/shopspring/decimal"
)

const (
	MaxPageLimit    = 100
	MaxHistoryLimit = 100
)

type LeaderboardEntry struct {
	Address     string          `json:"address"`
	TotalPoints decimal.Decimal `json:"total_points"`
	Rank        int64           `json:"rank"`
}

type LeaderboardPage struct {
	Entries []LeaderboardEntry `json:"entries"`
	Total   int64              `json:"total"`
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
}

// UserPointsView Rank 为 0 表示尚未上榜
type UserPointsView struct {
	Address     string          `json:"address"`
	TotalPoints decimal.Decimal `json:"total_points"`
	Rank        int64           `json:"rank"`
	LastUpdated *time.Time      `json:"last_updated"`
}

// Leaderboard 只读查询，不加锁，允许读到稍旧的数据
type Leaderboard struct {
	pointsRepo  *repository.PointsRepository
	historyRepo *repository.HistoryRepository
}

func NewLeaderboard(pointsRepo *repository.PointsRepository, historyRepo *repository.HistoryRepository) *Leaderboard {
	return &Leaderboard{pointsRepo: pointsRepo, historyRepo: historyRepo}
}

// GetPage 名次按 offset+index+1 计算，排序为积分降序、id 升序
func (s *Leaderboard) GetPage(ctx context.Context, page, limit int) (*LeaderboardPage, error) {
	if page < 1 {
		return nil, errors.New(errors.ErrInvalidInput, "page 必须大于等于1", nil)
	}
	if limit < 1 || limit > MaxPageLimit {
		return nil, errors.New(errors.ErrInvalidInput, "limit 必须在 1 到 100 之间", nil)
	}

	offset := (page - 1) * limit
	rows, total, err := s.pointsRepo.RankedPage(ctx, offset, limit)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取排行榜失败", err)
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, LeaderboardEntry{
			Address:     row.Address,
			TotalPoints: row.TotalPoints,
			Rank:        int64(offset + i + 1),
		})
	}

	return &LeaderboardPage{
		Entries: entries,
		Total:   total,
		Page:    page,
		Limit:   limit,
	}, nil
}

func (s *Leaderboard) GetUserPoints(ctx context.Context, address string) (*UserPointsView, error) {
	address = models.NormalizeAddress(address)
	if address == "" {
		return nil, errors.New(errors.ErrInvalidInput, "地址不能为空", nil)
	}

	points, err := s.pointsRepo.GetByAddress(ctx, address)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取积分失败", err)
	}
	if points == nil {
		return &UserPointsView{Address: address, TotalPoints: decimal.Zero}, nil
	}

	rank, err := s.pointsRepo.RankOf(ctx, points)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "计算名次失败", err)
	}

	updated := points.UpdatedAt
	return &UserPointsView{
		Address:     points.Address,
		TotalPoints: points.TotalPoints,
		Rank:        rank,
		LastUpdated: &updated,
	}, nil
}

// GetPointsHistory 按时间倒序返回积分流水
func (s *Leaderboard) GetPointsHistory(ctx context.Context, address string, limit int) ([]models.PointsHistory, error) {
	address = models.NormalizeAddress(address)
	if address == "" {
		return nil, errors.New(errors.ErrInvalidInput, "地址不能为空", nil)
	}
	if limit < 1 || limit > MaxHistoryLimit {
		return nil, errors.New(errors.ErrInvalidInput, "limit 必须在 1 到 100 之间", nil)
	}

	entries, err := s.historyRepo.GetByAddress(ctx, address, limit)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "读取积分流水失败", err)
	}
	return entries, nil
}
