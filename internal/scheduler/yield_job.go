package scheduler

import (
	"context"

	"yield-points-system/internal/service"
	"yield-points-system/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Runner 一次收益计算
type Runner interface {
	Run(ctx context.Context) (*service.AccrualReport, error)
}

type YieldScheduler struct {
	cron     *cron.Cron
	runner   Runner
	locker   Locker
	cronExpr string
}

func NewYieldScheduler(runner Runner, locker Locker, cronExpr string) *YieldScheduler {
	if cronExpr == "" {
		cronExpr = "0 0 * * * *"
	}
	return &YieldScheduler{
		cron:     cron.New(cron.WithSeconds()),
		runner:   runner,
		locker:   locker,
		cronExpr: cronExpr,
	}
}

func (s *YieldScheduler) Start() error {
	_, err := s.cron.AddFunc(s.cronExpr, s.tick)
	if err != nil {
		return err
	}

	s.cron.Start()
	logger.WithFields(map[string]interface{}{
		"cron": s.cronExpr,
	}).Info("Yield accrual scheduler started")
	return nil
}

func (s *YieldScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Yield accrual scheduler stopped")
}

func (s *YieldScheduler) tick() {
	if _, _, err := s.RunOnce(context.Background()); err != nil {
		logger.Error("Yield accrual failed:", err)
	}
}

// RunOnce 获取锁后执行一次计算；锁被占用时跳过，ran 为 false
func (s *YieldScheduler) RunOnce(ctx context.Context) (*service.AccrualReport, bool, error) {
	unlock, ok, err := s.locker.TryLock(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		logger.Warn("Previous yield accrual still running, skipping tick")
		return nil, false, nil
	}
	defer unlock()

	report, err := s.runner.Run(ctx)
	return report, true, err
}
