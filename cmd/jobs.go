package main

import (
	"context"
	"errors"
	"fmt"

	"yield-points-system/internal/blockchain"
	"yield-points-system/internal/scheduler"
	"yield-points-system/internal/service"
	"yield-points-system/pkg/logger"

	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	var (
		chainID string
		from    int64
		to      int64
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-scan a block range and ingest any missed deposits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			chainCfg, err := a.cfg.GetChainConfig(chainID)
			if err != nil {
				return err
			}

			client, err := blockchain.NewClient(chainCfg)
			if err != nil {
				return err
			}
			defer client.Close()

			if to <= 0 {
				to, err = client.GetConfirmBlockNumber(ctx)
				if err != nil {
					return err
				}
			}

			report, err := a.ingestor.Backfill(ctx, client, from, to, chainCfg.BatchSize)
			if report != nil {
				logger.WithFields(map[string]interface{}{
					"chain_id":    chainID,
					"from":        from,
					"to":          to,
					"succeeded":   report.Succeeded,
					"skipped":     report.Skipped,
					"errored":     report.Errored,
					"unavailable": report.Unavailable,
				}).Info("回填完成")
			}
			return err
		},
	}

	cmd.Flags().StringVar(&chainID, "chain", "", "chain id from config")
	cmd.Flags().Int64Var(&from, "from", 0, "first block to scan")
	cmd.Flags().Int64Var(&to, "to", 0, "last block to scan (default: latest confirmed)")
	cmd.MarkFlagRequired("chain")

	return cmd
}

func newAccrueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accrue",
		Short: "Run one yield accrual pass immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			locker, err := a.locker(ctx)
			if err != nil {
				return err
			}

			report, err := accrueOnce(ctx, a.accrual, locker)
			if err != nil {
				return err
			}

			logger.WithFields(map[string]interface{}{
				"processed":          report.Processed,
				"failed":             report.Failed,
				"skipped":            report.Skipped,
				"strategies_updated": report.StrategiesUpdated,
				"duration":           report.Duration,
			}).Info("收益计算完成")
			return nil
		},
	}
}

var errAccrualRunning = errors.New("yield accrual already running, try again later")

// accrueOnce 与定时任务共用同一把锁，避免手动执行与 cron 重叠
func accrueOnce(ctx context.Context, runner scheduler.Runner, locker scheduler.Locker) (*service.AccrualReport, error) {
	report, ran, err := scheduler.NewYieldScheduler(runner, locker, "").RunOnce(ctx)
	if err != nil {
		return nil, err
	}
	if !ran {
		return nil, errAccrualRunning
	}
	return report, nil
}

func newReconcileCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare every balance with its history sum",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			mismatches, err := a.ledger.Reconcile(ctx)
			if err != nil {
				return err
			}

			for _, m := range mismatches {
				logger.WithFields(map[string]interface{}{
					"address":     m.Address,
					"balance":     m.Balance.String(),
					"history_sum": m.HistorySum.String(),
				}).Warn("积分余额与流水不一致")

				if !fix {
					continue
				}
				total, err := a.ledger.Rebuild(ctx, m.Address)
				if err != nil {
					return fmt.Errorf("rebuild %s: %w", m.Address, err)
				}
				logger.WithFields(map[string]interface{}{
					"address": m.Address,
					"total":   total.String(),
				}).Info("已按流水重建余额")
			}

			logger.Info("对账完成，不一致地址数: ", len(mismatches))
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "rebuild mismatched balances from history")
	return cmd
}
