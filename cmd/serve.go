package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yield-points-system/internal/blockchain"
	"yield-points-system/internal/config"
	"yield-points-system/internal/handler"
	"yield-points-system/internal/repository"
	"yield-points-system/internal/scheduler"
	"yield-points-system/internal/service"
	"yield-points-system/pkg/logger"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, chain listeners and yield scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg

	for _, chainCfg := range cfg.GetEnabledChains() {
		go startChainListener(ctx, chainCfg, a.ingestor, a.blockRepo)
	}

	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}

	yieldScheduler := scheduler.NewYieldScheduler(a.accrual, locker, cfg.Yield.Cron)
	if cfg.Yield.Enabled {
		if err := yieldScheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer yieldScheduler.Stop()
	}

	router := handler.NewRouter(handler.Services{
		Store:       a.store,
		Accounts:    a.accounts,
		Leaderboard: a.leaderboard,
		Ingestor:    a.ingestor,
		Positions:   a.positions,
		Strategies:  a.strategies,
		Settlement:  a.settlement,
		Accrual:     yieldScheduler,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting on port ", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error:", err)
	}

	logger.Info("Server stopped")
	return nil
}

func startChainListener(ctx context.Context, chainCfg config.ChainConfig, ingestor *service.Ingestor, blockRepo *repository.BlockRepository) {
	client, err := blockchain.NewClient(&chainCfg)
	if err != nil {
		logger.Error("Failed to create blockchain client:", err)
		return
	}
	defer client.Close()

	// 从数据库获取最后处理的区块号
	lastProcessedBlock, err := blockRepo.GetLastProcessed(ctx, chainCfg.ID)
	if err != nil {
		logger.Error("Failed to get last processed block:", err)
		return
	}

	logger.WithFields(map[string]interface{}{
		"chain_id":             chainCfg.ID,
		"last_processed_block": lastProcessedBlock,
		"config_start_block":   chainCfg.StartBlock,
	}).Info("启动链监听器")

	listener := blockchain.NewEventListener(&chainCfg, client, blockRepo, ingestor.HandleWindow)
	// 游标为 0 时监听器从配置的 StartBlock 开始
	listener.Start(ctx, lastProcessedBlock)
}
