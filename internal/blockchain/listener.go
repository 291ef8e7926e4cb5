package blockchain

import (
	"context"
	"sync/atomic"
	"time"

	"yield-points-system/internal/config"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"
	"yield-points-system/pkg/retry"
)

// EventSource 监听器需要的链上读取能力，*Client 实现该接口
type EventSource interface {
	GetConfirmBlockNumber(ctx context.Context) (int64, error)
	FetchDeposits(ctx context.Context, startBlock, endBlock int64) ([]*DepositEvent, error)
}

// WindowHandler 处理一个区块窗口内的全部事件，返回错误时该窗口会被重试
type WindowHandler func(ctx context.Context, events []*DepositEvent) error

const maxBatchSize = 5000

type EventListener struct {
	chainCfg     *config.ChainConfig
	source       EventSource
	blockRepo    *repository.BlockRepository
	handler      WindowHandler
	retryCfg     retry.Config
	stopChan     chan struct{}
	isProcessing int32
}

func NewEventListener(chainCfg *config.ChainConfig, source EventSource, blockRepo *repository.BlockRepository, handler WindowHandler) *EventListener {
	retryCfg := retry.DefaultConfig()
	if chainCfg.MaxRetries > 0 {
		retryCfg.MaxRetries = chainCfg.MaxRetries
	}
	return &EventListener{
		chainCfg:  chainCfg,
		source:    source,
		blockRepo: blockRepo,
		handler:   handler,
		retryCfg:  retryCfg,
		stopChan:  make(chan struct{}),
	}
}

// Start 启动事件监听器
func (l *EventListener) Start(ctx context.Context, startBlock int64) {
	interval := time.Duration(l.chainCfg.PullInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastProcessedBlock := startBlock

	for {
		select {
		case <-ctx.Done():
			logger.Info("事件监听器已停止：上下文已取消")
			return
		case <-l.stopChan:
			logger.Info("事件监听器已停止：收到停止信号")
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&l.isProcessing, 0, 1) {
				logger.WithFields(map[string]interface{}{
					"chain_id": l.chainCfg.ID,
				}).Warn("上一次处理尚未完成，跳过本次触发")
				continue
			}

			block, err := l.ProcessNewBlocks(ctx, lastProcessedBlock)
			if err != nil {
				logger.Error("处理区块失败:", err)
			} else if block > lastProcessedBlock {
				lastProcessedBlock = block
			}

			atomic.StoreInt32(&l.isProcessing, 0)
		}
	}
}

// Stop 停止事件监听器
func (l *EventListener) Stop() {
	close(l.stopChan)
}

// IsProcessing 返回是否正在处理
func (l *EventListener) IsProcessing() bool {
	return atomic.LoadInt32(&l.isProcessing) == 1
}

// ProcessNewBlocks 处理 lastBlock 之后的一个窗口，返回新的已处理区块号
// 只有窗口内事件全部处理完成才推进游标
func (l *EventListener) ProcessNewBlocks(ctx context.Context, lastBlock int64) (int64, error) {
	confirmedBlock, err := l.source.GetConfirmBlockNumber(ctx)
	if err != nil {
		return lastBlock, err
	}

	if confirmedBlock <= lastBlock {
		return lastBlock, nil
	}

	startBlock := lastBlock + 1
	if lastBlock == 0 && l.chainCfg.StartBlock > 0 {
		startBlock = l.chainCfg.StartBlock
	}
	if startBlock > confirmedBlock {
		return lastBlock, nil
	}

	endBlock := WindowEnd(startBlock, confirmedBlock, l.chainCfg.BatchSize)

	logger.WithFields(map[string]interface{}{
		"chain_id":    l.chainCfg.ID,
		"start_block": startBlock,
		"end_block":   endBlock,
	}).Info("处理新区块")

	events, err := l.source.FetchDeposits(ctx, startBlock, endBlock)
	if err != nil {
		return lastBlock, err
	}

	if len(events) > 0 {
		err = retry.WithBackoff(ctx, l.retryCfg, "ingest deposit window", isRetryable, func() error {
			return l.handler(ctx, events)
		})
		if err != nil {
			return lastBlock, err
		}
	}

	if err := l.blockRepo.MarkProcessed(ctx, l.chainCfg.ID, endBlock); err != nil {
		logger.Error("标记区块已处理失败:", err)
		return lastBlock, err
	}

	return endBlock, nil
}

// WindowEnd 计算以 start 起始、不超过 batchSize 个区块的窗口终点
func WindowEnd(start, limit int64, batchSize int) int64 {
	size := int64(batchSize)
	if size <= 0 {
		size = 100
	}
	if size > maxBatchSize {
		size = maxBatchSize
	}
	end := start + size - 1
	if end > limit {
		end = limit
	}
	return end
}

func isRetryable(err error) bool {
	return errors.KindOf(err) == errors.KindUnavailable
}
