package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"yield-points-system/internal/config"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainReader 是 ethclient.Client 中用到的方法子集
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type Client struct {
	chainCfg *config.ChainConfig
	reader   ChainReader
	closer   func()
}

// NewClient 创建指定链的区块链客户端
func NewClient(chainCfg *config.ChainConfig) (*Client, error) {
	client, err := ethclient.Dial(chainCfg.RPCURL)
	if err != nil {
		return nil, errors.New(errors.ErrRPConnect,
			fmt.Sprintf("连接RPC失败: %s", chainCfg.RPCURL), err)
	}

	return &Client{
		chainCfg: chainCfg,
		reader:   client,
		closer:   client.Close,
	}, nil
}

// NewClientWithReader 使用已有的 reader，测试时注入假实现
func NewClientWithReader(chainCfg *config.ChainConfig, reader ChainReader) *Client {
	return &Client{chainCfg: chainCfg, reader: reader}
}

// Close 关闭区块链客户端连接
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) ChainID() string {
	return c.chainCfg.ID
}

// GetLatestBlockNumber 获取区块链最新区块号
func (c *Client) GetLatestBlockNumber(ctx context.Context) (int64, error) {
	header, err := c.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.New(errors.ErrBlockFetch, "获取最新区块失败", err)
	}
	return header.Number.Int64(), nil
}

// GetConfirmBlockNumber 获取已确认的最新区块号
func (c *Client) GetConfirmBlockNumber(ctx context.Context) (int64, error) {
	latest, err := c.GetLatestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	confirmed := latest - int64(c.chainCfg.ConfirmationBlocks)
	if confirmed < 0 {
		confirmed = 0
	}

	return confirmed, nil
}

// GetBlockTimestamp 获取区块的时间戳(秒)
func (c *Client) GetBlockTimestamp(ctx context.Context, blockNumber int64) (int64, error) {
	header, err := c.reader.HeaderByNumber(ctx, big.NewInt(blockNumber))
	if err != nil {
		return 0, errors.New(errors.ErrBlockFetch,
			fmt.Sprintf("获取区块 %d 失败", blockNumber), err)
	}
	return int64(header.Time), nil
}

// GetDepositLogs 获取指定区块范围内金库合约的 Deposit 日志
// 注意：RPC节点通常限制每次请求最多10,000个区块
func (c *Client) GetDepositLogs(ctx context.Context, startBlock, endBlock int64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(startBlock),
		ToBlock:   big.NewInt(endBlock),
		Addresses: []common.Address{common.HexToAddress(c.chainCfg.VaultAddress)},
		Topics:    [][]common.Hash{{DepositEventSignature}},
	}

	logs, err := c.reader.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.New(errors.ErrBlockFetch, "过滤Deposit事件失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"chain_id":    c.chainCfg.ID,
		"start_block": startBlock,
		"end_block":   endBlock,
		"logs_count":  len(logs),
	}).Debug("获取Deposit事件日志")

	return logs, nil
}

// FetchDeposits 解析区块范围内的存款事件，按(区块号, 日志序号)排序并补齐区块时间
func (c *Client) FetchDeposits(ctx context.Context, startBlock, endBlock int64) ([]*DepositEvent, error) {
	logs, err := c.GetDepositLogs(ctx, startBlock, endBlock)
	if err != nil {
		return nil, err
	}

	timestamps := make(map[int64]int64)
	events := make([]*DepositEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		event, err := ParseDepositLog(log, c.chainCfg.ID)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"chain_id": c.chainCfg.ID,
				"tx_hash":  log.TxHash.Hex(),
				"error":    err,
			}).Warn("解析日志失败")
			continue
		}

		ts, ok := timestamps[event.BlockNumber]
		if !ok {
			ts, err = c.GetBlockTimestamp(ctx, event.BlockNumber)
			if err != nil {
				return nil, err
			}
			timestamps[event.BlockNumber] = ts
		}
		event.TimestampSeconds = ts
		events = append(events, event)
	}

	SortEvents(events)
	return events, nil
}

// SortEvents 按链上顺序排序
func SortEvents(events []*DepositEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}
