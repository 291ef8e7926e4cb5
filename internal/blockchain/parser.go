package blockchain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// NativeDecimals 原生币精度(wei)
const NativeDecimals = 18

// DepositEventSignature 金库合约 Deposit(address indexed user, uint256 amount)
var DepositEventSignature = crypto.Keccak256Hash([]byte("Deposit(address,uint256)"))

type DepositEvent struct {
	Chain            string
	Address          string
	Amount           decimal.Decimal
	TxHash           string
	TimestampSeconds int64
	BlockNumber      int64
	LogIndex         uint
}

func ParseDepositLog(log types.Log, chain string) (*DepositEvent, error) {
	if len(log.Topics) < 2 {
		return nil, ErrInvalidLogFormat
	}
	if log.Topics[0] != DepositEventSignature {
		return nil, ErrUnexpectedEvent
	}
	if len(log.Data) < 32 {
		return nil, ErrInvalidLogFormat
	}

	user := common.BytesToAddress(log.Topics[1].Bytes())
	wei := new(big.Int).SetBytes(log.Data[:32])

	return &DepositEvent{
		Chain:       chain,
		Address:     strings.ToLower(user.Hex()),
		Amount:      decimal.NewFromBigInt(wei, -NativeDecimals),
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		BlockNumber: int64(log.BlockNumber),
		LogIndex:    log.Index,
	}, nil
}

var (
	ErrInvalidLogFormat = &InvalidLogFormatError{reason: "insufficient topics or data"}
	ErrUnexpectedEvent  = &InvalidLogFormatError{reason: "unexpected event signature"}
)

type InvalidLogFormatError struct {
	reason string
}

func (e *InvalidLogFormatError) Error() string {
	return "invalid log format: " + e.reason
}
