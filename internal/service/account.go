package service

import (
	"context"
	"time"

	"yield-points-system/internal/auth"
	"yield-points-system/internal/models"
	"yield-points-system/internal/repository"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"
)

type AccountService struct {
	accountRepo *repository.AccountRepository
	verifier    auth.Verifier
	now         func() time.Time
}

func NewAccountService(accountRepo *repository.AccountRepository, verifier auth.Verifier) *AccountService {
	return &AccountService{
		accountRepo: accountRepo,
		verifier:    verifier,
		now:         time.Now,
	}
}

// Authenticate 校验签名，成功返回规范化后的地址
func (s *AccountService) Authenticate(chain, address, message, signature string) (string, error) {
	if address == "" || message == "" || signature == "" {
		return "", errors.New(errors.ErrInvalidInput, "地址、消息和签名不能为空", nil)
	}
	if !s.verifier.Verify(chain, address, message, signature) {
		return "", errors.New(errors.ErrUnauthorized, "签名校验失败", nil)
	}
	return models.NormalizeAddress(address), nil
}

// Login 签名校验通过后创建或更新账户
func (s *AccountService) Login(ctx context.Context, chain, address, message, signature string) (*models.Account, error) {
	normalized, err := s.Authenticate(chain, address, message, signature)
	if err != nil {
		return nil, err
	}

	account, err := s.accountRepo.GetOrCreate(ctx, normalized)
	if err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "创建账户失败", err)
	}

	now := s.now().UTC()
	if err := s.accountRepo.TouchLogin(ctx, account.ID, now); err != nil {
		return nil, errors.New(errors.ErrStoreUnavailable, "更新登录时间失败", err)
	}
	account.LastLoginAt = &now

	logger.WithFields(map[string]interface{}{
		"address": normalized,
		"chain":   chain,
	}).Info("用户登录")

	return account, nil
}
