package main

import (
	"context"
	"fmt"
	"time"

	"yield-points-system/internal/auth"
	"yield-points-system/internal/config"
	"yield-points-system/internal/repository"
	"yield-points-system/internal/scheduler"
	"yield-points-system/internal/service"
	"yield-points-system/pkg/errors"
	"yield-points-system/pkg/logger"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// app 持有一次进程运行所需的全部组件
type app struct {
	cfg   *config.Config
	db    *gorm.DB
	store *repository.Store
	redis redis.UniversalClient

	blockRepo *repository.BlockRepository

	ledger      *service.Ledger
	ingestor    *service.Ingestor
	accrual     *service.Accrual
	settlement  *service.Settlement
	leaderboard *service.Leaderboard
	positions   *service.PositionService
	strategies  *service.StrategyService
	accounts    *service.AccountService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.New(errors.ErrConfigLoad, "加载配置失败", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := initDatabase(cfg.Database)
	if err != nil {
		return nil, errors.New(errors.ErrDatabaseConnect, "连接数据库失败", err)
	}

	store := repository.NewStore(db)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			closeDatabase(db)
			return nil, errors.New(errors.ErrDatabaseConnect, "数据库迁移失败", err)
		}
	}

	accountRepo := repository.NewAccountRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	depositRepo := repository.NewDepositRepository(db)
	strategyRepo := repository.NewStrategyRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	blockRepo := repository.NewBlockRepository(db)

	ledger := service.NewLedger(store, accountRepo, pointsRepo, historyRepo)

	a := &app{
		cfg:         cfg,
		db:          db,
		store:       store,
		blockRepo:   blockRepo,
		ledger:      ledger,
		ingestor:    service.NewIngestor(store, depositRepo, ledger, &cfg.Points),
		accrual:     service.NewAccrual(positionRepo, strategyRepo, &cfg.Yield),
		settlement:  service.NewSettlement(store, accountRepo, positionRepo, strategyRepo, activityRepo),
		leaderboard: service.NewLeaderboard(pointsRepo, historyRepo),
		positions:   service.NewPositionService(store, accountRepo, positionRepo, strategyRepo, activityRepo, ledger, &cfg.Points),
		strategies:  service.NewStrategyService(strategyRepo),
		accounts:    service.NewAccountService(accountRepo, auth.NewSignatureVerifier()),
	}

	if err := a.strategies.Seed(ctx, cfg.Strategies); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// locker 启用 Redis 时多实例共享锁，否则仅进程内互斥
func (a *app) locker(ctx context.Context) (scheduler.Locker, error) {
	if !a.cfg.Redis.Enabled {
		return scheduler.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.redis = client

	ttl := time.Duration(a.cfg.Redis.LockTTL) * time.Second
	return scheduler.NewRedisLocker(client, a.cfg.Redis.LockKey, ttl), nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	closeDatabase(a.db)
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		// sqlite 把 decimal 列存为 REAL，余额会有浮点误差，只用于开发和测试
		logger.Warn("Using sqlite driver: decimal columns are stored as REAL, do not use in production")
		dialector = sqlite.Open(cfg.DSN())
	case "mysql", "":
		dialector = mysql.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	return db, nil
}

func closeDatabase(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Failed to get database instance:", err)
		return
	}
	sqlDB.Close()
}
