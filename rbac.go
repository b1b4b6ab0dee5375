package rbac

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config holds the configuration for the RBAC service
type Config struct {
	DB          *gorm.DB
	RedisClient *redis.Client // optional; enables the reconcile run lock and report
	Tokens      *TokenVerifier
	Logger      *zap.SugaredLogger

	AppName            string
	TenantParam        string // route/query parameter naming the tenant; DefaultTenantParam when empty
	AutoMigrate        bool
	EnableAuditLogging bool
	ReconcileLockTTL   time.Duration
	BulkCheckLimit     int
}

// RBAC answers access questions for tenant-scoped roles and maintains the
// role catalog and permission matrix behind them. It keeps no grant state
// in memory; every call reads the store.
type RBAC struct {
	db           *gorm.DB
	redis        *redis.Client
	tokens       *TokenVerifier
	log          *zap.SugaredLogger
	appName      string
	tenantParam  string
	auditEnabled bool
	lockTTL      time.Duration
	bulkLimit    int
}

// New initializes a new RBAC service
func New(cfg Config) (*RBAC, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.AppName == "" {
		cfg.AppName = "rbac"
	}
	if cfg.TenantParam == "" {
		cfg.TenantParam = DefaultTenantParam
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.ReconcileLockTTL <= 0 {
		cfg.ReconcileLockTTL = 30 * time.Minute
	}
	if cfg.BulkCheckLimit <= 0 {
		cfg.BulkCheckLimit = 10
	}

	if cfg.AutoMigrate {
		if err := Migrate(cfg.DB); err != nil {
			return nil, err
		}
	}

	return &RBAC{
		db:           cfg.DB,
		redis:        cfg.RedisClient,
		tokens:       cfg.Tokens,
		log:          cfg.Logger,
		appName:      cfg.AppName,
		tenantParam:  cfg.TenantParam,
		auditEnabled: cfg.EnableAuditLogging,
		lockTTL:      cfg.ReconcileLockTTL,
		bulkLimit:    cfg.BulkCheckLimit,
	}, nil
}

// Migrate creates or updates every table the service reads or writes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&TenantRole{}, &AccessControlList{}, &User{}, &TenantMember{}, &AuditLog{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}
