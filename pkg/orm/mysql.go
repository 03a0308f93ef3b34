package orm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"orderchat.com/pkg/metrics"
)

type Config struct {
	DSN         string `mapstructure:"dsn"`          // 连接字符串
	MaxIdle     int    `mapstructure:"max_idle"`     // 最大空闲连接
	MaxOpen     int    `mapstructure:"max_open"`     // 最大打开连接
	MaxLifetime int    `mapstructure:"max_lifetime"` // 连接存活秒数
	LogSQL      bool   `mapstructure:"log_sql"`
}

// NewMySQL 初始化 GORM
func NewMySQL(c *Config) (*gorm.DB, error) {
	level := logger.Warn
	if c.LogSQL {
		level = logger.Info
	}
	db, err := gorm.Open(mysql.Open(c.DSN), &gorm.Config{
		Logger:                 logger.Default.LogMode(level),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 连接池
	if c.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdle)
	}
	if c.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpen)
	}
	if c.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	}
	return db, nil
}

// ObservePool exports sql.DBStats to prometheus until ctx is done.
func ObservePool(ctx context.Context, db *gorm.DB, every time.Duration) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if every <= 0 {
		every = 15 * time.Second
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		var lastWait int64
		var lastWaitDur time.Duration
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				st := sqlDB.Stats()
				metrics.DbPoolOpen.Set(float64(st.OpenConnections))
				metrics.DbPoolIdle.Set(float64(st.Idle))
				metrics.DbPoolInuse.Set(float64(st.InUse))
				if d := st.WaitCount - lastWait; d > 0 {
					metrics.DbPoolWaitCount.Add(float64(d))
				}
				if d := st.WaitDuration - lastWaitDur; d > 0 {
					metrics.DbPoolWaitDuration.Add(d.Seconds())
				}
				lastWait, lastWaitDur = st.WaitCount, st.WaitDuration
			}
		}
	}()
}
