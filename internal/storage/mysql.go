package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
)

var mysqlTracer = otel.Tracer("resume-match-go/storage/mysql")

type gormSpanKey struct{}

// GormTracingPlugin 是一个GORM插件，为每次数据库操作创建 span
type GormTracingPlugin struct {
	tracer   trace.Tracer
	dbName   string
	dbSystem string
}

// NewGormTracingPlugin 创建追踪插件，dbSystem 为 mysql 或 sqlite
func NewGormTracingPlugin(dbName, dbSystem string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:   mysqlTracer,
		dbName:   dbName,
		dbSystem: dbSystem,
	}
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("INSERT")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	return cb.Row().After("gorm:row").Register("otel:after_row", p.after())
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", p.dbSystem),
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.Context == nil {
			return
		}
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", tracing.SafeSQL(sql)))
		}

		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查不到记录属于正常业务结果
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
		}
	}
}

// Catalog 已索引记录目录，MySQL 或 SQLite
type Catalog struct {
	db *gorm.DB
}

// NewCatalog 按配置连接数据库并迁移表结构
func NewCatalog(cfg *config.MySQLConfig) (*Catalog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	var (
		dialector gorm.Dialector
		dbName    string
		dbSystem  string
	)
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "resume_match.db"
		}
		dialector, dbName, dbSystem = sqlite.Open(path), path, "sqlite"
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.ConnectTimeoutSeconds)
		dialector, dbName, dbSystem = mysql.Open(dsn), cfg.Database, "mysql"
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	c, err := OpenCatalog(dialector, dbName, dbSystem, gormLogLevel(cfg.LogLevel))
	if err != nil {
		return nil, err
	}

	if dbSystem == "mysql" {
		sqlDB, err := c.db.DB()
		if err != nil {
			return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
		}
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return c, nil
}

// OpenCatalog 使用给定 dialector 打开目录库（测试中使用内存 SQLite）
func OpenCatalog(dialector gorm.Dialector, dbName, dbSystem string, level logger.LogLevel) (*Catalog, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "[GORM] ", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Use(NewGormTracingPlugin(dbName, dbSystem)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	// 迁移时关闭 SQL 日志
	silentDB := db.Session(&gorm.Session{Logger: gormLogger.LogMode(logger.Silent)})
	if err := silentDB.AutoMigrate(&models.IndexedRecord{}); err != nil {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	return &Catalog{db: db}, nil
}

func gormLogLevel(level int) logger.LogLevel {
	switch level {
	case 1:
		return logger.Silent
	case 3:
		return logger.Warn
	case 4:
		return logger.Info
	default:
		return logger.Error
	}
}

// DB 返回GORM数据库连接实例
func (c *Catalog) DB() *gorm.DB {
	return c.db
}

// Close 关闭数据库连接
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordIndexed 记录已入库的数据。同一集合下相同 point_id 覆盖旧记录。
func (c *Catalog) RecordIndexed(ctx context.Context, records []models.IndexedRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "point_id"}, {Name: "collection"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "natural_key", "aggregate_content", "aggregate_object", "payload", "updated_at"}),
		}).
		CreateInBatches(records, 200).Error
	if err != nil {
		return fmt.Errorf("写入索引目录失败: %w", err)
	}
	return nil
}

// CountByCollection 统计集合下的记录数
func (c *Catalog) CountByCollection(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&models.IndexedRecord{}).
		Where("collection = ?", collection).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("统计索引目录失败: %w", err)
	}
	return n, nil
}

// FindByPointID 按 point_id 查询，不存在返回 gorm.ErrRecordNotFound
func (c *Catalog) FindByPointID(ctx context.Context, collection, pointID string) (*models.IndexedRecord, error) {
	var rec models.IndexedRecord
	err := c.db.WithContext(ctx).
		Where("collection = ? AND point_id = ?", collection, pointID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
