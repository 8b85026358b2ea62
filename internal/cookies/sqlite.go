package cookies

import (
	"context"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"uestcauth/internal/errors"
)

// cookieRow cookie_records 表的一行，(domain, path, name) 唯一
type cookieRow struct {
	ID        uint       `gorm:"primaryKey"`
	Name      string     `gorm:"not null;uniqueIndex:idx_cookie_key"`
	Value     string     `gorm:"not null"`
	Domain    string     `gorm:"not null;uniqueIndex:idx_cookie_key"`
	Path      string     `gorm:"not null;uniqueIndex:idx_cookie_key"`
	Expires   *time.Time
	Secure    bool
	HTTPOnly  bool `gorm:"column:http_only"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (cookieRow) TableName() string {
	return "cookie_records"
}

// SQLiteStore 基于 SQLite 的 Cookie 后端，适合多个进程共享登录状态
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// NewSQLiteStore 打开（必要时创建）数据库并迁移表结构
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.ErrCookie(errors.CookieOpRead, path, err)
	}
	if err := db.AutoMigrate(&cookieRow{}); err != nil {
		return nil, errors.ErrCookie(errors.CookieOpWrite, path, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Load 读取全部记录
func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	var rows []cookieRow
	if err := s.db.WithContext(ctx).Order("domain, path, name").Find(&rows).Error; err != nil {
		return nil, errors.ErrCookie(errors.CookieOpRead, s.path, err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{
			Name:     row.Name,
			Value:    row.Value,
			Domain:   row.Domain,
			Path:     row.Path,
			Expires:  row.Expires,
			Secure:   row.Secure,
			HTTPOnly: row.HTTPOnly,
		})
	}
	return records, nil
}

// Save 在一个事务内替换全部记录
func (s *SQLiteStore) Save(ctx context.Context, records []Record) error {
	rows := make([]cookieRow, 0, len(records))
	for _, r := range records {
		if r.Domain == "" {
			continue
		}
		rows = append(rows, cookieRow{
			Name:     r.Name,
			Value:    r.Value,
			Domain:   r.Domain,
			Path:     r.Path,
			Expires:  r.Expires,
			Secure:   r.Secure,
			HTTPOnly: r.HTTPOnly,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&cookieRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return errors.ErrCookie(errors.CookieOpWrite, s.path, err)
	}
	return nil
}

// Remove 清空表
func (s *SQLiteStore) Remove(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&cookieRow{}).Error; err != nil {
		return errors.ErrCookie(errors.CookieOpWrite, s.path, err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
