package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Options 存储配置
type Options struct {
	// Path SQLite 数据库文件路径
	Path string
	// SlowThreshold 慢查询阈值，默认 200ms
	SlowThreshold time.Duration
	// LogLevel gorm 日志级别，默认只记录错误
	LogLevel logger.LogLevel
}

// Store 基于 gorm + SQLite 的图片与文件夹存储
type Store struct {
	db   *gorm.DB
	path string
}

// Open 打开（必要时创建）数据库并迁移表结构
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("store path is required")
	}
	if dir := filepath.Dir(opts.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if opts.SlowThreshold == 0 {
		opts.SlowThreshold = 200 * time.Millisecond
	}
	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Error
	}

	// modernc.org/sqlite 注册的驱动名为 "sqlite"
	dsn := opts.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	dialector := sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn})

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(logrus.StandardLogger(), logger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite 单写者，串行化连接避免并发写入时的 SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Folder{}, &Photo{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logrus.WithField("db_path", opts.Path).Info("Photo store opened")
	return &Store{db: db, path: opts.Path}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 检查数据库是否可用
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertPhoto 按 path 插入或更新图片，冲突判断由唯一索引在单条语句内完成。
// 返回后 p.ID 为数据库中的记录 ID。
func (s *Store) UpsertPhoto(ctx context.Context, p *Photo) error {
	if p.Path == "" {
		return errors.New("photo path is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"filename", "folder_id", "size", "last_modified", "description",
				"classification", "extracted_text", "thumbnail", "processed", "created_at",
			}),
		}).Omit("id").Create(p).Error
		if err != nil {
			return fmt.Errorf("failed to upsert photo: %w", err)
		}

		var saved Photo
		if err := tx.Select("id").Where("path = ?", p.Path).Take(&saved).Error; err != nil {
			return fmt.Errorf("failed to reload photo: %w", err)
		}
		p.ID = saved.ID
		return nil
	})
}

// RecordFolderUpload 首次出现的路径创建文件夹，已存在则累加 added 并刷新扫描时间
func (s *Store) RecordFolderUpload(ctx context.Context, path, name string, added int, at time.Time) (*Folder, error) {
	if at.IsZero() {
		at = time.Now()
	}

	var folder Folder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f := &Folder{Name: name, Path: path, PhotoCount: added, LastScanned: at}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.Assignments(map[string]any{
				"photo_count":  gorm.Expr("photo_count + ?", added),
				"last_scanned": at,
			}),
		}).Omit("id").Create(f).Error
		if err != nil {
			return fmt.Errorf("failed to upsert folder: %w", err)
		}
		if err := tx.Where("path = ?", path).Take(&folder).Error; err != nil {
			return fmt.Errorf("failed to reload folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

// PhotoByPath 按唯一路径查找图片
func (s *Store) PhotoByPath(ctx context.Context, path string) (*Photo, error) {
	var p Photo
	if err := s.db.WithContext(ctx).Where("path = ?", path).Take(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// PhotoByID 按 ID 查找图片
func (s *Store) PhotoByID(ctx context.Context, id uint) (*Photo, error) {
	var p Photo
	if err := s.db.WithContext(ctx).Take(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// PhotosByFolder 文件夹下的全部图片，按插入顺序
func (s *Store) PhotosByFolder(ctx context.Context, folderID uint) ([]Photo, error) {
	var photos []Photo
	err := s.db.WithContext(ctx).Where("folder_id = ?", folderID).Order("id ASC").Find(&photos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list folder photos: %w", err)
	}
	return photos, nil
}

// PhotosByClassification 指定分类的全部已处理图片，最新的在前
func (s *Store) PhotosByClassification(ctx context.Context, classification string) ([]Photo, error) {
	var photos []Photo
	err := s.db.WithContext(ctx).
		Where("classification = ? AND processed = ?", classification, true).
		Order("created_at DESC").Order("id DESC").
		Find(&photos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list photos by classification: %w", err)
	}
	return photos, nil
}

// RecentPhotos 最近处理完成的图片，最新的在前；limit <= 0 表示不限制
func (s *Store) RecentPhotos(ctx context.Context, limit int) ([]Photo, error) {
	q := s.db.WithContext(ctx).Where("processed = ?", true).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var photos []Photo
	if err := q.Find(&photos).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent photos: %w", err)
	}
	return photos, nil
}

// ProcessedPhotos 全部已处理图片，按插入顺序
func (s *Store) ProcessedPhotos(ctx context.Context) ([]Photo, error) {
	var photos []Photo
	err := s.db.WithContext(ctx).Where("processed = ?", true).Order("id ASC").Find(&photos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list processed photos: %w", err)
	}
	return photos, nil
}

// AllPhotos 全部图片（包括未处理的），最新的在前
func (s *Store) AllPhotos(ctx context.Context) ([]Photo, error) {
	var photos []Photo
	err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&photos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	return photos, nil
}

// Classifications 当前存储中出现过的全部分类（包括未处理图片）
func (s *Store) Classifications(ctx context.Context) ([]string, error) {
	var labels []string
	err := s.db.WithContext(ctx).Model(&Photo{}).
		Distinct("classification").
		Where("classification <> ''").
		Order("classification ASC").
		Pluck("classification", &labels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	return labels, nil
}

// FolderByPath 按唯一路径查找文件夹
func (s *Store) FolderByPath(ctx context.Context, path string) (*Folder, error) {
	var f Folder
	if err := s.db.WithContext(ctx).Where("path = ?", path).Take(&f).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// ListFolders 全部文件夹，附带实际存储的图片数，最近扫描的在前
func (s *Store) ListFolders(ctx context.Context) ([]FolderSummary, error) {
	var folders []FolderSummary
	err := s.db.WithContext(ctx).Model(&Folder{}).
		Select("folders.*, (SELECT COUNT(*) FROM photos WHERE photos.folder_id = folders.id) AS stored_photos").
		Order("last_scanned DESC").
		Scan(&folders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// DeletePhoto 删除单张图片，不回减文件夹计数；不存在时返回 ErrNotFound
func (s *Store) DeletePhoto(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&Photo{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete photo %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("photo %d: %w", id, ErrNotFound)
	}
	return nil
}

// Clear 清空全部图片和文件夹
func (s *Store) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Photo{}).Error; err != nil {
			return fmt.Errorf("failed to clear photos: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Folder{}).Error; err != nil {
			return fmt.Errorf("failed to clear folders: %w", err)
		}
		return nil
	})
}

// Stats 存储中的图片与文件夹数量
func (s *Store) Stats(ctx context.Context) (photos, processed, folders int64, err error) {
	db := s.db.WithContext(ctx)
	if err = db.Model(&Photo{}).Count(&photos).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count photos: %w", err)
	}
	if err = db.Model(&Photo{}).Where("processed = ?", true).Count(&processed).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count processed photos: %w", err)
	}
	if err = db.Model(&Folder{}).Count(&folders).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count folders: %w", err)
	}
	return photos, processed, folders, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
