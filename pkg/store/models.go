package store

import "time"

// Photo 图片记录，path 全局唯一
type Photo struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Path           string    `gorm:"type:varchar(1024);not null;uniqueIndex" json:"path"`
	Filename       string    `gorm:"type:varchar(255);not null;index" json:"filename"`
	FolderID       uint      `gorm:"index" json:"folder_id"`
	Size           int64     `json:"size"`
	LastModified   time.Time `json:"last_modified"`
	Description    string    `gorm:"type:text" json:"description"`
	Classification string    `gorm:"type:varchar(128);index" json:"classification"`
	ExtractedText  string    `gorm:"type:text" json:"extracted_text"`
	Thumbnail      string    `gorm:"type:text" json:"thumbnail,omitempty"` // data URI
	Processed      bool      `gorm:"not null;default:false;index" json:"processed"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (Photo) TableName() string {
	return "photos"
}

// Folder 文件夹记录。PhotoCount 只在上传时累加，删除图片不会回减
type Folder struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);not null;index" json:"name"`
	Path        string    `gorm:"type:varchar(1024);not null;uniqueIndex" json:"path"`
	PhotoCount  int       `gorm:"not null;default:0" json:"photo_count"`
	LastScanned time.Time `gorm:"index" json:"last_scanned"`
	Thumbnail   string    `gorm:"type:text" json:"thumbnail,omitempty"`
}

// TableName 指定表名
func (Folder) TableName() string {
	return "folders"
}

// FolderSummary 文件夹及其当前实际存储的图片数
type FolderSummary struct {
	Folder
	StoredPhotos int64 `json:"stored_photos"`
}
