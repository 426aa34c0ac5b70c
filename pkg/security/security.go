package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	// MaxFileSize 单个文件大小上限（50MB）
	MaxFileSize int64 = 50 * 1024 * 1024
	// MaxBatchSize 单批次文件数量上限
	MaxBatchSize = 100

	maxQueryLength  = 1000
	maxAPIKeyLength = 100
)

// AllowedImageTypes 允许上传的图片 MIME 类型
var AllowedImageTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/bmp",
	"image/svg+xml",
}

var (
	traversalPattern   = regexp.MustCompile(`\.\.`)
	invalidCharPattern = regexp.MustCompile(`[<>:"|?*]`)
	executablePattern  = regexp.MustCompile(`(?i)\.(exe|bat|cmd|com|pif|scr|vbs|js)$`)
	reservedPattern    = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[1-9]|lpt[1-9])$`)

	htmlCharPattern  = regexp.MustCompile(`[<>"']`)
	jsProtoPattern   = regexp.MustCompile(`(?i)javascript:`)
	dataProtoPattern = regexp.MustCompile(`(?i)data:`)
	apiKeyPattern    = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
)

// ErrBatchTooLarge 批次文件数超过上限
var ErrBatchTooLarge = errors.New("batch too large")

// FileInfo 待校验文件的基本信息
type FileInfo struct {
	Name     string
	MimeType string
	Size     int64
}

// ValidationError 校验失败原因
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

// Rejection 被排除的文件及原因
type Rejection struct {
	File FileInfo
	Err  *ValidationError
}

// BatchResult 批量校验结果
type BatchResult struct {
	Valid    []int // 合法文件在输入中的下标，保持原始顺序
	Rejected []Rejection
}

// IsAllowedType 判断 MIME 类型是否在白名单中
func IsAllowedType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, t := range AllowedImageTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

// ValidateImageFile 校验单个文件，返回 nil 表示合法
func ValidateImageFile(f FileInfo) error {
	if !IsAllowedType(f.MimeType) {
		return &ValidationError{
			Name:   f.Name,
			Reason: fmt.Sprintf("file type %q is not allowed, only image files are permitted", f.MimeType),
		}
	}

	if f.Size > MaxFileSize {
		return &ValidationError{
			Name: f.Name,
			Reason: fmt.Sprintf("file size %s exceeds maximum allowed size of %s",
				humanize.IBytes(uint64(f.Size)), humanize.IBytes(uint64(MaxFileSize))),
		}
	}

	if HasSuspiciousFilename(f.Name) {
		return &ValidationError{Name: f.Name, Reason: "filename contains suspicious characters"}
	}

	return nil
}

// ValidateBatch 校验批次大小
func ValidateBatch(count int) error {
	if count > MaxBatchSize {
		return fmt.Errorf("%w: %d files exceeds maximum of %d", ErrBatchTooLarge, count, MaxBatchSize)
	}
	return nil
}

// ValidateFiles 先校验批次大小，再逐个校验文件。
// 批次超限时直接返回错误，不做任何单文件校验。
func ValidateFiles(files []FileInfo) (*BatchResult, error) {
	if err := ValidateBatch(len(files)); err != nil {
		return nil, err
	}

	res := &BatchResult{}
	for i, f := range files {
		if err := ValidateImageFile(f); err != nil {
			var vErr *ValidationError
			errors.As(err, &vErr)
			res.Rejected = append(res.Rejected, Rejection{File: f, Err: vErr})
			continue
		}
		res.Valid = append(res.Valid, i)
	}
	return res, nil
}

// HasSuspiciousFilename 检查目录穿越、非法字符、可执行扩展名和保留设备名
func HasSuspiciousFilename(name string) bool {
	if traversalPattern.MatchString(name) ||
		invalidCharPattern.MatchString(name) ||
		executablePattern.MatchString(name) {
		return true
	}

	// CON 与 CON.jpg 在 Windows 上同样指向设备
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return reservedPattern.MatchString(name) || reservedPattern.MatchString(stem)
}

// LimitQuery 去掉首尾空白并按字符数截断查询，内容原样保留
func LimitQuery(input string) string {
	s := strings.TrimSpace(input)
	if r := []rune(s); len(r) > maxQueryLength {
		s = string(r[:maxQueryLength])
	}
	return s
}

// SanitizeQuery 去掉标记和脚本协议后的查询，用于日志等展示场景，不用于匹配
func SanitizeQuery(input string) string {
	s := htmlCharPattern.ReplaceAllString(input, "")
	s = jsProtoPattern.ReplaceAllString(s, "")
	s = dataProtoPattern.ReplaceAllString(s, "")
	return LimitQuery(s)
}

// SanitizeAPIKey 只保留 API Key 中的合法字符
func SanitizeAPIKey(key string) string {
	s := apiKeyPattern.ReplaceAllString(key, "")
	if len(s) > maxAPIKeyLength {
		s = s[:maxAPIKeyLength]
	}
	return s
}
