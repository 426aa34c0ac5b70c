package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// IndividualUploadsPath 零散上传文件所属的虚拟文件夹路径
	IndividualUploadsPath = "__individual_uploads__"
	// IndividualUploadsName 零散上传文件夹的显示名
	IndividualUploadsName = "Individual Uploads"
)

// File 待处理的单个文件
type File struct {
	Name string
	// RelativePath 文件夹上传时相对于所选根目录的路径（含根目录名），零散上传为空
	RelativePath string
	MimeType     string
	Size         int64
	LastModified time.Time
	Open         func() (io.ReadCloser, error)
}

// BytesFile 用内存中的数据构造 File
func BytesFile(name, relativePath, mimeType string, data []byte, modTime time.Time) File {
	return File{
		Name:         name,
		RelativePath: relativePath,
		MimeType:     mimeType,
		Size:         int64(len(data)),
		LastModified: modTime,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// DetectMime 识别文件内容的 MIME 类型，忽略参数部分
func DetectMime(head []byte) string {
	m := mimetype.Detect(head).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}

// ScanDir 遍历目录，相对路径以目录名开头，跳过隐藏文件和目录
func ScanDir(root string) ([]File, error) {
	root = filepath.Clean(root)
	base := filepath.Base(root)

	var files []File
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		mt, err := mimetype.DetectFile(p)
		if err != nil {
			return fmt.Errorf("failed to detect type of %s: %w", p, err)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		filePath := p
		files = append(files, File{
			Name:         d.Name(),
			RelativePath: path.Join(base, filepath.ToSlash(rel)),
			MimeType:     strings.TrimSpace(strings.SplitN(mt.String(), ";", 2)[0]),
			Size:         info.Size(),
			LastModified: info.ModTime(),
			Open: func() (io.ReadCloser, error) {
				return os.Open(filePath)
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}
	return files, nil
}

// folderFor 决定本次上传对应的文件夹路径与名称：
// 有相对路径时取第一个文件的首段目录，否则归入零散上传文件夹
func folderFor(files []File, label string) (folderPath, folderName string) {
	if len(files) > 0 && files[0].RelativePath != "" {
		rel := strings.TrimPrefix(filepath.ToSlash(files[0].RelativePath), "/")
		folderPath = strings.SplitN(rel, "/", 2)[0]
		folderName = strings.TrimSpace(label)
		if folderName == "" {
			folderName = folderPath
		}
		return folderPath, folderName
	}
	return IndividualUploadsPath, IndividualUploadsName
}

// photoPath 图片的唯一存储路径
func photoPath(f File, folderPath string) string {
	if f.RelativePath != "" {
		return strings.TrimPrefix(filepath.ToSlash(f.RelativePath), "/")
	}
	return folderPath + "/" + f.Name
}
