package thumbnail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth  = 300
	DefaultMaxHeight = 300
	DefaultQuality   = 0.8
)

// ErrUnsupportedFormat 无法解码的图片格式（例如 SVG）
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Options 缩略图尺寸与质量
type Options struct {
	MaxWidth  int
	MaxHeight int
	// Quality JPEG 质量，取值 (0, 1]
	Quality float64
}

func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	return o
}

// Fit 按宽高缩放比例的较小值等比缩放，只缩小不放大
func Fit(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	ratio := min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	if ratio >= 1 {
		return width, height
	}
	w := max(int(float64(width)*ratio), 1)
	h := max(int(float64(height)*ratio), 1)
	return w, h
}

// Generate 解码图片并重新编码为缩小后的 JPEG，返回 data URI
func Generate(data []byte, opts Options) (string, error) {
	opts = opts.withDefaults()

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return "", ErrUnsupportedFormat
		}
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), opts.MaxWidth, opts.MaxHeight)
	if w == 0 {
		return "", fmt.Errorf("failed to decode image: empty %s image", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG 没有透明通道，先铺白底
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: int(opts.Quality * 100)}); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode 解析 Generate 生成的 data URI
func Decode(dataURI string) (image.Image, error) {
	const prefix = "data:image/jpeg;base64,"
	if len(dataURI) < len(prefix) || dataURI[:len(prefix)] != prefix {
		return nil, errors.New("not a jpeg data uri")
	}
	raw, err := base64.StdEncoding.DecodeString(dataURI[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("failed to decode data uri: %w", err)
	}
	return jpeg.Decode(bytes.NewReader(raw))
}
