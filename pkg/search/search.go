package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mozhou-tech/photo-search-ai/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRecentLimit 空查询返回的最近图片数
	DefaultRecentLimit = 50
	// DefaultMaxResults 搜索结果上限
	DefaultMaxResults = 100

	phraseScore        = 100
	descriptionScore   = 10
	wordStartBonus     = 5
	filenameScore      = 5
	extractedTextScore = 15
	minTermLength      = 3
)

// PhotoSource 搜索所需的存储查询
type PhotoSource interface {
	RecentPhotos(ctx context.Context, limit int) ([]store.Photo, error)
	ProcessedPhotos(ctx context.Context) ([]store.Photo, error)
	PhotosByClassification(ctx context.Context, classification string) ([]store.Photo, error)
	PhotosByFolder(ctx context.Context, folderID uint) ([]store.Photo, error)
	Classifications(ctx context.Context) ([]string, error)
}

// Options 搜索配置
type Options struct {
	RecentLimit int
	MaxResults  int
}

// Engine 在已处理图片上做本地打分排序，不依赖任何索引
type Engine struct {
	source      PhotoSource
	recentLimit int
	maxResults  int
}

// Result 带分数的搜索结果
type Result struct {
	Photo store.Photo `json:"photo"`
	Score int         `json:"score"`
}

// New 创建搜索引擎
func New(source PhotoSource, opts Options) *Engine {
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultRecentLimit
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return &Engine{
		source:      source,
		recentLimit: opts.RecentLimit,
		maxResults:  opts.MaxResults,
	}
}

// Search 按查询返回排好序的已处理图片
func (e *Engine) Search(ctx context.Context, query string) ([]store.Photo, error) {
	results, err := e.Rank(ctx, query)
	if err != nil {
		return nil, err
	}
	photos := make([]store.Photo, len(results))
	for i, r := range results {
		photos[i] = r.Photo
	}
	return photos, nil
}

// Rank 与 Search 相同，但保留分数。查询按原文匹配，空查询直接返回最近图片，分数为 0
func (e *Engine) Rank(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		photos, err := e.source.RecentPhotos(ctx, e.recentLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load recent photos: %w", err)
		}
		results := make([]Result, len(photos))
		for i, p := range photos {
			results[i] = Result{Photo: p}
		}
		return results, nil
	}

	candidates, err := e.source.ProcessedPhotos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed photos: %w", err)
	}

	terms := Tokenize(query)
	var results []Result
	for _, p := range candidates {
		if !p.Processed {
			continue
		}
		if score, ok := Score(query, terms, p); ok {
			results = append(results, Result{Photo: p, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > e.maxResults {
		results = results[:e.maxResults]
	}

	logrus.WithFields(logrus.Fields{
		"terms":      len(terms),
		"candidates": len(candidates),
		"matched":    len(results),
	}).Debug("Search completed")
	return results, nil
}

// Tokenize 小写化并按空白切分，只保留长度大于 2 的词
func Tokenize(query string) []string {
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(t)) >= minTermLength {
			terms = append(terms, t)
		}
	}
	return terms
}

// Score 计算单张图片的得分。
// 完整查询出现在描述、文件名或提取文字中时得 100 分并视为覆盖全部词；
// 否则逐词累加，且每个词至少要在一个字段中出现。
func Score(query string, terms []string, p store.Photo) (int, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	description := strings.ToLower(p.Description)
	filename := strings.ToLower(p.Filename)
	extracted := strings.ToLower(p.ExtractedText)

	if q != "" && (strings.Contains(description, q) || strings.Contains(filename, q) || strings.Contains(extracted, q)) {
		return phraseScore, true
	}
	if len(terms) == 0 {
		return 0, false
	}

	score := 0
	for _, term := range terms {
		matched := false

		if n := strings.Count(description, term); n > 0 {
			matched = true
			score += n * descriptionScore
			if strings.HasPrefix(description, term) || strings.Contains(description, " "+term) {
				score += wordStartBonus
			}
		}
		if strings.Contains(filename, term) {
			matched = true
			score += filenameScore
		}
		if strings.Contains(extracted, term) {
			matched = true
			score += extractedTextScore
		}

		if !matched {
			return 0, false
		}
	}
	return score, score > 0
}

// ByClassification 指定分类的全部已处理图片，最新的在前，不打分；分类为空时返回全部已处理图片
func (e *Engine) ByClassification(ctx context.Context, classification string) ([]store.Photo, error) {
	if strings.TrimSpace(classification) == "" {
		return e.source.RecentPhotos(ctx, 0)
	}
	return e.source.PhotosByClassification(ctx, classification)
}

// ByFolder 文件夹下的全部图片
func (e *Engine) ByFolder(ctx context.Context, folderID uint) ([]store.Photo, error) {
	return e.source.PhotosByFolder(ctx, folderID)
}

// Recent 最近处理完成的图片
func (e *Engine) Recent(ctx context.Context, limit int) ([]store.Photo, error) {
	if limit <= 0 {
		limit = e.recentLimit
	}
	return e.source.RecentPhotos(ctx, limit)
}

// Classifications 存储中出现过的全部分类
func (e *Engine) Classifications(ctx context.Context) ([]string, error) {
	return e.source.Classifications(ctx)
}
