package parser

import (
	"regexp"
	"strings"
)

const (
	// DefaultClassification 缺少分类时的默认值
	DefaultClassification = "Other"
	// NoText 无文字时的哨兵值
	NoText = "N/A"
)

var (
	descriptionPattern    = regexp.MustCompile(`(?s)Description:(.*?)Classification:`)
	classificationPattern = regexp.MustCompile(`Classification:([^\n]*)`)
	extractedTextPattern  = regexp.MustCompile(`(?s)Extracted Text:(.*)`)
)

// Result 从模型输出中解析出的三个字段
type Result struct {
	Description    string `json:"description"`
	Classification string `json:"classification"`
	ExtractedText  string `json:"extracted_text"`
}

// Parse 按固定模板解析模型输出，任何输入都不会失败，缺失字段使用默认值
func Parse(text string) Result {
	res := Result{
		Classification: DefaultClassification,
		ExtractedText:  NoText,
	}

	if m := descriptionPattern.FindStringSubmatch(text); m != nil {
		res.Description = strings.TrimSpace(m[1])
	}

	if m := classificationPattern.FindStringSubmatch(text); m != nil {
		if c := strings.TrimSpace(m[1]); c != "" {
			res.Classification = c
		}
	}

	if m := extractedTextPattern.FindStringSubmatch(text); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			res.ExtractedText = t
		}
	}

	return res
}
