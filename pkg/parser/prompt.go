package parser

import "strings"

// Categories 提示词中给定的分类集合
var Categories = []string{
	"People", "Animal", "Anime", "Plant", "Nature", "Architecture", "Food", "Travel",
	"Vehicle", "Art", "Sports", "Fashion", "Document", "Screenshot", "Music", DefaultClassification,
}

// ImagePrompt 发送给模型的固定指令，要求按三段模板输出
var ImagePrompt = `
You are an image analysis assistant. Please provide the following information about the image:

1.  **Description**: Describe the image in detail, covering the main subject, background, color palette, textures/patterns, and the emotions/mood evoked, ensuring a clear and vivid visualization.
2.  **Classification**: Classify the image into one of the following categories: ` + strings.Join(Categories, ", ") + `.
3.  **Text Extraction**: Extract all characters (numbers, alphabets, symbols) from the image, maintaining correct spacing. If no text is present, write "` + NoText + `".

Please format your response exactly as follows, with each item on a new line:

Description: [Your detailed image description here]
Classification: [One of the categories from the list]
Extracted Text: [The extracted characters here, or "` + NoText + `"]
`

// IsKnownCategory 判断分类是否属于已知集合（大小写不敏感）。
// 解析结果不会据此改写，仅供调用方参考。
func IsKnownCategory(label string) bool {
	for _, c := range Categories {
		if strings.EqualFold(c, strings.TrimSpace(label)) {
			return true
		}
	}
	return false
}
