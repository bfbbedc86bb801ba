package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// docNode 是富文本编辑器输出的 JSON 文档节点
type docNode struct {
	Type    string                 `json:"type"`
	Text    string                 `json:"text"`
	Attrs   map[string]interface{} `json:"attrs"`
	Content []docNode              `json:"content"`
}

var blockNodes = map[string]bool{
	"doc":            true,
	"paragraph":      true,
	"heading":        true,
	"blockquote":     true,
	"codeBlock":      true,
	"listItem":       true,
	"bulletList":     true,
	"orderedList":    true,
	"taskItem":       true,
	"taskList":       true,
	"horizontalRule": true,
	"image":          true,
}

// ConvertToPlainText 从评论内容中提取纯文本。
// 内容为 JSON 字符串时按 markdown 处理，兼容旧客户端。
func ConvertToPlainText(content json.RawMessage) string {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	if trimmed[0] == '"' {
		var md string
		if err := json.Unmarshal(trimmed, &md); err != nil {
			return ""
		}
		return MarkdownToPlainText(md)
	}

	var root docNode
	if err := json.Unmarshal(trimmed, &root); err != nil {
		return ""
	}

	var sb strings.Builder
	writeNode(&sb, &root)
	return normalizeLines(sb.String())
}

func writeNode(sb *strings.Builder, n *docNode) {
	switch n.Type {
	case "text":
		sb.WriteString(n.Text)
		return
	case "hardBreak":
		sb.WriteByte('\n')
		return
	case "mention", "emoji":
		if label, ok := n.Attrs["label"].(string); ok {
			sb.WriteString(label)
		} else if name, ok := n.Attrs["name"].(string); ok {
			sb.WriteString(name)
		}
		return
	}

	for i := range n.Content {
		writeNode(sb, &n.Content[i])
	}
	if blockNodes[n.Type] {
		sb.WriteByte('\n')
	}
}

// TruncateRunes 按字符截断，返回是否发生了截断
func TruncateRunes(s string, max int) (string, bool) {
	if max <= 0 {
		return "", s != ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}

// Preview 生成邮件中的内容预览，只有截断时才追加省略号
func Preview(s string, max int) string {
	out, truncated := TruncateRunes(s, max)
	if truncated {
		return out + "..."
	}
	return out
}
