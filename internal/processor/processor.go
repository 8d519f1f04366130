package processor

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/LJTian/FFNewsAlerts/internal/feed"
)

const (
	// TitleSuffix 拼在频道标签后面作为展示标题
	TitleSuffix = " - Fantasy Football Alerts"
	// DefaultAuthor 描述里没有 @handle 时使用的署名
	DefaultAuthor = "Sleeper"

	contentTag = "content"
)

// NewsRecord 是写入存储层前的统一结构
type NewsRecord struct {
	NewsIdentifier string
	Title          string
	Description    string
	URL            string
	Author         string
	ChannelTags    []string
	VariantKind    string
}

// handle 在第一个空白处结束；RE2 的 \s 只含 ASCII 空白，补上 \v、Unicode 分隔符和 BOM
var handlePattern = regexp.MustCompile(`@[^\s\v\p{Z}\x{FEFF}]+`)

// ExtractAuthor 取文本中第一个 @handle 形式的片段，没有则返回 fallback。
// 这是启发式规则，单独成函数便于替换。
func ExtractAuthor(text, fallback string) string {
	if m := handlePattern.FindString(text); m != "" {
		return m
	}
	return fallback
}

// DisplayTitle 首字母大写后追加固定后缀
func DisplayTitle(tag string) string {
	r, size := utf8.DecodeRuneInString(tag)
	if r == utf8.RuneError && size <= 1 {
		return tag + TitleSuffix
	}
	return string(unicode.ToUpper(r)) + tag[size:] + TitleSuffix
}

// Normalize 把一条 topic 映射成 NewsRecord，第二个返回值为 false 表示跳过
func Normalize(topic feed.RawTopic) (NewsRecord, bool) {
	for _, tag := range topic.ChannelTags {
		if tag == contentTag {
			return NewsRecord{}, false
		}
	}
	if len(topic.ChannelTags) == 0 {
		return NewsRecord{}, false
	}

	rec := NewsRecord{
		NewsIdentifier: topic.TopicID,
		Title:          DisplayTitle(topic.ChannelTags[0]),
		ChannelTags:    topic.ChannelTags,
	}

	entry, ok := topic.TitleMap.First()
	if !ok {
		rec.Description = topic.Title
		rec.Author = ExtractAuthor(rec.Description, DefaultAuthor)
		return rec, true
	}

	rec.VariantKind = string(entry.Variant.Kind())
	switch v := entry.Variant.(type) {
	case feed.URLVariant:
		// 缺少必填内容时跳过，而不是落一条残缺记录占住这个 id
		if v.Description == nil {
			return NewsRecord{}, false
		}
		rec.Description = *v.Description
		rec.URL = v.URL
		rec.Author = ExtractAuthor(rec.Description, DefaultAuthor)
	case feed.MentionVariant:
		if v.DisplayName == nil {
			return NewsRecord{}, false
		}
		rec.Description = topic.Title
		rec.Author = *v.DisplayName
	case feed.RawVariant:
		rec.Description = topic.Title
		rec.Author = v.Text
	default:
		rec.Description = topic.Title
	}
	return rec, true
}

// Processor 批量归一化并在单个 payload 内按 id 去重
type Processor struct{}

func New() *Processor {
	return &Processor{}
}

// Process 返回保留的记录以及被跳过的数量
func (p *Processor) Process(topics []feed.RawTopic) ([]NewsRecord, int) {
	out := make([]NewsRecord, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	skipped := 0

	for _, t := range topics {
		rec, ok := Normalize(t)
		if !ok {
			skipped++
			continue
		}
		id := rec.NewsIdentifier
		if _, dup := seen[id]; dup {
			skipped++
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rec)
	}
	return out, skipped
}
