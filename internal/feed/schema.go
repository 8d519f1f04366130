package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// RawTopic 是 feed 中一条经过类型校验的 topic，只在归一化之前存在
type RawTopic struct {
	TopicID     string
	ChannelTags []string
	Title       string
	TitleMap    TitleMap
}

// TitleMap 保留 JSON 文档中的键顺序；Go 的 map 没有稳定顺序
type TitleMap struct {
	Entries []TitleEntry
}

type TitleEntry struct {
	Key     string
	Variant Variant
}

func (m TitleMap) Len() int { return len(m.Entries) }

// First 返回文档顺序中的第一项
func (m TitleMap) First() (TitleEntry, bool) {
	if len(m.Entries) == 0 {
		return TitleEntry{}, false
	}
	return m.Entries[0], true
}

// VariantKind 是 title_map 值里的 type 标签
type VariantKind string

const (
	KindURL     VariantKind = "url"
	KindMention VariantKind = "mention"
	KindRaw     VariantKind = "raw"
)

// Variant 是 title_map 值的封闭集合：URLVariant / MentionVariant / RawVariant / UnknownVariant
type Variant interface {
	Kind() VariantKind
	isVariant()
}

// URLVariant 的键本身就是链接
type URLVariant struct {
	URL         string
	Title       string
	Description *string
}

type MentionVariant struct {
	Handle      string
	DisplayName *string
}

type RawVariant struct {
	Text string
}

// UnknownVariant 保留原始 type 标签，便于日志排查
type UnknownVariant struct {
	Tag string
}

func (URLVariant) Kind() VariantKind     { return KindURL }
func (MentionVariant) Kind() VariantKind { return KindMention }
func (RawVariant) Kind() VariantKind     { return KindRaw }
func (v UnknownVariant) Kind() VariantKind {
	return VariantKind(v.Tag)
}

func (URLVariant) isVariant()     {}
func (MentionVariant) isVariant() {}
func (RawVariant) isVariant()     {}
func (UnknownVariant) isVariant() {}

// ValidationError 列出 payload 中所有不合法的字段路径
type ValidationError struct {
	Paths []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("feed: invalid payload at %s", strings.Join(e.Paths, ", "))
}

func (e *ValidationError) add(path, reason string) {
	e.Paths = append(e.Paths, path+" ("+reason+")")
}

// ---------- wire shapes ----------

type topicsEnvelope struct {
	Data *struct {
		Topics *[]json.RawMessage `json:"topics"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type wireTopic struct {
	TopicID     *string          `json:"topic_id" validate:"required"`
	ChannelTags []string         `json:"channel_tags" validate:"required"`
	Title       *string          `json:"title" validate:"required"`
	TitleMap    *json.RawMessage `json:"title_map" validate:"required"`
}

type wireVariant struct {
	Type *string         `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

type wireURLData struct {
	Info *struct {
		Title       string  `json:"title"`
		Description *string `json:"description"`
	} `json:"info"`
}

type wireMentionData struct {
	DisplayName *string `json:"display_name"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 报错路径使用 json 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeTopics 校验 GraphQL 响应并转换为 RawTopic；任一字段不合法则整批拒绝
func DecodeTopics(payload []byte) ([]RawTopic, error) {
	var env topicsEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &ValidationError{Paths: []string{"$ (" + err.Error() + ")"}}
	}
	if len(env.Errors) > 0 {
		msgs := make([]string, 0, len(env.Errors))
		for _, e := range env.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, errors.Wrap(ErrFetch, "graphql errors: "+strings.Join(msgs, "; "))
	}
	if env.Data == nil || env.Data.Topics == nil {
		return nil, &ValidationError{Paths: []string{"data.topics (required)"}}
	}

	verr := &ValidationError{}
	raw := *env.Data.Topics
	topics := make([]RawTopic, 0, len(raw))
	for i, msg := range raw {
		t, ok := decodeTopic(fmt.Sprintf("data.topics[%d]", i), msg, verr)
		if ok {
			topics = append(topics, t)
		}
	}
	if len(verr.Paths) > 0 {
		return nil, verr
	}
	return topics, nil
}

func decodeTopic(path string, msg json.RawMessage, verr *ValidationError) (RawTopic, bool) {
	var w wireTopic
	if err := json.Unmarshal(msg, &w); err != nil {
		verr.add(path+typeErrorField(err), "type mismatch")
		return RawTopic{}, false
	}
	if err := validate.Struct(&w); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			verr.add(path, err.Error())
			return RawTopic{}, false
		}
		for _, fe := range fieldErrs {
			verr.add(path+"."+fe.Field(), fe.Tag())
		}
		return RawTopic{}, false
	}

	titleMap, ok := decodeTitleMap(path+".title_map", *w.TitleMap, verr)
	if !ok {
		return RawTopic{}, false
	}
	return RawTopic{
		TopicID:     *w.TopicID,
		ChannelTags: w.ChannelTags,
		Title:       *w.Title,
		TitleMap:    titleMap,
	}, true
}

// decodeTitleMap 用 token 流按文档顺序读取对象
func decodeTitleMap(path string, msg json.RawMessage, verr *ValidationError) (TitleMap, bool) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		verr.add(path, "expected object")
		return TitleMap{}, false
	}

	var (
		out  TitleMap
		seen = map[string]int{}
		ok   = true
	)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			verr.add(path, err.Error())
			return TitleMap{}, false
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			verr.add(path, err.Error())
			return TitleMap{}, false
		}

		entryPath := fmt.Sprintf("%s[%q]", path, key)
		v, vok := decodeVariant(entryPath, key, value, verr)
		if !vok {
			ok = false
			continue
		}
		// 与 JSON.parse 一致：重复的键保留首次出现的位置、最后一次的值
		if idx, dup := seen[key]; dup {
			out.Entries[idx].Variant = v
			continue
		}
		seen[key] = len(out.Entries)
		out.Entries = append(out.Entries, TitleEntry{Key: key, Variant: v})
	}
	return out, ok
}

func decodeVariant(path, key string, msg json.RawMessage, verr *ValidationError) (Variant, bool) {
	var w wireVariant
	if err := json.Unmarshal(msg, &w); err != nil {
		verr.add(path+typeErrorField(err), "type mismatch")
		return nil, false
	}
	if err := validate.Struct(&w); err != nil {
		verr.add(path+".type", "required")
		return nil, false
	}

	hasData := len(w.Data) > 0 && !bytes.Equal(bytes.TrimSpace(w.Data), []byte("null"))
	switch VariantKind(*w.Type) {
	case KindURL:
		v := URLVariant{URL: key}
		if hasData {
			var d wireURLData
			if err := json.Unmarshal(w.Data, &d); err != nil {
				verr.add(path+".data"+typeErrorField(err), "type mismatch")
				return nil, false
			}
			if d.Info != nil {
				v.Title = d.Info.Title
				v.Description = d.Info.Description
			}
		}
		return v, true
	case KindMention:
		v := MentionVariant{Handle: key}
		if hasData {
			var d wireMentionData
			if err := json.Unmarshal(w.Data, &d); err != nil {
				verr.add(path+".data"+typeErrorField(err), "type mismatch")
				return nil, false
			}
			v.DisplayName = d.DisplayName
		}
		return v, true
	case KindRaw:
		return RawVariant{Text: key}, true
	default:
		return UnknownVariant{Tag: *w.Type}, true
	}
}

func typeErrorField(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return "." + typeErr.Field
	}
	return ""
}
