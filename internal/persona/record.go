// Package persona resolves patient identifiers to normalized persona records.
//
// Records come from a dataset source (a JSON file or a SQLite database) with a
// generated static catalog as fallback. Field aliases used by older datasets
// are resolved once, in Normalize, so the rest of the service only sees the
// canonical shape.
package persona

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/counselsim/internal/domain"
)

// Portrait defaults applied when a dataset record omits a field.
const (
	DefaultAge           = "28"
	DefaultGender        = "男"
	DefaultOccupation    = "未知"
	DefaultMaritalStatus = "未婚"
	DefaultSymptoms      = "工作焦虑，失眠"
)

// Record is a normalized dataset entry.
type Record struct {
	ID                    string
	Portrait              domain.Portrait
	Report                map[string]any
	PreviousConversations []any
	SeekerPrompt          string
	Chain                 domain.Chain
}

// Seed converts the record into the input of a new session.
func (r Record) Seed() domain.SessionSeed {
	return domain.SessionSeed{
		Portrait:              r.Portrait,
		Report:                r.Report,
		PreviousConversations: r.PreviousConversations,
		SeekerPrompt:          r.SeekerPrompt,
		Chain:                 r.Chain,
	}
}

// Source is a store of raw persona records.
type Source interface {
	IDs(ctx context.Context) ([]string, error)
	Lookup(ctx context.Context, id string) (Record, error)
}

// Normalize maps a decoded dataset record onto Record.
func Normalize(raw map[string]any) (Record, error) {
	rec := Record{
		ID:       stringify(raw["id"]),
		Portrait: NormalizePortrait(asMap(raw["portrait"])),
		Report:   asMap(raw["report"]),
	}
	if rec.Report == nil {
		rec.Report = map[string]any{}
	}

	prev, ok := first(raw, "previous_conversations", "conversation").([]any)
	if !ok {
		prev = []any{}
	}
	rec.PreviousConversations = prev

	for _, key := range []string{"seeker_prompt", "seek_prompt", "prompt", "system"} {
		if s, ok := raw[key].(string); ok && s != "" {
			rec.SeekerPrompt = s
			break
		}
	}
	if rec.SeekerPrompt == "" {
		rec.SeekerPrompt = DefaultSeekerPrompt(rec.Portrait)
	}

	chain, err := NormalizeChain(first(raw, "chain", "complaint_chain"))
	if err != nil {
		return Record{}, fmt.Errorf("record %q: %w", rec.ID, err)
	}
	rec.Chain = chain
	return rec, nil
}

// NormalizePortrait fills absent portrait fields with defaults. Numeric
// values such as ages are rendered as strings.
func NormalizePortrait(raw map[string]any) domain.Portrait {
	marital := raw["martial_status"]
	if marital == nil {
		marital = raw["marital_status"]
	}
	return domain.Portrait{
		Age:           orDefault(raw["age"], DefaultAge),
		Gender:        orDefault(raw["gender"], DefaultGender),
		Occupation:    orDefault(raw["occupation"], DefaultOccupation),
		MaritalStatus: orDefault(marital, DefaultMaritalStatus),
		Symptoms:      orDefault(raw["symptoms"], DefaultSymptoms),
	}
}

// NormalizeChain accepts a list whose items are plain strings or
// {stage, content} objects. Stages default to the 1-based position.
func NormalizeChain(v any) (domain.Chain, error) {
	if v == nil {
		return domain.Chain{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("chain is %T: %w", v, domain.ErrInvalidFormat)
	}

	chain := make(domain.Chain, 0, len(items))
	for i, item := range items {
		switch it := item.(type) {
		case string:
			chain = append(chain, domain.ChainStage{Stage: i + 1, Content: it})
		case map[string]any:
			content, ok := it["content"].(string)
			if !ok {
				return nil, fmt.Errorf("chain item %d has no content: %w", i, domain.ErrInvalidFormat)
			}
			stage := i + 1
			if n, ok := it["stage"].(float64); ok {
				stage = int(n)
			}
			chain = append(chain, domain.ChainStage{Stage: stage, Content: content})
		default:
			return nil, fmt.Errorf("chain item %d is %T: %w", i, item, domain.ErrInvalidFormat)
		}
	}
	return chain, nil
}

// LenientChain is NormalizeChain for user-supplied bundles: anything that is
// not a list becomes an empty chain, and items that are neither strings nor
// objects with content are kept as their text form.
func LenientChain(v any) domain.Chain {
	items, ok := v.([]any)
	if !ok {
		return domain.Chain{}
	}
	chain := make(domain.Chain, 0, len(items))
	for i, item := range items {
		stage := domain.ChainStage{Stage: i + 1}
		switch it := item.(type) {
		case map[string]any:
			stage.Content = stringify(it["content"])
			if n, ok := it["stage"].(float64); ok {
				stage.Stage = int(n)
			}
		default:
			stage.Content = stringify(it)
		}
		chain = append(chain, stage)
	}
	return chain
}

// DefaultSeekerPrompt renders the role-play prompt used when a record has none.
func DefaultSeekerPrompt(p domain.Portrait) string {
	var b strings.Builder
	b.WriteString("# Role: 心理咨询患者\n\n")
	b.WriteString("## Profile\n")
	fmt.Fprintf(&b, "- 性别: %s\n- 年龄: %s\n- 职业: %s\n- 婚姻状况: %s\n\n",
		valueOr(p.Gender, "未知"), valueOr(p.Age, "未知"), valueOr(p.Occupation, "未知"), valueOr(p.MaritalStatus, "未知"))
	b.WriteString("## Situation\n")
	b.WriteString("- 你是一个有心理障碍的患者，正在向心理咨询师求助，在咨询师的引导和帮助下解决自己的困惑\n")
	fmt.Fprintf(&b, "- 你的主要症状包括：%s\n\n", valueOr(p.Symptoms, "心理困扰"))
	b.WriteString("## Characteristics of speaking style\n")
	b.WriteString("- 情绪低落，寡言少语，回复风格表现心情不振奋\n")
	b.WriteString("- 表达情绪真实，通过具体实例传达内心感受\n")
	b.WriteString("- 对自身的疑惑和不安能够坦诚表达\n")
	b.WriteString("- 采用反思的语气，愿意探讨内心深处的问题\n")
	b.WriteString("- 对解决方案表现出一定的开放性和期待\n\n")
	b.WriteString("## Constraints\n")
	b.WriteString("- 你对咨询师有一种抵触情绪，不太愿意接受他人的帮助\n")
	b.WriteString("- 你是一个遇到心理健康问题的求助者，需要真正的帮助和情绪支持，如果咨询师的回应不理想，要勇于表达自己的困惑和不满\n")
	b.WriteString("- 一次不能提及过多的症状信息，每轮最多讨论一个症状\n")
	b.WriteString("- 你应该用含糊和口语化的方式表达你的症状，并将其与你的生活经历联系起来，不要使用专业术语\n\n")
	b.WriteString("## OutputFormat:\n")
	b.WriteString("- 语言：Chinese\n- 不超过200字\n- 口语对话风格，仅包含对话内容")
	return b.String()
}

func first(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func orDefault(v any, def string) string {
	if v == nil {
		return def
	}
	return stringify(v)
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// stringify renders scalar JSON values. Whole numbers lose their fraction.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
