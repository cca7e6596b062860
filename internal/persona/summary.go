package persona

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/ashureev/counselsim/internal/domain"
)

// Difficulty levels shown in the patient list.
const (
	DifficultyBasic        = "初级"
	DifficultyIntermediate = "中级"
	DifficultyAdvanced     = "高级"
)

const defaultCaseTitle = "心理咨询案例"

var advancedSymptoms = regexp.MustCompile(`精神|幻听|双相`)

// Summary is the patient list projection.
type Summary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Age         string   `json:"age"`
	Gender      string   `json:"gender"`
	Occupation  string   `json:"occupation"`
	Symptoms    []string `json:"symptoms"`
	CaseTitle   string   `json:"case_title"`
	Difficulty  string   `json:"difficulty"`
	Description string   `json:"description"`
}

// Summarize projects a record for listing.
func Summarize(r Record) Summary {
	p := r.Portrait

	symptoms := []string{}
	for _, s := range strings.Split(p.Symptoms, ";") {
		if s = strings.TrimSpace(s); s != "" {
			symptoms = append(symptoms, s)
		}
	}

	title, _ := r.Report["案例标题"].(string)
	if title == "" {
		title = defaultCaseTitle
	}

	var categories []string
	if list, ok := r.Report["案例类别"].([]any); ok {
		for _, c := range list {
			if len(categories) == 2 {
				break
			}
			categories = append(categories, stringify(c))
		}
	}
	topic := strings.Join(categories, " ")
	if topic == "" {
		topic = "心理健康"
	}

	return Summary{
		ID:          r.ID,
		Name:        p.Gender + "性求助者",
		Age:         p.Age,
		Gender:      p.Gender,
		Occupation:  p.Occupation,
		Symptoms:    symptoms,
		CaseTitle:   title,
		Difficulty:  Difficulty(p.Symptoms),
		Description: p.Age + "岁" + p.Gender + "性，" + p.Occupation + "，主要涉及" + topic + "问题",
	}
}

// Difficulty grades a case from its symptom text.
func Difficulty(symptoms string) string {
	switch {
	case advancedSymptoms.MatchString(symptoms):
		return DifficultyAdvanced
	case strings.Contains(symptoms, "抑郁"), strings.Contains(symptoms, "焦虑"):
		return DifficultyIntermediate
	default:
		return DifficultyBasic
	}
}

// Detail is the full patient view.
type Detail struct {
	ID                  string          `json:"id"`
	Profile             domain.Portrait `json:"profile"`
	Report              map[string]any  `json:"report"`
	ConversationPreview []any           `json:"conversation_preview"`
	SeekerPrompt        string          `json:"seeker_prompt"`
	Chain               domain.Chain    `json:"chain"`
	TotalMessages       int             `json:"total_messages"`
}

const previewLength = 6

// Describe builds the detail view of a record.
func Describe(r Record) Detail {
	preview := r.PreviousConversations
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	if preview == nil {
		preview = []any{}
	}
	chain := r.Chain
	if chain == nil {
		chain = domain.Chain{}
	}
	return Detail{
		ID:                  r.ID,
		Profile:             r.Portrait,
		Report:              r.Report,
		ConversationPreview: preview,
		SeekerPrompt:        r.SeekerPrompt,
		Chain:               chain,
		TotalMessages:       len(r.PreviousConversations),
	}
}

// Page returns the ids for a 1-based page. When shuffle is set the full id
// list is permuted first.
func Page(ids []string, page, pageSize int, shuffle bool) []string {
	if page < 1 || pageSize < 1 {
		return []string{}
	}
	if shuffle {
		ids = append([]string(nil), ids...)
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	start := (page - 1) * pageSize
	if start >= len(ids) {
		return []string{}
	}
	end := min(start+pageSize, len(ids))
	return ids[start:end]
}
