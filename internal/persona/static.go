package persona

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ashureev/counselsim/internal/domain"
)

// StaticSource is the built-in catalog of demo patients.
type StaticSource struct {
	order   []string
	records map[string]Record
}

var _ Source = (*StaticSource)(nil)

type staticGroup struct {
	count      int
	baseAge    int
	ageSpan    int
	evenGender string
	oddGender  string
	occOffset  int
	married    func(i int) bool
	symptoms   string
	title      string
	categories []any
	chain      []string
}

var staticOccupations = []string{"软件工程师", "教师", "学生", "产品经理", "销售", "护士", "设计师", "律师", "自由职业", "运营"}

var staticGroups = []staticGroup{
	{
		count: 10, baseAge: 22, ageSpan: 10, evenGender: "男", oddGender: "女", occOffset: 0,
		married:    func(i int) bool { return i%3 == 0 },
		symptoms:   "焦虑;失眠",
		title:      "工作压力与睡眠问题",
		categories: []any{"职业压力", "睡眠"},
		chain:      []string{"最近工作/学习压力很大", "晚上难以入睡或易醒", "白天注意力差、易烦躁", "担心影响表现与人际"},
	},
	{
		count: 10, baseAge: 24, ageSpan: 12, evenGender: "女", oddGender: "男", occOffset: 3,
		married:    func(i int) bool { return i%4 == 0 },
		symptoms:   "情绪低落;兴趣减退",
		title:      "情绪低落与动力不足",
		categories: []any{"情绪", "能量"},
		chain:      []string{"情绪持续低落", "对原本喜欢的事失去兴趣", "精力差、拖延", "自我评价下降"},
	},
	{
		count: 10, baseAge: 20, ageSpan: 8, evenGender: "男", oddGender: "女", occOffset: 6,
		married:    func(int) bool { return false },
		symptoms:   "社交焦虑;回避",
		title:      "社交焦虑与回避",
		categories: []any{"社交", "焦虑"},
		chain:      []string{"在人多场合明显紧张", "担心被评价出丑", "主动回避社交活动", "影响学习/工作机会"},
	},
	{
		count: 10, baseAge: 28, ageSpan: 12, evenGender: "女", oddGender: "男", occOffset: 1,
		married:    func(i int) bool { return i%2 == 1 },
		symptoms:   "家庭矛盾;压力",
		title:      "家庭沟通与情绪管理",
		categories: []any{"家庭", "压力"},
		chain:      []string{"与家人沟通不畅", "家庭责任与期待带来压力", "情绪波动、易争执", "希望改善关系与沟通"},
	},
}

// NewStaticSource generates the 40 demo patients static-1 through static-40.
func NewStaticSource() *StaticSource {
	s := &StaticSource{records: make(map[string]Record)}
	n := 1
	for _, g := range staticGroups {
		for i := 0; i < g.count; i++ {
			gender := g.evenGender
			if i%2 == 1 {
				gender = g.oddGender
			}
			marital := "未婚"
			if g.married(i) {
				marital = "已婚"
			}
			portrait := domain.Portrait{
				Age:           strconv.Itoa(g.baseAge + i%g.ageSpan),
				Gender:        gender,
				Occupation:    staticOccupations[(i+g.occOffset)%len(staticOccupations)],
				MaritalStatus: marital,
				Symptoms:      g.symptoms,
			}
			chain := make(domain.Chain, len(g.chain))
			for j, c := range g.chain {
				chain[j] = domain.ChainStage{Stage: j + 1, Content: c}
			}

			id := "static-" + strconv.Itoa(n)
			n++
			s.order = append(s.order, id)
			s.records[id] = Record{
				ID:       id,
				Portrait: portrait,
				Report: map[string]any{
					"案例标题": g.title,
					"案例类别": append([]any(nil), g.categories...),
				},
				PreviousConversations: []any{},
				SeekerPrompt:          StaticSeekerPrompt(portrait),
				Chain:                 chain,
			}
		}
	}
	return s
}

// IDs returns static ids in generation order.
func (s *StaticSource) IDs(context.Context) ([]string, error) {
	return append([]string(nil), s.order...), nil
}

// Lookup returns a copy of the static record.
func (s *StaticSource) Lookup(_ context.Context, id string) (Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	rec.Report = map[string]any{
		"案例标题": rec.Report["案例标题"],
		"案例类别": append([]any(nil), rec.Report["案例类别"].([]any)...),
	}
	rec.Chain = append(domain.Chain(nil), rec.Chain...)
	rec.PreviousConversations = []any{}
	return rec, nil
}

// StaticSeekerPrompt is the shorter first-person prompt used by demo patients.
func StaticSeekerPrompt(p domain.Portrait) string {
	return fmt.Sprintf("# 角色: 心理咨询患者\n\n"+
		"## 档案\n- 性别: %s\n- 年龄: %s\n- 职业: %s\n- 婚姻状况: %s\n\n"+
		"## 状况\n- 你是心理咨询中的来访者（患者）。请始终以第一人称、来访者的口吻与咨询师对话。\n"+
		"- 你的主要症状包括：%s。每轮只谈一个要点，不要一次性讲完所有信息。\n"+
		"- 语气口语化、真实、避免专业术语。\n\n"+
		"## 表达风格\n- 简洁、自然、带情绪色彩，围绕当前困扰展开。\n"+
		"- 可以举生活中的具体例子来说明感受与影响。\n\n"+
		"## 输出格式\n- 仅输出来访者的对话内容，不要加入任何旁白或标注。\n"+
		"- 语言: Chinese\n- 每次不超过200字。",
		valueOr(p.Gender, "未知"), valueOr(p.Age, "未知"), valueOr(p.Occupation, "未知"),
		valueOr(p.MaritalStatus, "未知"), valueOr(p.Symptoms, "心理困扰"))
}
