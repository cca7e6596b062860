package prompt

import "strings"

// Emotion labels.
const (
	NeutralEmotion = "neutral"
	SadEmotion     = "sad"
	AnxiousEmotion = "anxious"
	AngryEmotion   = "angry"
)

// Classifier labels the emotional tone of a counselor message.
type Classifier interface {
	Classify(text string) string
}

// Static always returns the same label.
type Static string

// Classify implements Classifier.
func (s Static) Classify(string) string { return string(s) }

// Keyword labels text by the first keyword table it matches.
type Keyword struct {
	rules []keywordRule
}

type keywordRule struct {
	label    string
	keywords []string
}

// NewKeyword returns the default keyword classifier.
func NewKeyword() *Keyword {
	return &Keyword{rules: []keywordRule{
		{label: AngryEmotion, keywords: []string{"生气", "愤怒", "烦", "讨厌", "angry"}},
		{label: AnxiousEmotion, keywords: []string{"焦虑", "紧张", "担心", "害怕", "压力", "anxious", "worried"}},
		{label: SadEmotion, keywords: []string{"难过", "伤心", "低落", "失望", "哭", "sad"}},
	}}
}

// Classify implements Classifier.
func (k *Keyword) Classify(text string) string {
	lower := strings.ToLower(text)
	for _, r := range k.rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.label
			}
		}
	}
	return NeutralEmotion
}

// ClassifierByName maps a config value to a classifier.
func ClassifierByName(name string) Classifier {
	if strings.EqualFold(name, "keyword") {
		return NewKeyword()
	}
	return Static(NeutralEmotion)
}
