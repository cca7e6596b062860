package domain

// UnknownComplaint is reported when a persona has no complaint chain.
const UnknownComplaint = "unknown"

// ChainStage is one entry of a persona's complaint chain.
type ChainStage struct {
	Stage   int    `json:"stage"`
	Content string `json:"content"`
}

// Chain is the ordered list of topics a persona works through.
type Chain []ChainStage

// At returns the content of stage i, or UnknownComplaint when the chain is empty.
// Out-of-range indexes are clamped.
func (c Chain) At(i int) string {
	if len(c) == 0 {
		return UnknownComplaint
	}
	if i < 0 {
		i = 0
	}
	if i > len(c)-1 {
		i = len(c) - 1
	}
	return c[i].Content
}

// Next returns the cursor after i, never past the last stage.
func (c Chain) Next(i int) int {
	if len(c) == 0 {
		return 0
	}
	if i+1 > len(c)-1 {
		return len(c) - 1
	}
	return i + 1
}
