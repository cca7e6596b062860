package provider

import (
	"context"
	"fmt"

	"github.com/ashureev/counselsim/internal/domain"
)

// FallbackReply is the fixed seeker line used offline and as the last resort.
const FallbackReply = "最近工作确实很忙，压力挺大的...有时候晚上都睡不好觉。"

// Fake is the deterministic, network-free provider.
type Fake struct {
	Reply string
}

// NewFake returns a Fake that answers with FallbackReply.
func NewFake() *Fake {
	return &Fake{Reply: FallbackReply}
}

var _ Client = (*Fake)(nil)

// Complete returns the fixed reply.
func (f *Fake) Complete(ctx context.Context, _ []domain.Message, _ ...Option) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	return Result{Text: f.Reply}, nil
}

// Stream emits the fixed reply one character at a time.
func (f *Fake) Stream(ctx context.Context, _ []domain.Message, onFragment FragmentFunc, _ ...Option) (string, error) {
	for _, r := range f.Reply {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrProvider, err)
		}
		if onFragment != nil {
			if err := onFragment(string(r)); err != nil {
				return "", err
			}
		}
	}
	return f.Reply, nil
}
