package bridge

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Context identifies the message currently being dispatched. Targets read it
// during the dispatch call to authenticate the origin of the message.
type Context struct {
	MsgHash    common.Hash    `json:"msgHash"`
	SrcChainID uint64         `json:"srcChainId"`
	From       common.Address `json:"from"`
}

type contextKey struct{ b *Bridge }

// guardKey marks a context that runs external code on behalf of the bridge.
type guardKey struct{ b *Bridge }

// Context returns the context of the dispatch in progress, or the zero value
// when none is running.
func (b *Bridge) Context() Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == nil {
		return Context{}
	}
	return *b.current
}

// ContextFrom returns the dispatch context carried by ctx. Targets receive it
// on the context of their Invoke call.
func (b *Bridge) ContextFrom(ctx context.Context) (Context, bool) {
	bc, ok := ctx.Value(contextKey{b}).(Context)
	return bc, ok
}

// enter publishes bc as the current context and marks ctx as running inside
// one of this bridge's dispatches. The returned func restores the previous
// context.
func (b *Bridge) enter(ctx context.Context, bc Context) (context.Context, func()) {
	b.mu.Lock()
	prev := b.current
	b.current = &bc
	b.mu.Unlock()

	return b.guard(context.WithValue(ctx, contextKey{b}, bc)), func() {
		b.mu.Lock()
		b.current = prev
		b.mu.Unlock()
	}
}

// reentrant reports whether ctx comes from external code b is running, such
// as a target during dispatch or a recall callback. A context whose
// transaction has already finished is not re-entrant.
func (b *Bridge) reentrant(ctx context.Context) bool {
	if ctx.Value(guardKey{b}) == nil {
		return false
	}
	return b.chain.InTransaction(ctx)
}

func (b *Bridge) guard(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{b}, struct{}{})
}
