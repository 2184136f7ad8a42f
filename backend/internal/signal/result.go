package signal

import "context"

// Kind discriminates a handler Result
type Kind int

const (
	KindNone Kind = iota
	KindOne
	KindBatch
	KindPending
)

func (k Kind) String() string {
	switch k {
	case KindOne:
		return "one"
	case KindBatch:
		return "batch"
	case KindPending:
		return "pending"
	default:
		return "none"
	}
}

// Result is what an event handler yields: nothing, one signal, a ready batch,
// or a batch that still has to be computed.
type Result struct {
	kind    Kind
	signals []Signal
	pending func(ctx context.Context) ([]Signal, error)
}

// None yields no signal
func None() Result {
	return Result{kind: KindNone}
}

// One yields a single signal
func One(s Signal) Result {
	return Result{kind: KindOne, signals: []Signal{s}}
}

// Batch yields signals in order. An empty batch is None.
func Batch(signals ...Signal) Result {
	if len(signals) == 0 {
		return None()
	}
	return Result{kind: KindBatch, signals: signals}
}

// Pending yields the signals fn produces once resolved
func Pending(fn func(ctx context.Context) ([]Signal, error)) Result {
	if fn == nil {
		return None()
	}
	return Result{kind: KindPending, pending: fn}
}

// Kind reports which variant r is
func (r Result) Kind() Kind {
	return r.kind
}

// Resolve returns the signals of r, running a pending computation if needed
func (r Result) Resolve(ctx context.Context) ([]Signal, error) {
	switch r.kind {
	case KindOne, KindBatch:
		return r.signals, nil
	case KindPending:
		return r.pending(ctx)
	default:
		return nil, nil
	}
}
