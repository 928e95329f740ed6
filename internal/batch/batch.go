// Package batch builds the atomic operation batch a rebalance submits to
// the ledger. Every fungible-asset handle created inside a batch is a linear
// resource: it must be consumed, merged, or transferred exactly once before
// the batch may be submitted.
package batch

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrUnbalancedAssetHandle is raised when a batch fails its conservation
// proof; such a batch is never submitted.
var ErrUnbalancedAssetHandle = errors.New("unbalanced asset handle")

// OpKind identifies a ledger operation inside a batch.
type OpKind string

const (
	OpRemoveLiquidity  OpKind = "remove_liquidity"
	OpCollectFees      OpKind = "collect_fees"
	OpCollectReward    OpKind = "collect_reward"
	OpMergeHandles     OpKind = "merge_handles"
	OpClosePosition    OpKind = "close_position"
	OpSwap             OpKind = "swap"
	OpOpenPosition     OpKind = "open_position"
	OpAddLiquidity     OpKind = "add_liquidity"
	OpTransferAsset    OpKind = "transfer_asset"
	OpTransferPosition OpKind = "transfer_position"
)

// Handle is an opaque ownership token for a quantity of one fungible asset
// created by an operation in the batch. The zero value means "no handle":
// operations that can return zero results produce it instead of a handle.
type Handle struct {
	id    int
	asset string
}

// NoHandle is the empty result of an operation that produced nothing.
var NoHandle = Handle{}

// Valid reports whether the handle refers to a created resource.
func (h Handle) Valid() bool { return h.id != 0 }

// Asset returns the fungible asset the handle holds.
func (h Handle) Asset() string { return h.asset }

// PositionRef refers to a position object created inside the batch.
type PositionRef struct {
	id int
}

// Valid reports whether the reference was issued by the batch.
func (r PositionRef) Valid() bool { return r.id != 0 }

// Call is the encoded ledger call of one operation. Encoding is done by the
// per-protocol ChainOperations implementation; the batch itself treats it as
// opaque.
type Call struct {
	Target string
	Data   []byte
	Value  *big.Int
}

// Operation is one entry of the ordered batch.
type Operation struct {
	Kind    OpKind
	Call    Call
	Inputs  []Handle
	Outputs []Handle
	Note    string
}

type handleState struct {
	asset     string
	createdBy int
}

// Batch is an ordered list of operations plus the handle dependency graph
// over them. It is submitted as one unit: fully applied or fully rejected.
type Batch struct {
	ops          []Operation
	handles      map[int]handleState
	positions    map[int]int
	nextHandle   int
	nextPosition int
}

// New returns an empty batch.
func New() *Batch {
	return &Batch{
		handles:   make(map[int]handleState),
		positions: make(map[int]int),
	}
}

// Len returns the number of operations recorded so far.
func (b *Batch) Len() int { return len(b.ops) }

// Operations returns a copy of the recorded operations in order.
func (b *Batch) Operations() []Operation {
	out := make([]Operation, len(b.ops))
	copy(out, b.ops)
	return out
}

// Append records an operation that consumes the given handles and creates
// one new handle per entry of creates (asset ids). It returns the created
// handles. Inputs must already exist in the batch; full conservation is
// checked later by Validate.
func (b *Batch) Append(kind OpKind, call Call, consumes []Handle, creates []string, note string) ([]Handle, error) {
	for _, h := range consumes {
		if !h.Valid() {
			return nil, fmt.Errorf("%w: %s consumes an empty handle", ErrUnbalancedAssetHandle, kind)
		}
		if _, ok := b.handles[h.id]; !ok {
			return nil, fmt.Errorf("%w: %s consumes unknown handle %d", ErrUnbalancedAssetHandle, kind, h.id)
		}
	}

	opIndex := len(b.ops)
	outputs := make([]Handle, 0, len(creates))
	for _, asset := range creates {
		b.nextHandle++
		h := Handle{id: b.nextHandle, asset: asset}
		b.handles[h.id] = handleState{asset: asset, createdBy: opIndex}
		outputs = append(outputs, h)
	}

	b.ops = append(b.ops, Operation{
		Kind:    kind,
		Call:    call,
		Inputs:  append([]Handle(nil), consumes...),
		Outputs: outputs,
		Note:    note,
	})
	return outputs, nil
}

// Merge combines two or more live handles of the same asset into one.
func (b *Batch) Merge(handles []Handle) (Handle, error) {
	if len(handles) < 2 {
		return NoHandle, fmt.Errorf("%w: merge needs at least two handles", ErrUnbalancedAssetHandle)
	}
	asset := handles[0].asset
	for _, h := range handles[1:] {
		if h.asset != asset {
			return NoHandle, fmt.Errorf("%w: merge across assets %s and %s", ErrUnbalancedAssetHandle, asset, h.asset)
		}
	}
	out, err := b.Append(OpMergeHandles, Call{}, handles, []string{asset}, "")
	if err != nil {
		return NoHandle, err
	}
	return out[0], nil
}

// TransferAsset sends a handle to its final owner, disposing it.
func (b *Batch) TransferAsset(h Handle, owner string) error {
	_, err := b.Append(OpTransferAsset, Call{}, []Handle{h}, nil, "to "+owner)
	return err
}

// NewPosition records a position-creating operation and returns its ref.
func (b *Batch) NewPosition(call Call, note string) (PositionRef, error) {
	if _, err := b.Append(OpOpenPosition, call, nil, nil, note); err != nil {
		return PositionRef{}, err
	}
	b.nextPosition++
	ref := PositionRef{id: b.nextPosition}
	b.positions[ref.id] = len(b.ops) - 1
	return ref, nil
}

// TransferPosition sends a position created in this batch to its owner.
func (b *Batch) TransferPosition(ref PositionRef, owner string) error {
	if _, ok := b.positions[ref.id]; !ok {
		return fmt.Errorf("transfer of unknown position ref %d", ref.id)
	}
	_, err := b.Append(OpTransferPosition, Call{}, nil, nil, "to "+owner)
	return err
}

// Validate proves handle conservation before submission:
//
//	(a) every consumed handle was created by a strictly earlier operation;
//	(b) no handle is consumed twice;
//	(c) every created handle has a final disposition by the end of the batch.
//
// It fails closed with ErrUnbalancedAssetHandle.
func (b *Batch) Validate() error {
	created := make(map[int]int, len(b.handles))
	disposed := make(map[int]int, len(b.handles))

	for i, op := range b.ops {
		for _, in := range op.Inputs {
			createdBy, ok := created[in.id]
			if !ok {
				return fmt.Errorf("%w: op %d (%s) references handle %d (%s) not yet created",
					ErrUnbalancedAssetHandle, i, op.Kind, in.id, in.asset)
			}
			if createdBy >= i {
				return fmt.Errorf("%w: op %d (%s) forward-references handle %d",
					ErrUnbalancedAssetHandle, i, op.Kind, in.id)
			}
			if prev, dup := disposed[in.id]; dup {
				return fmt.Errorf("%w: op %d (%s) consumes handle %d already consumed by op %d",
					ErrUnbalancedAssetHandle, i, op.Kind, in.id, prev)
			}
			disposed[in.id] = i
		}
		for _, out := range op.Outputs {
			created[out.id] = i
		}
	}

	for id, st := range b.handles {
		if _, ok := disposed[id]; !ok {
			return fmt.Errorf("%w: handle %d (%s) created by op %d has no final disposition",
				ErrUnbalancedAssetHandle, id, st.asset, st.createdBy)
		}
	}
	return nil
}
