package poolstate

import (
	"fmt"

	curve "github.com/defistate/defistate-pricing-go/protocols/curve"
	uniswapv2 "github.com/defistate/defistate-pricing-go/protocols/uniswapv2"
	uniswapv3 "github.com/defistate/defistate-pricing-go/protocols/uniswapv3"
	"github.com/ethereum/go-ethereum/common"
)

// SnapshotDiff is the change between two snapshots, split per pool kind.
type SnapshotDiff struct {
	UniswapV2 uniswapv2.UniswapV2SystemDiff `json:"uniswapV2"`
	UniswapV3 uniswapv3.UniswapV3SystemDiff `json:"uniswapV3"`
	Curve     curve.CurveSystemDiff         `json:"curve"`
}

// IsEmpty returns true if the diff contains no changes.
func (d SnapshotDiff) IsEmpty() bool {
	return d.UniswapV2.IsEmpty() && d.UniswapV3.IsEmpty() && d.Curve.IsEmpty()
}

// Added returns every pool state the diff introduces.
func (d SnapshotDiff) Added() []State {
	added := make([]State, 0, len(d.UniswapV2.Additions)+len(d.UniswapV3.Additions)+len(d.Curve.Additions))
	for _, p := range d.UniswapV2.Additions {
		added = append(added, FromUniswapV2(p))
	}
	for _, p := range d.UniswapV3.Additions {
		added = append(added, FromUniswapV3(p))
	}
	for _, p := range d.Curve.Additions {
		added = append(added, FromCurve(p))
	}
	return added
}

// Deleted returns the addresses of every pool the diff removes.
func (d SnapshotDiff) Deleted() []common.Address {
	deleted := make([]common.Address, 0, len(d.UniswapV2.Deletions)+len(d.UniswapV3.Deletions)+len(d.Curve.Deletions))
	deleted = append(deleted, d.UniswapV2.Deletions...)
	deleted = append(deleted, d.UniswapV3.Deletions...)
	return append(deleted, d.Curve.Deletions...)
}

type kinds struct {
	uniswapV2 []uniswapv2.Pool
	uniswapV3 []uniswapv3.Pool
	curve     []curve.Pool
}

func split(s Snapshot) (kinds, error) {
	var k kinds
	for _, addr := range s.Addresses() {
		st := s[addr]
		switch {
		case st.Schema == uniswapv2.Schema && st.UniswapV2 != nil:
			k.uniswapV2 = append(k.uniswapV2, *st.UniswapV2)
		case st.Schema == uniswapv3.Schema && st.UniswapV3 != nil:
			k.uniswapV3 = append(k.uniswapV3, *st.UniswapV3)
		case st.Schema == curve.Schema && st.Curve != nil:
			k.curve = append(k.curve, *st.Curve)
		default:
			return kinds{}, fmt.Errorf("%w: %q for pool %s", ErrUnknownSchema, st.Schema, addr.Hex())
		}
	}
	return k, nil
}

// Diff computes the change from old to new. Both snapshots must hold only
// known pool kinds.
func Diff(old, new Snapshot) (SnapshotDiff, error) {
	oldKinds, err := split(old)
	if err != nil {
		return SnapshotDiff{}, err
	}
	newKinds, err := split(new)
	if err != nil {
		return SnapshotDiff{}, err
	}
	return SnapshotDiff{
		UniswapV2: uniswapv2.Differ(oldKinds.uniswapV2, newKinds.uniswapV2),
		UniswapV3: uniswapv3.Differ(oldKinds.uniswapV3, newKinds.uniswapV3),
		Curve:     curve.Differ(oldKinds.curve, newKinds.curve),
	}, nil
}

// Patch applies diff to prev and returns the next snapshot. prev is not
// modified and the result shares no memory with it.
func Patch(prev Snapshot, diff SnapshotDiff) (Snapshot, error) {
	k, err := split(prev)
	if err != nil {
		return nil, err
	}

	v2, err := uniswapv2.Patcher(k.uniswapV2, diff.UniswapV2)
	if err != nil {
		return nil, err
	}
	v3, err := uniswapv3.Patcher(k.uniswapV3, diff.UniswapV3)
	if err != nil {
		return nil, err
	}
	cv, err := curve.Patcher(k.curve, diff.Curve)
	if err != nil {
		return nil, err
	}

	next := make(Snapshot, len(v2)+len(v3)+len(cv))
	for _, p := range v2 {
		next.Put(FromUniswapV2(p))
	}
	for _, p := range v3 {
		next.Put(FromUniswapV3(p))
	}
	for _, p := range cv {
		next.Put(FromCurve(p))
	}
	if len(next) != len(v2)+len(v3)+len(cv) {
		return nil, fmt.Errorf("poolstate: patch yields one address under two pool kinds")
	}
	return next, nil
}
