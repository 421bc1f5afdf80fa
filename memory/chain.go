package memory

import "errors"

var errEmptyChain = errors.New("empty pointer chain")

// ResolveChain follows offsets from base: step 0 dereferences
// base+offsets[0], step i dereferences the previous result plus
// offsets[i]. It stops at the first null or unreadable link.
func (r *Reader) ResolveChain(base uint64, offsets []uint64) (uint64, error) {
	if len(offsets) == 0 {
		return 0, &ChainError{Index: 0, Addr: base, Err: errEmptyChain}
	}
	addr := base
	for i, off := range offsets {
		next, err := r.ReadPointer(addr + off)
		if err != nil {
			return 0, &ChainError{Index: i, Addr: addr, Offset: off, Err: err}
		}
		addr = next
	}
	return addr, nil
}
