// Package optimize implements the two fixed-point block-graph passes
// spec §4.8 describes: unreachable-block removal (UBR), then
// linear-block combination (LBC). UBR strictly precedes LBC because
// removing a block can drop another's predecessor count to one,
// enabling merges LBC alone would miss; the reverse never holds.
package optimize

import "github.com/gmofishsauce/fcc/internal/ir"

// Run applies UBR then LBC to fn until both reach a fixed point.
func Run(fn *ir.Fn) {
	ubr(fn)
	lbc(fn)
}

// hasRealPredecessors reports whether b has at least one predecessor
// edge recorded in the graph.
func hasRealPredecessors(b *ir.Block) bool {
	return len(b.Preds) > 0
}

// ubr repeatedly deletes blocks with zero predecessors (other than the
// prologue, which is always reachable by construction) until none
// remain, restarting the scan after every deletion since a deletion
// can orphan a successor that previously looked reachable.
func ubr(fn *ir.Fn) {
	for {
		removed := false
		for i := 0; i < len(fn.Blocks); i++ {
			b := fn.Blocks[i]
			if b == fn.Prologue {
				continue
			}
			if hasRealPredecessors(b) {
				continue
			}
			removeBlock(fn, b)
			removed = true
			break
		}
		if !removed {
			return
		}
	}
}

// removeBlock deletes b from fn and unlinks its outgoing edges so its
// successors' predecessor counts drop accordingly.
func removeBlock(fn *ir.Fn, b *ir.Block) {
	for _, s := range b.Succs {
		s.Preds = removeFromSlice(s.Preds, b)
	}
	fn.Blocks = removeFromSlice(fn.Blocks, b)
}

func removeFromSlice(s []*ir.Block, target *ir.Block) []*ir.Block {
	out := s[:0:0]
	for _, b := range s {
		if b != target {
			out = append(out, b)
		}
	}
	return out
}

// lbc repeatedly splices a block into its sole successor when that
// successor has only the block as predecessor, restarting after every
// merge from the start of the list (a merge can create a new
// sole-successor/sole-predecessor pair further up the chain).
func lbc(fn *ir.Fn) {
	for {
		merged := false
		for i := 0; i < len(fn.Blocks); i++ {
			b := fn.Blocks[i]
			if tryMerge(fn, b) {
				merged = true
				break
			}
		}
		if !merged {
			return
		}
	}
}

func tryMerge(fn *ir.Fn, b *ir.Block) bool {
	if b.Term.Tag != ir.TermJump {
		return false
	}
	succ := b.Term.To
	if succ == b || succ == fn.Prologue {
		return false
	}
	if len(succ.Preds) != 1 || succ.Preds[0] != b {
		return false
	}

	b.Instrs = append(b.Instrs, succ.Instrs...)
	b.Term = succ.Term
	b.Succs = succ.Succs
	for _, s := range b.Succs {
		for i, p := range s.Preds {
			if p == succ {
				s.Preds[i] = b
			}
		}
	}
	// Retarget any other terminator still pointing at succ (branch
	// targets, call return blocks) to the merged block.
	for _, other := range fn.Blocks {
		retarget(&other.Term, succ, b)
	}
	fn.Blocks = removeFromSlice(fn.Blocks, succ)
	return true
}

func retarget(t *ir.Terminator, from, to *ir.Block) {
	switch t.Tag {
	case ir.TermJump:
		if t.To == from {
			t.To = to
		}
	case ir.TermBranch:
		if t.IfTrue == from {
			t.IfTrue = to
		}
		if t.IfFalse == from {
			t.IfFalse = to
		}
	case ir.TermCall, ir.TermIndirectCall:
		if t.ReturnBlock == from {
			t.ReturnBlock = to
		}
	}
}
