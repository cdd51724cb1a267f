package optimize

import (
	"testing"

	"github.com/gmofishsauce/fcc/internal/ir"
)

func newFn(ctx *ir.Context) *ir.Fn {
	return ctx.CreateFn("f", 0)
}

func TestUBRRemovesUnreachable(t *testing.T) {
	ctx := ir.NewContext()
	fn := newFn(ctx)
	dead := ctx.CreateBlock(fn)
	ctx.Jump(dead, fn.Epilogue)
	ctx.Jump(fn.Entry, fn.Epilogue)

	before := len(fn.Blocks)
	Run(fn)
	for _, b := range fn.Blocks {
		if b == dead {
			t.Fatal("unreachable block survived UBR")
		}
	}
	if len(fn.Blocks) >= before {
		t.Fatalf("no block removed: %d -> %d", before, len(fn.Blocks))
	}
}

func TestUBRCascades(t *testing.T) {
	ctx := ir.NewContext()
	fn := newFn(ctx)
	// dead1 -> dead2 -> epilogue: removing dead1 orphans dead2.
	dead1 := ctx.CreateBlock(fn)
	dead2 := ctx.CreateBlock(fn)
	ctx.Jump(dead1, dead2)
	ctx.Jump(dead2, fn.Epilogue)
	ctx.Jump(fn.Entry, fn.Epilogue)

	Run(fn)
	for _, b := range fn.Blocks {
		if b == dead1 || b == dead2 {
			t.Fatal("dead chain not fully removed")
		}
	}
}

func TestLBCMergesLinearChain(t *testing.T) {
	ctx := ir.NewContext()
	fn := newFn(ctx)
	mid := ctx.CreateBlock(fn)
	mid.Out("mov eax, 1")
	ctx.Jump(fn.Entry, mid)
	ctx.Jump(mid, fn.Epilogue)
	fn.Entry.Out("nop")

	Run(fn)
	// prologue+entry+mid+epilogue all collapse into one block.
	if len(fn.Blocks) != 1 {
		t.Fatalf("chain not fully merged: %d blocks", len(fn.Blocks))
	}
	merged := fn.Blocks[0]
	if merged.Term.Tag != ir.TermReturn {
		t.Fatalf("merged block must end in the return terminator, got %v", merged.Term.Tag)
	}
	found := false
	for _, in := range merged.Instrs {
		if in == "mov eax, 1" {
			found = true
		}
	}
	if !found {
		t.Fatal("merged block lost the middle block's instructions")
	}
}

func TestLBCKeepsJoinBlocks(t *testing.T) {
	ctx := ir.NewContext()
	fn := newFn(ctx)
	thenB := ctx.CreateBlock(fn)
	elseB := ctx.CreateBlock(fn)
	join := ctx.CreateBlock(fn)
	ctx.Branch(fn.Entry, ir.CondEQ, elseB, thenB)
	ctx.Jump(thenB, join)
	ctx.Jump(elseB, join)
	ctx.Jump(join, fn.Epilogue)

	Run(fn)
	// join has two predecessors and must survive as its own block.
	alive := false
	for _, b := range fn.Blocks {
		if len(b.Preds) == 2 {
			alive = true
		}
	}
	if !alive {
		t.Fatal("two-predecessor join block disappeared")
	}
}

// Running the optimizer a second time must change nothing.
func TestOptimizerIdempotent(t *testing.T) {
	ctx := ir.NewContext()
	fn := newFn(ctx)
	dead := ctx.CreateBlock(fn)
	ctx.Jump(dead, fn.Epilogue)
	mid := ctx.CreateBlock(fn)
	ctx.Jump(fn.Entry, mid)
	ctx.Jump(mid, fn.Epilogue)

	Run(fn)
	first := len(fn.Blocks)
	Run(fn)
	if len(fn.Blocks) != first {
		t.Fatalf("second run changed the graph: %d -> %d", first, len(fn.Blocks))
	}
}

// After Run, no block other than the prologue is predecessor-free and
// no sole-successor/sole-predecessor pair remains.
func TestPostConditions(t *testing.T) {
	ctx := ir.NewContext()
	fn := newFn(ctx)
	a := ctx.CreateBlock(fn)
	b := ctx.CreateBlock(fn)
	ctx.Branch(fn.Entry, ir.CondNE, a, b)
	ctx.Jump(a, fn.Epilogue)
	ctx.Jump(b, fn.Epilogue)

	Run(fn)
	for _, blk := range fn.Blocks {
		if blk != fn.Prologue && len(blk.Preds) == 0 {
			t.Errorf("block %s unreachable after UBR", blk.Label)
		}
		if blk.Term.Tag == ir.TermJump {
			succ := blk.Term.To
			if succ != blk && len(succ.Preds) == 1 && succ.Preds[0] == blk {
				t.Errorf("mergeable pair %s->%s survived LBC", blk.Label, succ.Label)
			}
		}
	}
}
