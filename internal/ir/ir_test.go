package ir

import "testing"

func TestCreateFnShape(t *testing.T) {
	ctx := NewContext()
	fn := ctx.CreateFn("main", 32)
	if fn.Prologue == nil || fn.Entry == nil || fn.Epilogue == nil {
		t.Fatal("distinguished blocks missing")
	}
	if fn.Prologue.Term.Tag != TermJump || fn.Prologue.Term.To != fn.Entry {
		t.Fatal("prologue must jump to entry")
	}
	if fn.Epilogue.Term.Tag != TermReturn {
		t.Fatal("epilogue must end in return")
	}
	found := false
	for _, in := range fn.Prologue.Instrs {
		if in == "sub rsp, 32" {
			found = true
		}
	}
	if !found {
		t.Fatal("prologue missing the frame allocation")
	}
}

func TestEdgesMirror(t *testing.T) {
	ctx := NewContext()
	fn := ctx.CreateFn("f", 0)
	a := ctx.CreateBlock(fn)
	b := ctx.CreateBlock(fn)
	ctx.Branch(fn.Entry, CondEQ, a, b)

	for _, succ := range []*Block{a, b} {
		if len(succ.Preds) != 1 || succ.Preds[0] != fn.Entry {
			t.Errorf("branch edge to %s not mirrored in Preds", succ.Label)
		}
	}
	if len(fn.Entry.Succs) != 2 {
		t.Errorf("entry has %d successors, want 2", len(fn.Entry.Succs))
	}
}

func TestDoubleTerminationKeepsFirst(t *testing.T) {
	ctx := NewContext()
	fn := ctx.CreateFn("f", 0)
	a := ctx.CreateBlock(fn)
	ctx.Jump(fn.Entry, a)
	ctx.Jump(fn.Entry, fn.Epilogue) // bug: logged, ignored
	if fn.Entry.Term.To != a {
		t.Fatal("second termination must not replace the first")
	}
}

func TestCallLinksReturnBlock(t *testing.T) {
	ctx := NewContext()
	fn := ctx.CreateFn("f", 0)
	ret := ctx.CreateBlock(fn)
	ctx.Call(fn.Entry, "callee", ret)
	if fn.Entry.Term.Tag != TermCall || fn.Entry.Term.TargetSymbol != "callee" {
		t.Fatal("call terminator malformed")
	}
	if len(ret.Preds) != 1 || ret.Preds[0] != fn.Entry {
		t.Fatal("return block not linked as successor")
	}
}

func TestStringConstantDedup(t *testing.T) {
	ctx := NewContext()
	l1 := ctx.StringConstant("hello")
	l2 := ctx.StringConstant("hello")
	l3 := ctx.StringConstant("world")
	if l1 != l2 {
		t.Errorf("same content, different labels: %s vs %s", l1, l2)
	}
	if l1 == l3 {
		t.Error("different content shares a label")
	}
	if len(ctx.Statics) != 2 {
		t.Errorf("expected 2 statics, got %d", len(ctx.Statics))
	}
	// C strings are NUL-terminated in the image.
	if got := string(ctx.Statics[0].Bytes); got != "hello\x00" {
		t.Errorf("bad image %q", got)
	}
}

func TestLabelsMonotonic(t *testing.T) {
	ctx := NewContext()
	a := ctx.NewLabel()
	b := ctx.NewLabel()
	if a == b {
		t.Fatalf("labels must be unique: %s", a)
	}
}

func TestCondNegate(t *testing.T) {
	pairs := map[Cond]Cond{
		CondEQ: CondNE, CondLT: CondGE, CondLE: CondGT,
	}
	for c, want := range pairs {
		if c.Negate() != want {
			t.Errorf("%v.Negate() = %v, want %v", c, c.Negate(), want)
		}
		if c.Negate().Negate() != c {
			t.Errorf("double negation of %v not identity", c)
		}
	}
}
