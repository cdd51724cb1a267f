package emit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/asmwriter"
	"github.com/gmofishsauce/fcc/internal/diag"
	"github.com/gmofishsauce/fcc/internal/ir"
	"github.com/gmofishsauce/fcc/internal/optimize"
	"github.com/gmofishsauce/fcc/internal/parser"
	"github.com/gmofishsauce/fcc/internal/sem"
	"github.com/gmofishsauce/fcc/internal/symtab"
)

// compile runs the whole pipeline on src and returns the assembly text
// plus the IR context for structural assertions.
func compile(t *testing.T, src string) (string, *ir.Context) {
	t.Helper()
	a := arch.New(arch.Linux)
	global := symtab.Init()
	parser.RegisterBuiltins(global, a)
	bag := &diag.Bag{}
	p := parser.New(a, global, bag)
	p.Parse(strings.NewReader(src), "test.c")
	an := sem.New(a, global, bag)
	an.Analyze(p.Modules)
	if !bag.Clean() {
		t.Fatalf("front end not clean: %v", bag.Items())
	}
	ctx := ir.NewContext()
	e := New(a, ctx, bag)
	e.EmitModules(p.Modules)
	if !bag.Clean() {
		t.Fatalf("emission not clean: %v", bag.Items())
	}
	for _, fn := range ctx.Fns {
		optimize.Run(fn)
	}
	var buf bytes.Buffer
	w := asmwriter.New(&buf)
	w.Header()
	for _, fn := range ctx.Fns {
		w.Function(fn)
	}
	w.Statics(ctx.Statics)
	w.Data(ctx.Globals)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return buf.String(), ctx
}

func wantContains(t *testing.T, asm string, frags ...string) {
	t.Helper()
	for _, f := range frags {
		if !strings.Contains(asm, f) {
			t.Errorf("assembly missing %q\n%s", f, asm)
		}
	}
}

func TestFunctionFrame(t *testing.T) {
	asm, ctx := compile(t, `
int main() {
	int x;
	x = 6*5*4*3*2*1;
	return x;
}
`)
	wantContains(t, asm,
		".intel_syntax noprefix",
		".balign 16",
		".globl main",
		"main:",
		"push rbp",
		"mov rbp, rsp",
		"sub rsp, 16",
		"mov rsp, rbp",
		"pop rbp",
		"ret",
	)
	if len(ctx.Fns) != 1 || ctx.Fns[0].Name != "main" {
		t.Fatalf("expected one function main, got %+v", ctx.Fns)
	}
}

func TestParamOffsets(t *testing.T) {
	asm, _ := compile(t, `
int add(int a, int b) {
	return a + b;
}
`)
	// First parameter past saved rbp and return address, second one
	// word further.
	wantContains(t, asm, "[rbp+16]", "[rbp+24]")
	_ = asm
}

func TestIfElseBranches(t *testing.T) {
	asm, ctx := compile(t, `
int sign(int x) {
	if (x < 0) {
		return 0-1;
	} else {
		return 1;
	}
}
`)
	// x < 0 compares and branches on the negated condition to the
	// false path.
	wantContains(t, asm, "cmp ", "jge ")
	checkGraph(t, ctx)
}

func TestWhileLoop(t *testing.T) {
	asm, ctx := compile(t, `
int count(int n) {
	int i;
	i = 0;
	while (i < n) {
		i = i + 1;
	}
	return i;
}
`)
	wantContains(t, asm, "cmp ", "jmp ")
	checkGraph(t, ctx)
}

func TestForLoopWithEmptyComponents(t *testing.T) {
	_, ctx := compile(t, `
int spin(int n) {
	int i;
	i = 0;
	for (;;) {
		i = i + 1;
		if (i >= n) {
			break;
		}
	}
	return i;
}
`)
	checkGraph(t, ctx)
}

func TestCallConvention(t *testing.T) {
	asm, _ := compile(t, `
int add(int a, int b) {
	return a + b;
}
int main() {
	return add(1, 2);
}
`)
	// Arguments pushed, call emitted, stack popped by the caller.
	wantContains(t, asm, "push", "call add", "add rsp, 16")
	// Return value lands in RAX via the epilogue.
	wantContains(t, asm, "ret")
}

func TestStringConstantDeduplication(t *testing.T) {
	_, ctx := compile(t, `
int puts(char *s);
int main() {
	puts("hi");
	puts("hi");
	puts("there");
	return 0;
}
`)
	if len(ctx.Statics) != 2 {
		t.Errorf("identical strings must share a label: got %d statics", len(ctx.Statics))
	}
}

func TestGlobalDataImage(t *testing.T) {
	asm, ctx := compile(t, `
int g = 7;
int a[3] = {1, 2, 3};
char msg[] = "ok";
int main() { return g; }
`)
	if len(ctx.Globals) != 3 {
		t.Fatalf("expected 3 globals, got %d", len(ctx.Globals))
	}
	byLabel := map[string][]byte{}
	for _, g := range ctx.Globals {
		byLabel[g.Label] = g.Bytes
	}
	if got := byLabel["g"]; len(got) != 4 || got[0] != 7 {
		t.Errorf("g image = %v", got)
	}
	if got := byLabel["a"]; len(got) != 12 || got[4] != 2 {
		t.Errorf("a image = %v", got)
	}
	if got := byLabel["msg"]; string(got) != "ok\x00" {
		t.Errorf("msg image = %q", got)
	}
	wantContains(t, asm, ".data", "[rip+g]")
}

func TestArrayIndexing(t *testing.T) {
	asm, ctx := compile(t, `
int pick(int *p, int i) {
	int a[4];
	a[1] = 5;
	return p[i] + a[1];
}
`)
	// Constant index folds into the displacement; variable index scales.
	wantContains(t, asm, "*4")
	checkGraph(t, ctx)
	_ = asm
}

func TestStructFieldAccess(t *testing.T) {
	_, ctx := compile(t, `
struct point { int x; int y; int z; };
int third(struct point *p) {
	return p->z;
}
`)
	// p->z loads at offset 8 through the pointer register.
	found := false
	for _, b := range ctx.Fns[0].Blocks {
		for _, in := range b.Instrs {
			if strings.Contains(in, "+8]") {
				found = true
			}
		}
	}
	if !found {
		t.Error("field z not accessed at offset 8")
	}
}

func TestAggregateZeroing(t *testing.T) {
	asm, _ := compile(t, `
int big() {
	int buf[100];
	buf[0] = 1;
	return buf[0];
}
int small() {
	int few[4];
	few[0] = 1;
	return few[0];
}
`)
	// 100 ints = 50 words: above the threshold, REP STOS; 4 ints = 2
	// words: unrolled moves.
	wantContains(t, asm, "rep stosq")
	if strings.Count(asm, "rep stosq") != 1 {
		t.Error("small aggregate should zero with unrolled moves")
	}
}

func TestDivisionUsesRAX(t *testing.T) {
	asm, _ := compile(t, `
int halves(int a, int b) {
	return a / b + a % b;
}
`)
	wantContains(t, asm, "cdq", "idiv")
}

func TestRecursiveCall(t *testing.T) {
	asm, ctx := compile(t, `
int fact(int n) {
	if (n <= 1) {
		return 1;
	}
	return n * fact(n - 1);
}
`)
	wantContains(t, asm, "call fact")
	checkGraph(t, ctx)
}

// checkGraph asserts the spec's block-graph invariants after
// optimization: every terminator set, predecessor lists exactly
// mirroring successor edges, and no mergeable or unreachable blocks
// left behind.
func checkGraph(t *testing.T, ctx *ir.Context) {
	t.Helper()
	for _, fn := range ctx.Fns {
		for _, b := range fn.Blocks {
			if !b.Terminated() {
				t.Errorf("%s: block %s has no terminator", fn.Name, b.Label)
			}
			for _, p := range b.Preds {
				if !hasSucc(p, b) {
					t.Errorf("%s: pred edge %s->%s not mirrored", fn.Name, p.Label, b.Label)
				}
			}
			if b != fn.Prologue && len(b.Preds) == 0 {
				t.Errorf("%s: block %s unreachable after UBR", fn.Name, b.Label)
			}
			if b.Term.Tag == ir.TermJump {
				succ := b.Term.To
				if succ != b && succ != fn.Prologue && len(succ.Preds) == 1 && succ.Preds[0] == b {
					t.Errorf("%s: %s->%s not merged by LBC", fn.Name, b.Label, succ.Label)
				}
			}
		}
	}
}

func hasSucc(b *ir.Block, s *ir.Block) bool {
	for _, x := range b.Succs {
		if x == s {
			return true
		}
	}
	return false
}
