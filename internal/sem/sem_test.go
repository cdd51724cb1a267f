package sem

import (
	"strings"
	"testing"

	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/ast"
	"github.com/gmofishsauce/fcc/internal/diag"
	"github.com/gmofishsauce/fcc/internal/parser"
	"github.com/gmofishsauce/fcc/internal/symtab"
	"github.com/gmofishsauce/fcc/internal/types"
)

func analyzeString(t *testing.T, src string) (*ast.Node, *symtab.Symbol, *diag.Bag) {
	t.Helper()
	a := arch.New(arch.Linux)
	global := symtab.Init()
	parser.RegisterBuiltins(global, a)
	bag := &diag.Bag{}
	p := parser.New(a, global, bag)
	mod := p.Parse(strings.NewReader(src), "test.c")
	an := New(a, global, bag)
	an.Analyze(p.Modules)
	return mod, global, bag
}

func wantClean(t *testing.T, bag *diag.Bag) {
	t.Helper()
	if !bag.Clean() {
		t.Fatalf("unexpected diagnostics: %v", bag.Items())
	}
}

func findSym(t *testing.T, mod *ast.Node, name string) *symtab.Symbol {
	t.Helper()
	s := symtab.Find(mod.Symbol, name)
	if s == nil {
		t.Fatalf("symbol %s not found", name)
	}
	return s
}

func TestDeclaratorTypes(t *testing.T) {
	tests := []struct {
		src  string
		name string
		want string
	}{
		{"int x;", "x", "int"},
		{"int *p;", "p", "int *"},
		{"int a[3];", "a", "int [3]"},
		{"int *a[3];", "a", "int *[3]"},
		{"int (*pa)[3];", "pa", "int (*)[3]"},
		{"char *f(int n);", "f", "char *(int)"},
	}
	for _, tt := range tests {
		mod, _, bag := analyzeString(t, tt.src)
		wantClean(t, bag)
		sym := findSym(t, mod, tt.name)
		if sym.Dt == nil {
			t.Errorf("%q: no type attached", tt.src)
			continue
		}
		got := strings.Join(strings.Fields(types.ToStr(sym.Dt)), " ")
		want := strings.Join(strings.Fields(tt.want), " ")
		if got != want {
			t.Errorf("%q: type %q, want %q", tt.src, got, want)
		}
	}
}

func TestStorageDefaults(t *testing.T) {
	mod, _, bag := analyzeString(t, `
int g;
int f(int p) {
	int l;
	return l + p + g;
}
`)
	wantClean(t, bag)
	if s := findSym(t, mod, "g"); s.Storage != symtab.Static {
		t.Errorf("module-level data defaults to static, got %v", s.Storage)
	}
	f := findSym(t, mod, "f")
	if f.Storage != symtab.Extern {
		t.Errorf("functions default to extern, got %v", f.Storage)
	}
	l := symtab.Find(f, "l")
	if l == nil {
		// l lives in the body block scope under f
		for _, c := range f.Children {
			if c.Tag == symtab.Scope {
				l = symtab.Find(c, "l")
			}
		}
	}
	if l == nil || l.Storage != symtab.Auto {
		t.Errorf("locals default to auto, got %+v", l)
	}
}

func TestStructLayout(t *testing.T) {
	mod, _, bag := analyzeString(t, `
struct A { int x; int y; int z; };
struct B { struct A *a; int v[3]; };
struct A val;
`)
	wantClean(t, bag)
	a := findSym(t, mod, "A")
	if a.Size != 12 {
		t.Errorf("struct A size = %d, want 12", a.Size)
	}
	z := symtab.Child(a, "z")
	if z == nil || z.Offset != 8 {
		t.Errorf("field z offset = %+v, want 8", z)
	}
	b := findSym(t, mod, "B")
	// pointer (8) + 3 ints (12)
	if b.Size != 20 {
		t.Errorf("struct B size = %d, want 20", b.Size)
	}
	v := symtab.Child(b, "v")
	if v == nil || v.Offset != 8 {
		t.Errorf("field v offset = %+v, want 8", v)
	}
}

func TestUnionLayoutAndAnonymousUnion(t *testing.T) {
	mod, _, bag := analyzeString(t, `
struct box {
	int tag;
	union { int i; char c; } u;
};
int probe(struct box *b) {
	return b->tag + b->u.i;
}
`)
	wantClean(t, bag)
	box := findSym(t, mod, "box")
	u := symtab.Child(box, "u")
	if u == nil || u.Offset != 4 {
		t.Fatalf("field u offset = %+v, want 4", u)
	}
	if u.Dt == nil || types.Size(arch.New(arch.Linux), u.Dt) != 4 {
		t.Errorf("union size should be its largest member (4)")
	}
}

func TestEnumAutoIncrement(t *testing.T) {
	mod, _, bag := analyzeString(t, `
enum color { red, green = 5, blue };
`)
	wantClean(t, bag)
	tests := map[string]int64{"red": 0, "green": 5, "blue": 6}
	for name, want := range tests {
		s := findSym(t, mod, name)
		if s.ConstValue != want {
			t.Errorf("%s = %d, want %d", name, s.ConstValue, want)
		}
		if s.Dt == nil {
			t.Errorf("%s has no type attached", name)
		}
	}
}

func TestArraySizeInference(t *testing.T) {
	mod, _, bag := analyzeString(t, `
int a[] = {0, 1, 2, 3, 4};
`)
	wantClean(t, bag)
	a := findSym(t, mod, "a")
	if a.Dt == nil || a.Dt.Tag != types.Array || a.Dt.ArraySize != 5 {
		t.Errorf("inferred size wrong: %s", types.ToStr(a.Dt))
	}
}

func TestStringArrayInference(t *testing.T) {
	mod, _, bag := analyzeString(t, `
char s[] = "abc";
`)
	wantClean(t, bag)
	s := findSym(t, mod, "s")
	if s.Dt == nil || s.Dt.Tag != types.Array || s.Dt.ArraySize != 4 {
		t.Errorf("want char [4], got %s", types.ToStr(s.Dt))
	}
}

func TestExpressionTypesAttached(t *testing.T) {
	mod, _, bag := analyzeString(t, `
int f(int a, int *p) {
	return a + *p;
}
`)
	wantClean(t, bag)
	fn := mod.Children[0].Children[1]
	ret := fn.R.Children[0]
	// Post-analysis every expression node carries a type.
	var walk func(n *ast.Node)
	walk = func(n *ast.Node) {
		if n == nil {
			return
		}
		if ast.IsValueClass(n.Class) && n.Dt == nil {
			t.Errorf("node %s has no type", ast.ClassStr(n.Class))
		}
		walk(n.FirstChild)
		walk(n.L)
		walk(n.R)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(ret.R)
}

func TestDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		frag string
	}{
		{"type mismatch", "int f() { int *p; int x; p = x + 1; return 0; }", "mismatch"},
		{"lvalue required", "int f() { 3 = 4; return 0; }", "lvalue"},
		{"assign to const", "int f() { const int x = 1; x = 2; return 0; }", "const"},
		{"void deref", "int f(void *p) { return *p; }", "void"},
		{"arity", "int g(int a); int f() { return g(1, 2); }", "argument"},
		{"field not found", "struct A { int x; }; int f(struct A a) { return a.y; }", "no field"},
		{"return mismatch", "int *f() { return 3; }", "return type mismatch"},
		{"extern init", "extern int x = 3;", "extern"},
		{"static nonconst init", "int f(int a) { static int x = a; return x; }", "constant"},
		{"negative array size", "int a[-2];", "positive"},
		{"break outside loop", "int f() { break; return 0; }", "break"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, bag := analyzeString(t, tt.src)
			if bag.ErrorCount() == 0 {
				t.Fatalf("expected a diagnostic containing %q", tt.frag)
			}
			found := false
			for _, d := range bag.Items() {
				if strings.Contains(d.Message, tt.frag) {
					found = true
				}
			}
			if !found {
				t.Errorf("no diagnostic contains %q: %v", tt.frag, bag.Items())
			}
		})
	}
}

func TestIncompleteTypeReportedOnce(t *testing.T) {
	_, _, bag := analyzeString(t, `
struct nope;
int f(struct nope *p) {
	struct nope a;
	struct nope b;
	return 0;
}
`)
	if got := bag.ErrorCount(); got != 1 {
		t.Errorf("incomplete struct should be diagnosed once, got %d: %v", got, bag.Items())
	}
}

func TestReanalysisIsIdempotent(t *testing.T) {
	a := arch.New(arch.Linux)
	global := symtab.Init()
	parser.RegisterBuiltins(global, a)
	bag := &diag.Bag{}
	p := parser.New(a, global, bag)
	p.Parse(strings.NewReader(`
int f(int x) { int *p; p = x; return x; }
`), "test.c")
	an := New(a, global, bag)
	an.Analyze(p.Modules)
	first := bag.ErrorCount()
	if first == 0 {
		t.Fatal("expected a diagnostic from the bad assignment")
	}
	bag2 := &diag.Bag{}
	an2 := New(a, global, bag2)
	an2.Analyze(p.Modules)
	if got := bag2.ErrorCount(); got != first {
		t.Errorf("second analysis yields %d errors, first yielded %d", got, first)
	}
}

func TestCompoundLiteral(t *testing.T) {
	mod, _, bag := analyzeString(t, `
struct pair { int a; int b; };
struct pair make(int x) {
	struct pair p;
	p = (struct pair) {x, x + 1};
	return p;
}
`)
	wantClean(t, bag)
	// The literal's backing symbol carries the named type.
	fn := mod.Children[1].Children[1]
	assign := fn.R.Children[1].L
	lit := assign.R
	if lit.Class != ast.CompoundLit || lit.Symbol == nil || lit.Symbol.Dt == nil {
		t.Fatalf("compound literal not typed: %+v", lit)
	}
	if !lit.Dt.IsStruct() {
		t.Errorf("compound literal type = %s, want struct pair", types.ToStr(lit.Dt))
	}
}

func TestBareInitListDiagnosed(t *testing.T) {
	_, _, bag := analyzeString(t, `
int f() {
	int x;
	x = {1, 2};
	return x;
}
`)
	found := false
	for _, d := range bag.Items() {
		if strings.Contains(d.Message, "missing an explicit type") {
			found = true
		}
	}
	if !found {
		t.Errorf("untyped compound literal not diagnosed: %v", bag.Items())
	}
}

func TestFunctionDecaysToPointer(t *testing.T) {
	_, _, bag := analyzeString(t, `
void f();
void (*global)();
int main() {
	(global = f)();
	return 0;
}
`)
	wantClean(t, bag)
}

func TestWideRecordReturnDiagnosed(t *testing.T) {
	_, _, bag := analyzeString(t, `
struct wide { int a; int b; int c; int d; };
struct wide f() {
	struct wide w;
	return w;
}
`)
	found := false
	for _, d := range bag.Items() {
		if strings.Contains(d.Message, "wider than the return register") {
			found = true
		}
	}
	if !found {
		t.Errorf("wide record return not diagnosed: %v", bag.Items())
	}
}

func TestPointerArithmetic(t *testing.T) {
	_, _, bag := analyzeString(t, `
int f(int *p, int n) {
	int *q;
	q = p + n;
	return *q + (q - p);
}
`)
	wantClean(t, bag)
}

func TestVariadicCallToleratesExcessArgs(t *testing.T) {
	_, _, bag := analyzeString(t, `
int log_msg(char *fmt, ...);
int f() {
	return log_msg("x", 1, 2, 3);
}
`)
	wantClean(t, bag)
}
