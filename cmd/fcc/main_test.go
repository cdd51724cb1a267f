package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// compileSource writes src to a temp file and runs the pipeline on it,
// returning the handler-style exit code and the generated assembly.
func compileSource(t *testing.T, src string) (int, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.c")
	out := filepath.Join(dir, "in.s")
	if err := os.WriteFile(in, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	code := compileOne(in, out)
	asm := ""
	if b, err := os.ReadFile(out); err == nil {
		asm = string(b)
	}
	return code, asm
}

func TestScenarioConstantExpression(t *testing.T) {
	code, asm := compileSource(t, `
int main() {
	return 6*5*4*3*2*1;
}
`)
	if code != 0 {
		t.Fatal("clean program must compile")
	}
	if !strings.Contains(asm, ".globl main") {
		t.Error("entry point not exported")
	}
}

func TestScenarioArrayAliasing(t *testing.T) {
	code, asm := compileSource(t, `
int f(int *p) {
	p[1] = p[1] * 2;
	p[2] = p[2] * 4;
	return 0;
}
int main() {
	int a[5];
	a[0] = 0; a[1] = 1; a[2] = 2; a[3] = 3; a[4] = 4;
	f(a);
	a[1] = a[1] * 2;
	return a[1] + a[2];
}
`)
	if code != 0 {
		t.Fatalf("aliasing scenario failed to compile:\n%s", asm)
	}
	if !strings.Contains(asm, "call f") {
		t.Error("call to f missing")
	}
}

func TestScenarioStructPointerFields(t *testing.T) {
	code, _ := compileSource(t, `
struct A { int x; int y; int z; };
struct B { struct A *x; int y[3]; };
int f(struct B *b) {
	return b->x->y;
}
int main() {
	struct A a;
	struct B b;
	a.y = 2;
	b.x = &a;
	b.y[1] = 5;
	b.x->y = b.x->y * 2;
	return b.y[1] + f(&b);
}
`)
	if code != 0 {
		t.Fatal("struct scenario failed to compile")
	}
}

func TestScenarioRecursiveFactorial(t *testing.T) {
	code, asm := compileSource(t, `
int fact(int n) {
	if (n <= 1) {
		return 1;
	}
	return n * fact(n - 1);
}
int main() {
	return fact(6);
}
`)
	if code != 0 {
		t.Fatal("factorial failed to compile")
	}
	if !strings.Contains(asm, "call fact") {
		t.Error("recursive call missing")
	}
}

func TestScenarioEmptyForComponents(t *testing.T) {
	code, _ := compileSource(t, `
int main() {
	int i;
	i = 0;
	for (;;) {
		i = i + 1;
		if (i >= 10) {
			break;
		}
	}
	return i;
}
`)
	if code != 0 {
		t.Fatal("empty-component for loop failed to compile")
	}
}

func TestScenarioUndefinedIdentifier(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.c")
	out := filepath.Join(dir, "in.s")
	src := `
int main() {
	return nope + nada;
}
`
	if err := os.WriteFile(in, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	code := compileOne(in, out)
	if code == 0 {
		t.Fatal("undefined identifiers must fail the compile")
	}
	if _, err := os.Stat(out); err == nil {
		t.Error("no assembly may be emitted on error")
	}
}

func TestVariadicFunction(t *testing.T) {
	code, _ := compileSource(t, `
int sum(int n, ...) {
	char *ap;
	int total;
	int i;
	total = 0;
	va_start(ap, n);
	for (i = 0; i < n; i = i + 1) {
		total = total + va_arg(ap, int);
	}
	va_end(ap);
	return total;
}
int main() {
	return sum(3, 10, 20, 30);
}
`)
	if code != 0 {
		t.Fatal("variadic function failed to compile")
	}
}

func TestCompoundLiteralReturn(t *testing.T) {
	code, asm := compileSource(t, `
struct pair { int lo; int hi; };
struct pair make(int x) {
	return (struct pair) {x, x + 1};
}
int main() {
	struct pair p;
	p = make(4);
	return p.hi;
}
`)
	if code != 0 {
		t.Fatalf("compound literal return failed to compile:\n%s", asm)
	}
	if !strings.Contains(asm, "call make") {
		t.Error("call to make missing")
	}
}

func TestCallThroughAssignedPointer(t *testing.T) {
	code, asm := compileSource(t, `
int f() { return 3; }
int (*global)();
int main() {
	return (global = f)();
}
`)
	if code != 0 {
		t.Fatalf("call through assigned function pointer failed to compile:\n%s", asm)
	}
	// The callee comes out of a register, not a direct label call.
	if strings.Contains(asm, "call f\n") {
		t.Error("call must go through the pointer, not directly to f")
	}
}

func TestUsingInclusion(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.c")
	mainc := filepath.Join(dir, "main.c")
	out := filepath.Join(dir, "main.s")
	os.WriteFile(lib, []byte("int helper(int x) { return x + 1; }\n"), 0o644)
	os.WriteFile(mainc, []byte(`using "lib.c";
int main() { return helper(41); }
`), 0o644)
	code := compileOne(mainc, out)
	if code != 0 {
		t.Fatal("using-inclusion failed to compile")
	}
	asm, _ := os.ReadFile(out)
	if !strings.Contains(string(asm), ".globl helper") {
		t.Error("included module's function not emitted")
	}
}
