package asmwriter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/ir"
)

func TestOperandRendering(t *testing.T) {
	tests := []struct {
		op   ir.Operand
		want string
	}{
		{ir.RegOperand(arch.RAX, 8), "rax"},
		{ir.RegOperand(arch.RAX, 4), "eax"},
		{ir.RegOperand(arch.RCX, 1), "cl"},
		{ir.RegOperand(arch.R8, 2), "r8w"},
		{ir.LiteralOperand(-7), "-7"},
		{ir.MemOperand(arch.RBP, arch.RegUndefined, 0, -8, 4), "dword ptr [rbp-8]"},
		{ir.MemOperand(arch.RBP, arch.RegUndefined, 0, 16, 8), "qword ptr [rbp+16]"},
		{ir.MemOperand(arch.RSI, arch.RDI, 4, 0, 4), "dword ptr [rsi+rdi*4]"},
		{ir.LabelOperand("main"), "main"},
		{ir.LabelMemOperand("counter", 4), "dword ptr [rip+counter]"},
		{ir.LabelOffsetOperand("table"), "offset table"},
	}
	for _, tt := range tests {
		if got := Operand(tt.op); got != tt.want {
			t.Errorf("Operand(%+v) = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestFunctionLayout(t *testing.T) {
	ctx := ir.NewContext()
	fn := ctx.CreateFn("main", 16)
	ctx.Jump(fn.Entry, fn.Epilogue)

	var buf bytes.Buffer
	w := New(&buf)
	w.Header()
	w.Function(fn)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, frag := range []string{
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
	} {
		if !strings.Contains(out, frag) {
			t.Errorf("output missing %q:\n%s", frag, out)
		}
	}
	// The prologue's push rbp precedes the epilogue's ret.
	if strings.Index(out, "push rbp") > strings.Index(out, "ret") {
		t.Error("prologue after epilogue")
	}
}

func TestBranchTerminator(t *testing.T) {
	ctx := ir.NewContext()
	fn := ctx.CreateFn("f", 0)
	a := ctx.CreateBlock(fn)
	b := ctx.CreateBlock(fn)
	ctx.Branch(fn.Entry, ir.CondGE, a, b)
	ctx.Jump(a, fn.Epilogue)
	ctx.Jump(b, fn.Epilogue)

	var buf bytes.Buffer
	w := New(&buf)
	w.Function(fn)
	w.Flush()
	out := buf.String()
	if !strings.Contains(out, "jge "+a.Label) {
		t.Errorf("branch must test the condition toward the true block:\n%s", out)
	}
	if !strings.Contains(out, "jmp "+b.Label) {
		t.Errorf("branch must fall to the false block with jmp:\n%s", out)
	}
}

func TestStaticsSection(t *testing.T) {
	ctx := ir.NewContext()
	ctx.StringConstant("hi")

	var buf bytes.Buffer
	w := New(&buf)
	w.Statics(ctx.Statics)
	w.Flush()
	out := buf.String()
	if !strings.Contains(out, ".section .rodata") {
		t.Error("strings must land in a read-only section")
	}
	if !strings.Contains(out, ".byte 104, 105, 0") {
		t.Errorf("string image must be NUL-terminated bytes:\n%s", out)
	}
}

func TestDataSection(t *testing.T) {
	globals := []*ir.StaticData{
		{Label: "zeroed", Bytes: make([]byte, 16)},
		{Label: "filled", Bytes: []byte{7, 0, 0, 0}},
	}
	var buf bytes.Buffer
	w := New(&buf)
	w.Data(globals)
	w.Flush()
	out := buf.String()
	if !strings.Contains(out, ".data") {
		t.Error("globals must land in the data section")
	}
	if !strings.Contains(out, ".zero 16") {
		t.Error("all-zero images should use .zero")
	}
	if !strings.Contains(out, ".byte 7, 0, 0, 0") {
		t.Error("initialized images should list bytes")
	}
}
