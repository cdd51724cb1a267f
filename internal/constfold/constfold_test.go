package constfold

import (
	"testing"

	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/ast"
	"github.com/gmofishsauce/fcc/internal/token"
)

var loc = token.Loc{File: "t.c", Line: 1, Col: 1}

func lit(v int64) *ast.Node {
	n := ast.CreateLiteral(loc, ast.LitInt)
	n.IVal = v
	return n
}

func TestArithmeticFolds(t *testing.T) {
	a := arch.New(arch.Linux)
	n := ast.CreateBOP(loc, lit(6), "*", ast.CreateBOP(loc, lit(5), "*", lit(4)))
	r := Eval(a, n)
	if !r.Known || r.Value != 120 {
		t.Fatalf("got %+v, want known 120", r)
	}
}

func TestCallNeverKnown(t *testing.T) {
	a := arch.New(arch.Linux)
	call := ast.CreateCall(loc, ast.CreateLiteral(loc, ast.LitIdent))
	r := Eval(a, call)
	if r.Known {
		t.Fatalf("call must never be known, got %+v", r)
	}
}

func TestShortCircuitOr(t *testing.T) {
	a := arch.New(arch.Linux)
	// unknown || true -> known true
	unknownLeaf := ast.CreateCall(loc, ast.CreateLiteral(loc, ast.LitIdent))
	n := ast.CreateBOP(loc, unknownLeaf, "||", lit(1))
	r := Eval(a, n)
	if !r.Known || r.Value != 1 {
		t.Fatalf("got %+v, want known true via short-circuit", r)
	}
}

func TestDivisionByZeroUnknown(t *testing.T) {
	a := arch.New(arch.Linux)
	n := ast.CreateBOP(loc, lit(4), "/", lit(0))
	r := Eval(a, n)
	if r.Known {
		t.Fatalf("division by zero must not be known, got %+v", r)
	}
}

func TestNeverPanics(t *testing.T) {
	a := arch.New(arch.Linux)
	nodes := []*ast.Node{
		nil,
		ast.Create(ast.Undefined, loc),
		ast.CreateUOP(loc, "&", lit(1)),
		ast.CreateIndex(loc, lit(1), lit(0)),
	}
	for _, n := range nodes {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Eval panicked on %+v: %v", n, r)
				}
			}()
			Eval(a, n)
		}()
	}
}
