// Package constfold folds integer-constant expressions over the AST.
// It is a total function: it never panics, and every operator either
// returns known=true with a value or known=false.
package constfold

import (
	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/ast"
	"github.com/gmofishsauce/fcc/internal/symtab"
	"github.com/gmofishsauce/fcc/internal/types"
)

// Result is the {known, value} pair the evaluator returns for every node.
type Result struct {
	Known bool
	Value int64
}

func unknown() Result { return Result{} }
func known(v int64) Result { return Result{Known: true, Value: v} }

// Eval recursively folds n. Address-of, dereference, pre/post-increment,
// call, and indexing are never known; assignment is never known.
func Eval(a *arch.Arch, n *ast.Node) Result {
	if n == nil {
		return unknown()
	}
	switch n.Class {
	case ast.BOP:
		return evalBOP(a, n)
	case ast.UOP:
		return evalUOP(a, n)
	case ast.TOP:
		return evalTOP(a, n)
	case ast.Cast:
		return evalCast(a, n)
	case ast.Sizeof:
		return evalSizeof(a, n)
	case ast.Literal:
		return evalLiteral(n)
	default:
		// Call, Index, VaStart/End/Arg/Copy, and anything else: never known.
		return unknown()
	}
}

func isAssignOp(op string) bool {
	switch op {
	case "=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>=":
		return true
	}
	return false
}

func isMemberOp(op string) bool { return op == "." || op == "->" }

func evalBOP(a *arch.Arch, n *ast.Node) Result {
	l := Eval(a, n.L)
	r := Eval(a, n.R)

	if isAssignOp(n.Op) {
		return unknown()
	}
	if isMemberOp(n.Op) {
		return r
	}

	switch n.Op {
	case "&&":
		if l.Known && r.Known {
			return boolResult(l.Value != 0 && r.Value != 0)
		}
		if (l.Known && l.Value == 0) || (r.Known && r.Value == 0) {
			return known(0)
		}
		return unknown()
	case "||":
		if l.Known && r.Known {
			return boolResult(l.Value != 0 || r.Value != 0)
		}
		if (l.Known && l.Value != 0) || (r.Known && r.Value != 0) {
			return known(1)
		}
		return unknown()
	}

	if !l.Known || !r.Known {
		return unknown()
	}

	switch n.Op {
	case "+":
		return known(l.Value + r.Value)
	case "-":
		return known(l.Value - r.Value)
	case "*":
		return known(l.Value * r.Value)
	case "/":
		if r.Value == 0 {
			return unknown()
		}
		return known(l.Value / r.Value)
	case "%":
		if r.Value == 0 {
			return unknown()
		}
		return known(l.Value % r.Value)
	case "&":
		return known(l.Value & r.Value)
	case "|":
		return known(l.Value | r.Value)
	case "^":
		return known(l.Value ^ r.Value)
	case "<<":
		return known(l.Value << uint(r.Value))
	case ">>":
		return known(l.Value >> uint(r.Value))
	case "==":
		return boolResult(l.Value == r.Value)
	case "!=":
		return boolResult(l.Value != r.Value)
	case "<":
		return boolResult(l.Value < r.Value)
	case "<=":
		return boolResult(l.Value <= r.Value)
	case ">":
		return boolResult(l.Value > r.Value)
	case ">=":
		return boolResult(l.Value >= r.Value)
	case ",":
		return known(r.Value)
	}
	return unknown()
}

func evalUOP(a *arch.Arch, n *ast.Node) Result {
	switch n.Op {
	case "&", "*", "++", "--":
		return unknown()
	}
	r := Eval(a, n.R)
	if !r.Known {
		return unknown()
	}
	switch n.Op {
	case "-":
		return known(-r.Value)
	case "~":
		return known(^r.Value)
	case "!":
		return boolResult(r.Value == 0)
	case "+":
		return known(r.Value)
	}
	return unknown()
}

func evalTOP(a *arch.Arch, n *ast.Node) Result {
	cond := Eval(a, n.FirstChild)
	if !cond.Known {
		return unknown()
	}
	if cond.Value != 0 {
		return Eval(a, n.L)
	}
	return Eval(a, n.R)
}

func evalCast(a *arch.Arch, n *ast.Node) Result {
	r := Eval(a, n.R)
	if !r.Known {
		return unknown()
	}
	return truncate(n.Dt, r.Value)
}

// truncate narrows v to fit dt's size, matching the target integer width.
func truncate(dt *types.Type, v int64) Result {
	if dt == nil {
		return known(v)
	}
	size := 0
	if dt.Tag == types.Basic && dt.Basic != nil {
		size = dt.Basic.Size
	}
	switch size {
	case 1:
		return known(int64(int8(v)))
	case 2:
		return known(int64(int16(v)))
	case 4:
		return known(int64(int32(v)))
	default:
		return known(v)
	}
}

func evalSizeof(a *arch.Arch, n *ast.Node) Result {
	// sizeof is always known: it never evaluates its operand at runtime.
	// The measured type lives on the operand node (R for the expression
	// form, L for the type-name form); the sizeof node itself types as int.
	target := n.R
	if target == nil {
		target = n.L
	}
	if target == nil || target.Dt == nil {
		return known(0)
	}
	return known(int64(types.Size(a, target.Dt)))
}

func evalLiteral(n *ast.Node) Result {
	switch n.LitClass {
	case ast.LitInt, ast.LitChar:
		return known(n.IVal)
	case ast.LitBool:
		return known(n.IVal)
	case ast.LitIdent:
		// An identifier naming an enum constant carries its value directly
		// once the analyzer has resolved it (see sem's enum-constant pass);
		// any other identifier reference is never compile-time known.
		if n.Symbol != nil && n.Symbol.Tag == symtab.EnumConstant {
			return known(n.Symbol.ConstValue)
		}
		return unknown()
	default:
		return unknown()
	}
}

func boolResult(b bool) Result {
	if b {
		return known(1)
	}
	return known(0)
}

// IsConstantInit recursively validates that n (an initializer expression)
// is made up entirely of compile-time-known leaves: whatever Eval folds
// (integer, character and boolean literals, enum constants, and
// arithmetic over them), and initializer lists whose every element is
// itself constant. A string literal is not accepted here.
func IsConstantInit(a *arch.Arch, n *ast.Node) bool {
	if n == nil {
		return true
	}
	if n.Class == ast.InitList {
		for _, c := range n.Children {
			if !IsConstantInit(a, c) {
				return false
			}
		}
		return true
	}
	return Eval(a, n).Known
}
