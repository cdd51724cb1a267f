// Package ast defines the compiler's abstract syntax tree: a single
// tagged node shape with two superimposed structures — an ordered
// container (for modules, parameter lists, compound statements, call
// arguments, init lists) and a small fixed-arity binary/unary operator
// tree (l, op, r, plus firstChild for the ternary condition).
package ast

import (
	"github.com/gmofishsauce/fcc/internal/symtab"
	"github.com/gmofishsauce/fcc/internal/token"
	"github.com/gmofishsauce/fcc/internal/types"
)

// Class tags the shape and meaning of a Node.
type Class int

const (
	Undefined Class = iota
	Empty

	// Containers / declarations
	Module
	Using
	Decl      // a declaration of one or more declarators sharing a base type
	Declarator // one name + its declarator chain, optional initializer
	StructDef
	UnionDef
	EnumDef
	EnumConst
	Function
	Param

	// Statements
	Block
	If
	While
	DoWhile
	For
	Return
	Break
	Continue
	ExprStmt

	// Expressions
	BOP
	UOP
	PostOP // postfix ++/--
	TOP    // ternary
	Index
	Call
	Member   // a.b
	PtrMember // a->b
	Cast
	CompoundLit // (type){ init-list }
	Sizeof
	VaStart
	VaEnd
	VaArg
	VaCopy
	InitList

	Literal

	// Declarator-tree nodes: the parser builds these to mirror the C
	// declarator grammar (spec §4.4's DeclExpr/DeclUnary/DeclObject/
	// DeclAtom productions) without committing to a *types.Type until
	// the analyzer walks the tree outward (spec §4.6 step 3).
	TypeSpec  // base-type specifier: builtin keyword or struct/union/enum/typedef symbol
	DeclPtr   // '*' wrap; R = inner declarator tree (bottoms out at a TypeSpec)
	DeclArray // '[' size ']' wrap; L = inner, R = size expression (nil if unspecified)
	DeclFunc  // '(' params ')' wrap; L = inner, Children = Param nodes
)

// LiteralClass tags the payload carried by a Literal node.
type LiteralClass int

const (
	LitUndefined LiteralClass = iota
	LitIdent
	LitInt
	LitBool
	LitChar
	LitString
)

// Node is the single AST node shape. Container children are held in an
// ordered Children slice; operator shape uses L/Op/R (and FirstChild for
// the ternary condition); exactly the fields relevant to Class are set.
type Node struct {
	Class Class
	Loc   token.Loc

	// Container shape: ordered children owned by this node.
	Children []*Node

	// Binary/unary/ternary operator shape.
	FirstChild *Node // ternary condition
	L          *Node
	Op         string
	R          *Node

	Dt     *types.Type // result type, filled by the analyzer
	Symbol *symtab.Symbol

	Storage symtab.Storage // for declarators

	LitClass LiteralClass
	// Literal payload: exactly one is meaningful per LitClass.
	IVal   int64
	SVal   string
	Ident  string

	IsConst  bool // DeclPtr wrap, TypeSpec base
	Variadic bool // DeclFunc, Function
}

// Create allocates a bare node of the given class.
func Create(class Class, loc token.Loc) *Node {
	return &Node{Class: class, Loc: loc}
}

// CreateBOP builds a binary-operator node.
func CreateBOP(loc token.Loc, l *Node, op string, r *Node) *Node {
	return &Node{Class: BOP, Loc: loc, L: l, Op: op, R: r}
}

// CreateUOP builds a unary-operator node; the operand is always stored
// in R, matching the original pipeline's convention that unary ops
// never populate L.
func CreateUOP(loc token.Loc, op string, r *Node) *Node {
	return &Node{Class: UOP, Loc: loc, Op: op, R: r}
}

// CreateTOP builds a ternary (cond ? l : r) node.
func CreateTOP(loc token.Loc, cond, l, r *Node) *Node {
	return &Node{Class: TOP, Loc: loc, FirstChild: cond, L: l, R: r}
}

// CreateIndex builds an `a[i]` node: L is the base, R is the index.
func CreateIndex(loc token.Loc, base, index *Node) *Node {
	return &Node{Class: Index, Loc: loc, L: base, R: index}
}

// CreateCall builds a call node; arguments are appended as Children.
func CreateCall(loc token.Loc, fn *Node) *Node {
	return &Node{Class: Call, Loc: loc, L: fn}
}

// CreateLiteral builds a bare literal node of the given payload class.
func CreateLiteral(loc token.Loc, class LiteralClass) *Node {
	return &Node{Class: Literal, Loc: loc, LitClass: class}
}

// CreateTypeSpec builds a base-type specifier leaf: Ident carries the
// builtin keyword name when Symbol is nil, otherwise Symbol names the
// resolved struct/union/enum/typedef.
func CreateTypeSpec(loc token.Loc, ident string, sym *symtab.Symbol, isConst bool) *Node {
	return &Node{Class: TypeSpec, Loc: loc, Ident: ident, Symbol: sym, IsConst: isConst}
}

// CreateDeclPtr wraps inner in a pointer layer.
func CreateDeclPtr(loc token.Loc, inner *Node, isConst bool) *Node {
	return &Node{Class: DeclPtr, Loc: loc, R: inner, IsConst: isConst}
}

// CreateDeclArray wraps inner in an array layer; size may be nil
// (unspecified, to be inferred from an initializer).
func CreateDeclArray(loc token.Loc, inner, size *Node) *Node {
	return &Node{Class: DeclArray, Loc: loc, L: inner, R: size}
}

// CreateDeclFunc wraps inner in a function layer with the given
// parameter declarator nodes.
func CreateDeclFunc(loc token.Loc, inner *Node, params []*Node, variadic bool) *Node {
	return &Node{Class: DeclFunc, Loc: loc, L: inner, Children: params, Variadic: variadic}
}

// AddChild appends child to parent's ordered children.
func AddChild(parent, child *Node) {
	if child == nil {
		return
	}
	parent.Children = append(parent.Children, child)
}

// IsValueClass reports whether class denotes a node that yields a value
// (as opposed to a pure declaration or statement), used by the
// analyzer and emitter to decide whether to recurse.
func IsValueClass(class Class) bool {
	switch class {
	case BOP, UOP, PostOP, TOP, Index, Call, Member, PtrMember, Cast, CompoundLit,
		Sizeof, VaArg, Literal, InitList:
		return true
	}
	return false
}

// ClassStr returns a human-readable name for class, used by diagnostics.
func ClassStr(class Class) string {
	switch class {
	case Undefined:
		return "undefined"
	case Empty:
		return "empty"
	case Module:
		return "module"
	case Using:
		return "using"
	case Decl:
		return "declaration"
	case Declarator:
		return "declarator"
	case StructDef:
		return "struct"
	case UnionDef:
		return "union"
	case EnumDef:
		return "enum"
	case EnumConst:
		return "enum constant"
	case Function:
		return "function"
	case Param:
		return "parameter"
	case Block:
		return "block"
	case If:
		return "if"
	case While:
		return "while"
	case DoWhile:
		return "do-while"
	case For:
		return "for"
	case Return:
		return "return"
	case Break:
		return "break"
	case Continue:
		return "continue"
	case ExprStmt:
		return "expression statement"
	case BOP:
		return "binary operation"
	case UOP:
		return "unary operation"
	case PostOP:
		return "postfix operation"
	case TOP:
		return "ternary operation"
	case Index:
		return "index"
	case Call:
		return "call"
	case Member:
		return "member access"
	case PtrMember:
		return "pointer member access"
	case Cast:
		return "cast"
	case CompoundLit:
		return "compound literal"
	case Sizeof:
		return "sizeof"
	case VaStart, VaEnd, VaArg, VaCopy:
		return "variadic-argument operation"
	case InitList:
		return "initializer list"
	case Literal:
		return "literal"
	case TypeSpec:
		return "type specifier"
	case DeclPtr:
		return "pointer declarator"
	case DeclArray:
		return "array declarator"
	case DeclFunc:
		return "function declarator"
	default:
		return "?"
	}
}
