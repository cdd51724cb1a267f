// Package types implements the compiler's type representation: a tagged
// variant over basic/pointer/array/function/invalid, with structural
// equality and compatibility and the capability predicates the analyzer
// uses to check operator applicability.
package types

import (
	"fmt"
	"strings"

	"github.com/gmofishsauce/fcc/internal/arch"
)

// Tag is the variant discriminator for Type.
type Tag int

const (
	Basic Tag = iota
	Ptr
	Array
	Function
	Invalid
)

// CapMask is a bitset of operator-applicability capabilities attached to
// basic types (built-ins and struct/union/enum symbols alike).
type CapMask int

const (
	Numeric CapMask = 1 << iota
	Ordinal
	Equality
	Assignment
	Condition
)

const (
	Integral = Numeric | Ordinal | Equality | Assignment | Condition
	BoolCap  = Equality | Assignment | Condition
	StructCap = Assignment
	UnionCap  = Assignment
	EnumCap   = Integral
)

// BasicSym identifies one of the language's named atomic types: a built-in
// or a struct/union/enum tag.
type BasicSym struct {
	Name string
	Size int // bytes; 0 for incomplete struct/union/enum
	Caps CapMask
	Complete bool

	// Sym is the defining symtab.Symbol, held as an opaque value
	// because symtab already imports types. The analyzer asserts it
	// back when it needs the record's field children.
	Sym interface{}
}

// ArraySizeUnspecified marks an array declared `T x[]`, to be inferred
// from its initializer. ArraySizeError marks one where a previous error
// prevented a size being computed, so downstream checks silently accept it.
const (
	ArraySizeUnspecified = -1
	ArraySizeError       = -2
)

// Type is a tagged variant: {basic(symbol-ref), ptr(base), array(base,
// size), function(return, params, variadic), invalid}. Exactly one of
// the payload fields is meaningful per Tag.
type Type struct {
	Tag     Tag
	IsConst bool

	Basic *BasicSym // Tag == Basic

	Base *Type // Tag == Ptr || Tag == Array

	ArraySize int // Tag == Array

	Return   *Type   // Tag == Function
	Params   []*Type // Tag == Function
	Variadic bool    // Tag == Function
}

func NewBasic(b *BasicSym) *Type { return &Type{Tag: Basic, Basic: b} }
func NewPtr(base *Type) *Type    { return &Type{Tag: Ptr, Base: base} }
func NewArray(base *Type, size int) *Type {
	return &Type{Tag: Array, Base: base, ArraySize: size}
}
func NewFunction(ret *Type, params []*Type, variadic bool) *Type {
	return &Type{Tag: Function, Return: ret, Params: params, Variadic: variadic}
}
func NewInvalid() *Type { return &Type{Tag: Invalid} }

// DeepDuplicate clones t and everything it owns. Every AST node that
// stores a type owns a private copy, duplicated at every transfer
// (see the ownership note in the type-interning open question, DESIGN.md).
func DeepDuplicate(t *Type) *Type {
	if t == nil {
		return nil
	}
	dup := *t
	dup.Base = DeepDuplicate(t.Base)
	dup.Return = DeepDuplicate(t.Return)
	if t.Params != nil {
		dup.Params = make([]*Type, len(t.Params))
		for i, p := range t.Params {
			dup.Params[i] = DeepDuplicate(p)
		}
	}
	return &dup
}

func (t *Type) IsBasic() bool    { return t.Tag == Basic || t.Tag == Invalid }
func (t *Type) IsPtr() bool      { return t.Tag == Ptr || t.Tag == Invalid }
func (t *Type) IsArray() bool    { return t.Tag == Array || t.Tag == Invalid }
func (t *Type) IsFunction() bool { return t.Tag == Function || t.Tag == Invalid }
func (t *Type) IsInvalid() bool  { return t.Tag == Invalid }

func (t *Type) IsVoid() bool {
	return t.Tag == Basic && t.Basic != nil && t.Basic.Name == "void"
}

func (t *Type) IsStruct() bool {
	return t.Tag == Basic && t.Basic != nil && t.Basic.Caps&StructCap != 0 && strings.HasPrefix(t.Basic.Name, "struct ")
}

func (t *Type) IsUnion() bool {
	return t.Tag == Basic && t.Basic != nil && strings.HasPrefix(t.Basic.Name, "union ")
}

// IsComplete reports whether t denotes a fully-sized type: void counts
// as complete, functions never do, arrays of unspecified size are not,
// and struct/union/enum basics must have their body analyzed.
func (t *Type) IsComplete() bool {
	switch t.Tag {
	case Invalid:
		return true
	case Basic:
		return t.Basic != nil && (t.Basic.Complete || t.Basic.Size > 0 || t.IsVoid())
	case Ptr:
		return true
	case Array:
		return t.ArraySize >= 0 && t.Base.IsComplete()
	case Function:
		return false
	}
	return false
}

func (t *Type) IsMutable() bool { return !t.IsConst }

func (t *Type) caps() CapMask {
	if t.Tag == Invalid {
		return Numeric | Ordinal | Equality | Assignment | Condition
	}
	if t.Tag == Ptr {
		return Equality | Assignment | Condition
	}
	if t.Tag == Basic && t.Basic != nil {
		return t.Basic.Caps
	}
	return 0
}

func (t *Type) IsNumeric() bool   { return t.caps()&Numeric != 0 }
func (t *Type) IsOrdinal() bool   { return t.caps()&Ordinal != 0 }
func (t *Type) IsEquality() bool  { return t.caps()&Equality != 0 }
func (t *Type) IsAssignment() bool { return t.caps()&Assignment != 0 }
func (t *Type) IsCondition() bool { return t.caps()&Condition != 0 }

// decay turns an array into a pointer to its element and a function
// into a pointer to it, per C value semantics; used only by
// IsCompatible, never by IsEqual.
func decay(t *Type) *Type {
	if t.Tag == Array {
		return &Type{Tag: Ptr, Base: t.Base}
	}
	if t.Tag == Function {
		return &Type{Tag: Ptr, Base: t}
	}
	return t
}

// IsEqual is strict structural equality: no array-to-pointer decay.
func IsEqual(l, r *Type) bool {
	if l == nil || r == nil {
		return l == r
	}
	if l.Tag == Invalid || r.Tag == Invalid {
		return true
	}
	if l.Tag != r.Tag {
		return false
	}
	switch l.Tag {
	case Basic:
		return l.Basic == r.Basic
	case Ptr:
		return IsEqual(l.Base, r.Base)
	case Array:
		if l.ArraySize != r.ArraySize {
			return false
		}
		return IsEqual(l.Base, r.Base)
	case Function:
		if len(l.Params) != len(r.Params) || l.Variadic != r.Variadic {
			return false
		}
		if !IsEqual(l.Return, r.Return) {
			return false
		}
		for i := range l.Params {
			if !IsEqual(l.Params[i], r.Params[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// IsCompatible relaxes IsEqual: arrays decay to pointers, and a -1-sized
// (unspecified) array matches any concretely-sized array of the same
// element type.
func IsCompatible(t, model *Type) bool {
	if t == nil || model == nil {
		return t == model
	}
	if t.Tag == Invalid || model.Tag == Invalid {
		return true
	}
	if t.Tag == Array && model.Tag == Array {
		if (t.ArraySize == ArraySizeUnspecified || model.ArraySize == ArraySizeUnspecified ||
			t.ArraySize == model.ArraySize) {
			return IsCompatible(t.Base, model.Base)
		}
		return false
	}
	return IsEqual(decay(t), decay(model))
}

// Size computes t's size in bytes per arch: 0 for void, arch.WordSize
// for any pointer or function, base-size * count for arrays, the
// basic's recorded size otherwise.
func Size(a *arch.Arch, t *Type) int {
	switch t.Tag {
	case Invalid:
		return a.WordSize
	case Basic:
		if t.IsVoid() {
			return 0
		}
		if t.Basic != nil {
			return t.Basic.Size
		}
		return 0
	case Ptr, Function:
		return a.WordSize
	case Array:
		if t.ArraySize < 0 {
			return 0
		}
		return Size(a, t.Base) * t.ArraySize
	}
	return 0
}

// ToStrEmbed produces a C-style declarator with an embedded name slot,
// e.g. ToStrEmbed(intPtrArray3, "x") -> "int (*x)[3]"-ish text used by
// diagnostics; embedded may be "" to just print the bare type.
func ToStrEmbed(t *Type, embedded string) string {
	switch t.Tag {
	case Invalid:
		return joinName("<invalid>", embedded)
	case Basic:
		name := "?"
		if t.Basic != nil {
			name = t.Basic.Name
		}
		if t.IsConst {
			name = "const " + name
		}
		return joinName(name, embedded)
	case Ptr:
		inner := "*" + embedded
		if needsParens(t.Base) {
			inner = "(" + inner + ")"
		}
		return ToStrEmbed(t.Base, inner)
	case Array:
		size := fmt.Sprintf("%d", t.ArraySize)
		if t.ArraySize == ArraySizeUnspecified {
			size = ""
		}
		return ToStrEmbed(t.Base, fmt.Sprintf("%s[%s]", embedded, size))
	case Function:
		var params []string
		for _, p := range t.Params {
			params = append(params, ToStrEmbed(p, ""))
		}
		if t.Variadic {
			params = append(params, "...")
		}
		return ToStrEmbed(t.Return, fmt.Sprintf("%s(%s)", embedded, strings.Join(params, ", ")))
	}
	return embedded
}

func needsParens(base *Type) bool {
	return base != nil && (base.Tag == Array || base.Tag == Function)
}

func joinName(typeName, embedded string) string {
	if embedded == "" {
		return typeName
	}
	return typeName + " " + embedded
}

// ToStr prints t with no embedded declarator name.
func ToStr(t *Type) string { return ToStrEmbed(t, "") }
