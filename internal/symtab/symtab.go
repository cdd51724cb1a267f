// Package symtab implements the nested-scope symbol table: a tree of
// Symbols, each owning its ordered children, supporting module links and
// link-on-redeclaration.
package symtab

import (
	"github.com/gmofishsauce/fcc/internal/ir"
	"github.com/gmofishsauce/fcc/internal/token"
	"github.com/gmofishsauce/fcc/internal/types"
)

// Tag is the kind of a Symbol node.
type Tag int

const (
	Undefined Tag = iota
	Scope
	ModuleLink
	Link
	TypeSym
	Typedef
	Struct
	Union
	Enum
	EnumConstant
	Id
	Param
)

// Storage is the linkage/lifetime classification of a variable/function.
type Storage int

const (
	StorageUndefined Storage = iota
	Auto
	Static
	Extern
	StorageTypedef
)

func (s Storage) String() string {
	switch s {
	case Auto:
		return "auto"
	case Static:
		return "static"
	case Extern:
		return "extern"
	case StorageTypedef:
		return "typedef"
	default:
		return "undefined"
	}
}

// Decl records one AST declaration site for a Symbol; ast.Node itself
// isn't imported here (it would create an import cycle with ast, which
// stores *Symbol on its own nodes), so the analyzer supplies decl nodes
// as opaque values it type-asserts back to *ast.Node.
type Decl interface{}

// Symbol is a node in the scope tree. The global symbol (returned by
// Init) exclusively owns the whole forest: destroying it (dropping the
// reference) frees every descendant.
type Symbol struct {
	Tag   Tag
	Ident string

	Parent      *Symbol
	Children    []*Symbol
	NthInParent int

	// ModuleLink/Link targets: for ModuleLink, points at the included
	// file's module scope; for Link, points at the symbol that replaced
	// it after a legal redeclaration moved it to a new scope.
	Target *Symbol

	Decls []Decl
	Impl  Decl

	Storage Storage
	Dt      *types.Type

	Size     int
	TypeMask types.CapMask
	Complete bool

	Offset     int
	ConstValue int64
	Label      string

	// IRFn is set by the emitter once a function symbol's body has been
	// lowered, so later references (calls) can find its mangled name
	// and block graph without a second lookup pass.
	IRFn *ir.Fn

	// Basic is the canonical types.BasicSym for a type-like symbol,
	// created once by BasicType. Sharing one BasicSym per symbol makes
	// types.IsEqual's pointer comparison mean "same declared type".
	Basic *types.BasicSym

	Loc token.Loc
}

// BasicType returns s's canonical basic-type descriptor, creating it on
// first use. The analyzer mutates the returned value in place when a
// struct/union/enum body completes, so every type already referring to
// it sees the final size.
func (s *Symbol) BasicType() *types.BasicSym {
	if s.Basic == nil {
		name := s.Ident
		switch s.Tag {
		case Struct:
			name = "struct " + s.Ident
		case Union:
			name = "union " + s.Ident
		case Enum:
			name = "enum " + s.Ident
		}
		s.Basic = &types.BasicSym{
			Name:     name,
			Size:     s.Size,
			Caps:     s.TypeMask,
			Complete: s.Complete || s.Size > 0 || s.Tag == TypeSym,
			Sym:      s,
		}
	}
	return s.Basic
}

// Init creates and returns the global namespace symbol.
func Init() *Symbol {
	return &Symbol{Tag: Scope, Ident: ""}
}

func appendChild(parent, child *Symbol) {
	child.Parent = parent
	child.NthInParent = len(parent.Children)
	parent.Children = append(parent.Children, child)
}

// CreateScope allocates an anonymous block scope under parent.
func CreateScope(parent *Symbol) *Symbol {
	s := &Symbol{Tag: Scope}
	appendChild(parent, s)
	return s
}

// CreateModuleLink grafts module's global scope into parent for lookup.
func CreateModuleLink(parent, module *Symbol) *Symbol {
	s := &Symbol{Tag: ModuleLink, Target: module}
	appendChild(parent, s)
	return s
}

// CreateType installs a named basic type (built-in or struct/union/enum
// placeholder) with the given size and capability mask.
func CreateType(parent *Symbol, ident string, size int, mask types.CapMask) *Symbol {
	s := &Symbol{Tag: TypeSym, Ident: ident, Size: size, TypeMask: mask}
	appendChild(parent, s)
	return s
}

// CreateNamed allocates a symbol of the given tag under parent.
func CreateNamed(tag Tag, parent *Symbol, ident string) *Symbol {
	s := &Symbol{Tag: tag, Ident: ident}
	appendChild(parent, s)
	return s
}

// ChangeParent moves sym to live under newParent, leaving a Link symbol
// in its old slot so lookups through the old scope still resolve to it.
// This implements the "legally redeclared" rule: a function's
// implementation scope sees the symbols of the scope it's actually
// defined in, not of its first (possibly forward) declaration.
func ChangeParent(sym, newParent *Symbol) {
	oldParent := sym.Parent
	if oldParent != nil {
		link := &Symbol{Tag: Link, Ident: sym.Ident, Target: sym}
		oldParent.Children[sym.NthInParent] = link
		link.Parent = oldParent
		link.NthInParent = sym.NthInParent
	}
	appendChild(newParent, sym)
}

// Child searches scope's direct children for name: it descends into
// contained enums (so enum constants are visible in the enclosing
// scope) and anonymous unions (so their fields are visible in the
// containing struct), and follows module-link/link transparently.
func Child(scope *Symbol, name string) *Symbol {
	for _, c := range scope.Children {
		switch c.Tag {
		case Link:
			if c.Ident == name {
				return c.Target
			}
		case ModuleLink:
			if found := Child(c.Target, name); found != nil {
				return found
			}
		case Enum:
			if c.Ident == name {
				return c
			}
			if found := Child(c, name); found != nil {
				return found
			}
		case Union:
			if c.Ident == "" {
				if found := Child(c, name); found != nil {
					return found
				}
			}
			if c.Ident == name {
				return c
			}
		default:
			if c.Ident == name {
				return c
			}
		}
	}
	return nil
}

// Find searches scope, then walks up through parents to the global
// scope. Link cycles are structurally impossible (a Link always points
// to a symbol created in an older scope), so this always terminates.
func Find(scope *Symbol, name string) *Symbol {
	for s := scope; s != nil; s = s.Parent {
		if found := Child(s, name); found != nil {
			return found
		}
	}
	return nil
}
