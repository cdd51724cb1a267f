package parser

import (
	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/symtab"
	"github.com/gmofishsauce/fcc/internal/types"
)

// RegisterBuiltins installs the built-in basic types under global, sized
// per a. Every module's scope is a child of global (directly, or via a
// using-directive module-link), so every module sees the same builtins
// without re-declaring them.
func RegisterBuiltins(global *symtab.Symbol, a *arch.Arch) {
	symtab.CreateType(global, "void", 0, 0)
	symtab.CreateType(global, "int", 4, types.Integral)
	symtab.CreateType(global, "char", 1, types.Integral)
	symtab.CreateType(global, "bool", 1, types.BoolCap)
}
