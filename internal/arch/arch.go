// Package arch describes the target machine: word size, the physical
// register file, and symbol-name mangling. Every other phase takes an
// *Arch explicitly rather than reaching for package-level state.
package arch

// RegID names one physical AMD64 general-purpose register. RBP and RSP
// are carried so operand formatting can name them, but they are never
// handed out by the register allocator.
type RegID int

const (
	RegUndefined RegID = iota
	RAX
	RBX
	RCX
	RDX
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RBP
	RSP
	RegMax
)

// names holds the byte/word/dword/qword spelling of each register, indexed
// [RegID][size-class], size-class 0=byte 1=word 2=dword 3=qword.
var names = [RegMax][4]string{
	RAX: {"al", "ax", "eax", "rax"},
	RBX: {"bl", "bx", "ebx", "rbx"},
	RCX: {"cl", "cx", "ecx", "rcx"},
	RDX: {"dl", "dx", "edx", "rdx"},
	RSI: {"sil", "si", "esi", "rsi"},
	RDI: {"dil", "di", "edi", "rdi"},
	R8:  {"r8b", "r8w", "r8d", "r8"},
	R9:  {"r9b", "r9w", "r9d", "r9"},
	R10: {"r10b", "r10w", "r10d", "r10"},
	R11: {"r11b", "r11w", "r11d", "r11"},
	R12: {"r12b", "r12w", "r12d", "r12"},
	R13: {"r13b", "r13w", "r13d", "r13"},
	R14: {"r14b", "r14w", "r14d", "r14"},
	R15: {"r15b", "r15w", "r15d", "r15"},
	RBP: {"bpl", "bp", "ebp", "rbp"},
	RSP: {"spl", "sp", "esp", "rsp"},
}

func sizeClass(size int) int {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	default:
		return 3
	}
}

// Name returns the assembler spelling of r at the given width in bytes.
func Name(r RegID, size int) string {
	if r <= RegUndefined || r >= RegMax {
		return "?"
	}
	return names[r][sizeClass(size)]
}

// OS names the target operating system, affecting symbol mangling.
type OS int

const (
	Linux OS = iota
	Windows
)

// Mangler rewrites a source-level identifier into its linker symbol name.
type Mangler func(ident string) string

// Arch bundles everything the rest of the pipeline needs to know about
// the target: its word size, the pools the register allocator draws
// from, and how to mangle symbol names for the linker.
type Arch struct {
	OS       OS
	WordSize int

	// Scratch is tried first by the allocator; CalleeSave registers are
	// recorded so the emitter knows which ones to preserve across calls.
	Scratch    []RegID
	CalleeSave []RegID

	Mangle Mangler
}

func identityMangle(ident string) string { return ident }

// New builds the AMD64/Linux descriptor fcc targets. Every component that
// needs a word size, a register pool, or a symbol name asks this value,
// never a global.
func New(os OS) *Arch {
	return &Arch{
		OS:       os,
		WordSize: 8,
		Scratch: []RegID{
			RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11,
		},
		CalleeSave: []RegID{RBX, R12, R13, R14, R15},
		Mangle:     identityMangle,
	}
}

// AllGPRs returns every general-purpose register in allocation order.
// RAX, RCX, and RDX come last: RAX is the return register and the
// dividend, RDX the remainder, and CL the shift count, so the
// allocator keeps them open until nothing else is free.
func (a *Arch) AllGPRs() []RegID {
	out := make([]RegID, 0, len(a.Scratch)+len(a.CalleeSave))
	for _, r := range a.Scratch {
		if r != RAX && r != RCX && r != RDX {
			out = append(out, r)
		}
	}
	out = append(out, a.CalleeSave...)
	out = append(out, RCX, RDX, RAX)
	return out
}

// IsCalleeSaved reports whether r must be preserved across a call per the
// platform convention (independent of fcc's own stack-only argument
// convention, which governs argument passing, not register preservation).
func (a *Arch) IsCalleeSaved(r RegID) bool {
	for _, c := range a.CalleeSave {
		if c == r {
			return true
		}
	}
	return false
}
