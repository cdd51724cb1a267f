// Package regalloc implements the fixed-pool, stack-discipline
// allocator spec §4.10 describes: not graph coloring, just "first free
// register, preferring non-RAX", with an explicit take/giveBack pair
// for forced spill-and-restore around instructions that need one
// specific register. Grounded on the teacher's
// simple per-function register tracking (lang/gen/regalloc.go), but
// threaded explicitly through a *Pool value instead of module-level
// mutable register state (spec §5/§9).
package regalloc

import "github.com/gmofishsauce/fcc/internal/arch"

// Pool tracks, for every physical register in the architecture's GPR
// set, the byte width it's currently allocated as (0 meaning free).
type Pool struct {
	a       *arch.Arch
	sizeOf  map[arch.RegID]int
	order   []arch.RegID
}

// New builds a Pool over every general-purpose register a's descriptor
// exposes, all initially free.
func New(a *arch.Arch) *Pool {
	p := &Pool{a: a, sizeOf: map[arch.RegID]int{}, order: a.AllGPRs()}
	for _, r := range p.order {
		p.sizeOf[r] = 0
	}
	return p
}

// Alloc returns the first free register at the given byte width,
// preferring non-RAX (RAX doubles as the return-value register and the
// dividend for div/mod, so the allocator keeps it open when anything
// else will do). Returns RegUndefined if the pool is exhausted.
func (p *Pool) Alloc(size int) arch.RegID {
	for _, r := range p.order {
		if r == arch.RAX {
			continue
		}
		if p.sizeOf[r] == 0 {
			p.sizeOf[r] = size
			return r
		}
	}
	if p.sizeOf[arch.RAX] == 0 {
		p.sizeOf[arch.RAX] = size
		return arch.RAX
	}
	return arch.RegUndefined
}

// Request locks a specific register at the given width, or returns
// false if it's already in use (the caller must then spill via Take).
func (p *Pool) Request(r arch.RegID, size int) bool {
	if p.sizeOf[r] != 0 {
		return false
	}
	p.sizeOf[r] = size
	return true
}

// Free releases r back to the pool.
func (p *Pool) Free(r arch.RegID) {
	if r == arch.RegUndefined {
		return
	}
	p.sizeOf[r] = 0
}

// InUse reports whether r is currently allocated, and at what width.
func (p *Pool) InUse(r arch.RegID) (size int, busy bool) {
	s := p.sizeOf[r]
	return s, s != 0
}

// Take forcibly claims r at newSize, returning the width it previously
// held (0 if it was free) so the emitter can spill its old contents to
// the stack before overwriting it.
func (p *Pool) Take(r arch.RegID, newSize int) (oldSize int) {
	oldSize = p.sizeOf[r]
	p.sizeOf[r] = newSize
	return oldSize
}

// GiveBack restores r to the width it held before a Take, undoing the
// forced claim once the emitter has reloaded the spilled value.
func (p *Pool) GiveBack(r arch.RegID, oldSize int) {
	p.sizeOf[r] = oldSize
}

// LiveRegisters returns every register currently allocated, in pool
// order; used by call-site spilling to decide which caller-saved
// registers hold live values that must be preserved across the call.
func (p *Pool) LiveRegisters() []arch.RegID {
	var out []arch.RegID
	for _, r := range p.order {
		if p.sizeOf[r] != 0 {
			out = append(out, r)
		}
	}
	return out
}

// Snapshot captures the pool's current allocation state so it can be
// restored later with Restore.
func (p *Pool) Snapshot() map[arch.RegID]int {
	out := make(map[arch.RegID]int, len(p.sizeOf))
	for r, s := range p.sizeOf {
		out[r] = s
	}
	return out
}

// Restore reinstates a Snapshot taken earlier.
func (p *Pool) Restore(snap map[arch.RegID]int) {
	for r, s := range snap {
		p.sizeOf[r] = s
	}
}
