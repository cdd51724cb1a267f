// Package emit lowers the annotated AST into IR: per-function stack
// frames, statement control flow as basic blocks, and expressions
// through value(), which returns an operand honoring the caller's
// placement request. Registers come from the stack-discipline pool;
// spilling is explicit around calls and the div/shift register
// constraints.
package emit

import (
	"fmt"

	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/ast"
	"github.com/gmofishsauce/fcc/internal/constfold"
	"github.com/gmofishsauce/fcc/internal/diag"
	"github.com/gmofishsauce/fcc/internal/ir"
	"github.com/gmofishsauce/fcc/internal/regalloc"
	"github.com/gmofishsauce/fcc/internal/symtab"
	"github.com/gmofishsauce/fcc/internal/token"
	"github.com/gmofishsauce/fcc/internal/types"
)

// Request tells value() where the caller needs the result.
type Request int

const (
	Any Request = iota
	Discard // evaluate for effect only
	InReg
	RegOrMem
	AsMem   // an addressable location (lvalue)
	AsValue // a plain value: arrays decay to addresses, flags materialize
	AsFlags
	ToReturn // into the return register
)

// zeroUnrollLimit is the size in words above which uninitialized
// aggregate storage is cleared with REP STOS instead of unrolled moves.
const zeroUnrollLimit = 10

// Emitter lowers one compilation's modules. All state is explicit;
// nothing here survives in package-level variables.
type Emitter struct {
	arch *arch.Arch
	bag  *diag.Bag
	ctx  *ir.Context
	pool *regalloc.Pool

	fn  *ir.Fn
	cur *ir.Block

	breaks    []*ir.Block
	continues []*ir.Block
}

// New builds an Emitter writing IR into ctx.
func New(a *arch.Arch, ctx *ir.Context, bag *diag.Bag) *Emitter {
	return &Emitter{arch: a, bag: bag, ctx: ctx, pool: regalloc.New(a)}
}

// EmitModules lowers every module: static data first so globals have
// labels before any function references them, then function bodies.
func (e *Emitter) EmitModules(modules []*ast.Node) {
	for _, m := range modules {
		for _, c := range m.Children {
			if c.Class == ast.Decl {
				e.emitGlobalData(c)
			}
		}
	}
	for _, m := range modules {
		for _, c := range m.Children {
			if c.Class != ast.Decl {
				continue
			}
			for _, d := range c.Children {
				if d.Class == ast.Function && d.Symbol != nil && d.Symbol.Impl == d {
					e.emitFunction(d)
				}
			}
		}
	}
}

func (e *Emitter) out(format string, args ...interface{}) {
	e.cur.Out(format, args...)
}

// --- static data ---

func (e *Emitter) emitGlobalData(decl *ast.Node) {
	for _, d := range decl.Children {
		if d.Class != ast.Declarator || d.Symbol == nil {
			continue
		}
		sym := d.Symbol
		if sym.Dt == nil || sym.Dt.Tag == types.Function || sym.Tag != symtab.Id {
			if sym != nil && sym.Dt != nil && sym.Dt.Tag == types.Function {
				sym.Label = e.arch.Mangle(sym.Ident)
			}
			continue
		}
		switch sym.Storage {
		case symtab.Extern:
			sym.Label = e.arch.Mangle(sym.Ident)
		case symtab.Static:
			if sym.Label != "" {
				continue // redeclaration already emitted
			}
			sym.Label = e.arch.Mangle(sym.Ident)
			e.ctx.AddGlobal(sym.Label, e.dataImage(sym, d.R))
		}
	}
}

// dataImage builds the initial byte image of a static object from its
// compile-time-constant initializer (the analyzer already validated
// constness), zeros where no initializer exists.
func (e *Emitter) dataImage(sym *symtab.Symbol, init *ast.Node) []byte {
	size := types.Size(e.arch, sym.Dt)
	if size <= 0 {
		size = e.arch.WordSize
	}
	img := make([]byte, size)
	if init != nil {
		e.fillImage(img, 0, sym.Dt, init)
	}
	return img
}

func (e *Emitter) fillImage(img []byte, at int, dt *types.Type, init *ast.Node) {
	if dt == nil || init == nil {
		return
	}
	switch {
	case init.Class == ast.InitList && dt.Tag == types.Array:
		stride := types.Size(e.arch, dt.Base)
		for i, c := range init.Children {
			e.fillImage(img, at+i*stride, dt.Base, c)
		}
	case init.Class == ast.InitList && dt.Tag == types.Basic:
		for i, f := range recordFieldSyms(dt) {
			if i < len(init.Children) {
				e.fillImage(img, at+f.Offset, f.Dt, init.Children[i])
			}
		}
	case init.Class == ast.Literal && init.LitClass == ast.LitString && dt.Tag == types.Array:
		copy(img[at:], init.SVal)
	default:
		v := constfold.Eval(e.arch, init)
		if !v.Known {
			e.bag.InternalError(init.Loc, "static initializer did not fold")
			return
		}
		putLE(img, at, types.Size(e.arch, dt), v.Value)
	}
}

func putLE(img []byte, at, size int, v int64) {
	for i := 0; i < size && at+i < len(img); i++ {
		img[at+i] = byte(v >> (8 * i))
	}
}

func recordFieldSyms(t *types.Type) []*symtab.Symbol {
	if t == nil || t.Tag != types.Basic || t.Basic == nil {
		return nil
	}
	sym, ok := t.Basic.Sym.(*symtab.Symbol)
	if !ok {
		return nil
	}
	var out []*symtab.Symbol
	for _, c := range sym.Children {
		if c.Tag == symtab.Id {
			out = append(out, c)
		}
	}
	return out
}

// --- frame layout ---

func roundUp(n, to int) int {
	if n%to == 0 {
		return n
	}
	return n + to - n%to
}

// layoutFrame assigns parameter offsets (positive, past the saved
// frame pointer and return address) and local offsets (negative, by a
// depth-first walk of the function's scope tree). Function-static
// locals get labels and data images instead of slots.
func (e *Emitter) layoutFrame(fnSym *symtab.Symbol) int {
	word := e.arch.WordSize
	off := 2 * word
	for _, c := range fnSym.Children {
		if c.Tag == symtab.Param {
			c.Offset = off
			off += roundUp(e.sizeOf(c.Dt), word)
		}
	}

	neg := 0
	var walk func(s *symtab.Symbol)
	walk = func(s *symtab.Symbol) {
		for _, c := range s.Children {
			switch {
			case c.Tag == symtab.Scope:
				walk(c)
			case c.Tag == symtab.Id && c.Dt != nil && c.Dt.Tag != types.Function:
				switch c.Storage {
				case symtab.Auto:
					neg += roundUp(e.sizeOf(c.Dt), word)
					c.Offset = -neg
				case symtab.Static:
					if c.Label == "" {
						c.Label = e.arch.Mangle(fnSym.Ident) + "." + c.Ident
						e.ctx.AddGlobal(c.Label, e.dataImage(c, firstInit(c)))
					}
				}
			}
		}
	}
	walk(fnSym)
	return roundUp(neg, 16)
}

// firstInit digs the initializer out of a symbol's declaration sites.
func firstInit(sym *symtab.Symbol) *ast.Node {
	for _, d := range sym.Decls {
		if n, ok := d.(*ast.Node); ok && n.Class == ast.Declarator && n.R != nil {
			return n.R
		}
	}
	return nil
}

func (e *Emitter) sizeOf(t *types.Type) int {
	s := types.Size(e.arch, t)
	if s <= 0 {
		s = e.arch.WordSize
	}
	return s
}

// scalarSize clamps a type's size to a register width for mem operands.
func (e *Emitter) scalarSize(t *types.Type) int {
	s := e.sizeOf(t)
	if s > 8 {
		return 8
	}
	return s
}

// --- functions ---

func (e *Emitter) emitFunction(fnNode *ast.Node) {
	sym := fnNode.Symbol
	stack := e.layoutFrame(sym)
	name := e.arch.Mangle(sym.Ident)
	sym.Label = name

	e.fn = e.ctx.CreateFn(name, stack)
	sym.IRFn = e.fn
	e.cur = e.fn.Entry
	e.pool = regalloc.New(e.arch)

	e.emitStmt(fnNode.R)

	if !e.cur.Terminated() {
		e.ctx.Jump(e.cur, e.fn.Epilogue)
	}
	e.fn = nil
	e.cur = nil
}

// --- statements ---

func (e *Emitter) emitStmt(n *ast.Node) {
	if n == nil || e.cur == nil {
		return
	}
	switch n.Class {
	case ast.Block:
		for _, c := range n.Children {
			e.emitStmt(c)
		}
	case ast.Decl:
		e.emitLocalDecl(n)
	case ast.If:
		e.emitIf(n)
	case ast.While:
		e.emitWhile(n)
	case ast.DoWhile:
		e.emitDoWhile(n)
	case ast.For:
		e.emitFor(n)
	case ast.Return:
		e.emitReturn(n)
	case ast.Break:
		if len(e.breaks) > 0 {
			e.ctx.Jump(e.cur, e.breaks[len(e.breaks)-1])
			e.cur = e.ctx.CreateBlock(e.fn)
		}
	case ast.Continue:
		if len(e.continues) > 0 {
			e.ctx.Jump(e.cur, e.continues[len(e.continues)-1])
			e.cur = e.ctx.CreateBlock(e.fn)
		}
	case ast.ExprStmt:
		op := e.value(n.L, Discard)
		e.freeOp(op)
	case ast.Empty:
		// nothing
	default:
		if ast.IsValueClass(n.Class) {
			e.freeOp(e.value(n, Discard))
			return
		}
		e.bag.InternalError(n.Loc, "unhandled statement %s", ast.ClassStr(n.Class))
	}
}

// emitLocalDecl materializes initializers for auto locals and zeroes
// uninitialized aggregates. Static locals were handled at frame layout.
func (e *Emitter) emitLocalDecl(n *ast.Node) {
	for _, d := range n.Children {
		if d.Class != ast.Declarator || d.Symbol == nil {
			continue
		}
		sym := d.Symbol
		if sym.Storage != symtab.Auto || sym.Dt == nil || sym.Dt.Tag == types.Function {
			continue
		}
		size := e.sizeOf(sym.Dt)
		if d.R == nil {
			if sym.Dt.Tag == types.Array || isRecordType(sym.Dt) {
				e.zeroStorage(sym.Offset, size)
			}
			continue
		}
		e.emitLocalInit(sym.Offset, sym.Dt, d.R)
	}
}

func isRecordType(t *types.Type) bool {
	return t != nil && t.Tag == types.Basic && t.Basic != nil &&
		(t.IsStruct() || t.IsUnion())
}

// emitLocalInit stores one initializer into [rbp+off], recursing
// structurally through init lists.
func (e *Emitter) emitLocalInit(off int, dt *types.Type, init *ast.Node) {
	switch {
	case init.Class == ast.InitList && dt.Tag == types.Array:
		stride := e.sizeOf(dt.Base)
		for i, c := range init.Children {
			e.emitLocalInit(off+i*stride, dt.Base, c)
		}
	case init.Class == ast.InitList && isRecordType(dt):
		for i, f := range recordFieldSyms(dt) {
			if i < len(init.Children) {
				e.emitLocalInit(off+f.Offset, f.Dt, init.Children[i])
			}
		}
	case init.Class == ast.Literal && init.LitClass == ast.LitString && dt.Tag == types.Array:
		for i := 0; i <= len(init.SVal); i++ {
			b := byte(0)
			if i < len(init.SVal) {
				b = init.SVal[i]
			}
			e.out("mov byte ptr [rbp%+d], %d", off+i, b)
		}
	default:
		size := e.scalarSize(dt)
		dst := ir.MemOperand(arch.RBP, arch.RegUndefined, 0, off, size)
		e.store(dst, init)
	}
}

// store evaluates init and moves it into dst.
func (e *Emitter) store(dst ir.Operand, init *ast.Node) {
	op := e.value(init, AsValue)
	if op.Tag == ir.Literal {
		e.out("mov %s, %d", e.opText(dst), op.IVal)
		return
	}
	r := e.toReg(op, dst.Size)
	e.out("mov %s, %s", e.opText(dst), arch.Name(r.Reg, dst.Size))
	e.freeOp(r)
}

// zeroStorage clears size bytes at [rbp+off]: REP STOS above the
// unroll threshold, plain qword moves below it.
func (e *Emitter) zeroStorage(off, size int) {
	word := e.arch.WordSize
	words := roundUp(size, word) / word
	if words > zeroUnrollLimit {
		e.spillFor(arch.RDI, func() {
			e.spillFor(arch.RCX, func() {
				e.spillFor(arch.RAX, func() {
					e.out("lea rdi, [rbp%+d]", off)
					e.out("mov rcx, %d", words)
					e.out("xor rax, rax")
					e.out("rep stosq")
				})
			})
		})
		return
	}
	for i := 0; i < words; i++ {
		e.out("mov qword ptr [rbp%+d], 0", off+i*word)
	}
}

// spillFor runs body with r forcibly available, pushing and popping its
// old contents when it was live.
func (e *Emitter) spillFor(r arch.RegID, body func()) {
	old := e.pool.Take(r, 8)
	if old != 0 {
		e.out("push %s", arch.Name(r, 8))
	}
	body()
	if old != 0 {
		e.out("pop %s", arch.Name(r, 8))
	}
	e.pool.GiveBack(r, old)
}

// --- control flow ---

func (e *Emitter) jumpIfOpen(to *ir.Block) {
	if e.cur != nil && !e.cur.Terminated() {
		e.ctx.Jump(e.cur, to)
	}
}

func (e *Emitter) emitIf(n *ast.Node) {
	thenB := e.ctx.CreateBlock(e.fn)
	elseB := e.ctx.CreateBlock(e.fn)
	joinB := elseB
	if n.R != nil {
		joinB = e.ctx.CreateBlock(e.fn)
	}

	e.condBranch(n.FirstChild, thenB, elseB)

	e.cur = thenB
	e.emitStmt(n.L)
	e.jumpIfOpen(joinB)

	if n.R != nil {
		e.cur = elseB
		e.emitStmt(n.R)
		e.jumpIfOpen(joinB)
	}
	e.cur = joinB
}

func (e *Emitter) emitWhile(n *ast.Node) {
	head := e.ctx.CreateBlock(e.fn)
	body := e.ctx.CreateBlock(e.fn)
	after := e.ctx.CreateBlock(e.fn)

	e.ctx.Jump(e.cur, head)
	e.cur = head
	e.condBranch(n.L, body, after)

	e.breaks = append(e.breaks, after)
	e.continues = append(e.continues, head)
	e.cur = body
	e.emitStmt(n.R)
	e.jumpIfOpen(head)
	e.breaks = e.breaks[:len(e.breaks)-1]
	e.continues = e.continues[:len(e.continues)-1]

	e.cur = after
}

func (e *Emitter) emitDoWhile(n *ast.Node) {
	body := e.ctx.CreateBlock(e.fn)
	cond := e.ctx.CreateBlock(e.fn)
	after := e.ctx.CreateBlock(e.fn)

	e.ctx.Jump(e.cur, body)
	e.breaks = append(e.breaks, after)
	e.continues = append(e.continues, cond)
	e.cur = body
	e.emitStmt(n.R)
	e.jumpIfOpen(cond)
	e.breaks = e.breaks[:len(e.breaks)-1]
	e.continues = e.continues[:len(e.continues)-1]

	e.cur = cond
	e.condBranch(n.L, body, after)
	e.cur = after
}

func (e *Emitter) emitFor(n *ast.Node) {
	if len(n.Children) != 4 {
		return
	}
	init, cond, post, body := n.Children[0], n.Children[1], n.Children[2], n.Children[3]

	e.emitStmt(init)

	head := e.ctx.CreateBlock(e.fn)
	bodyB := e.ctx.CreateBlock(e.fn)
	postB := e.ctx.CreateBlock(e.fn)
	after := e.ctx.CreateBlock(e.fn)

	e.ctx.Jump(e.cur, head)
	e.cur = head
	if cond.Class == ast.Empty {
		e.ctx.Jump(e.cur, bodyB)
	} else {
		e.condBranch(cond, bodyB, after)
	}

	e.breaks = append(e.breaks, after)
	e.continues = append(e.continues, postB)
	e.cur = bodyB
	e.emitStmt(body)
	e.jumpIfOpen(postB)
	e.breaks = e.breaks[:len(e.breaks)-1]
	e.continues = e.continues[:len(e.continues)-1]

	e.cur = postB
	if post.Class != ast.Empty {
		e.freeOp(e.value(post, Discard))
	}
	e.jumpIfOpen(head)
	e.cur = after
}

func (e *Emitter) emitReturn(n *ast.Node) {
	if n.R != nil {
		op := e.value(n.R, ToReturn)
		e.freeOp(op)
	}
	e.ctx.Jump(e.cur, e.fn.Epilogue)
	e.cur = e.ctx.CreateBlock(e.fn)
}

// condBranch emits control flow for a condition: logical operators
// short-circuit through intermediate blocks; everything else reduces to
// a flags operand. The flags condition is the negation of the source
// comparison, so the branch jumps to the FALSE side on the flags
// condition.
func (e *Emitter) condBranch(n *ast.Node, trueB, falseB *ir.Block) {
	if n != nil && n.Class == ast.BOP && n.Op == "&&" {
		mid := e.ctx.CreateBlock(e.fn)
		e.condBranch(n.L, mid, falseB)
		e.cur = mid
		e.condBranch(n.R, trueB, falseB)
		return
	}
	if n != nil && n.Class == ast.BOP && n.Op == "||" {
		mid := e.ctx.CreateBlock(e.fn)
		e.condBranch(n.L, trueB, mid)
		e.cur = mid
		e.condBranch(n.R, trueB, falseB)
		return
	}
	if n != nil && n.Class == ast.UOP && n.Op == "!" {
		e.condBranch(n.R, falseB, trueB)
		return
	}
	op := e.value(n, AsFlags)
	if op.Tag != ir.Flags {
		e.bag.InternalError(n.Loc, "condition did not produce flags")
		e.ctx.Jump(e.cur, falseB)
		return
	}
	e.ctx.Branch(e.cur, op.Cond, falseB, trueB)
}

// --- expressions ---

// value evaluates n and coerces the result to req. Every register held
// by the returned operand belongs to the caller, who frees it.
func (e *Emitter) value(n *ast.Node, req Request) ir.Operand {
	if n == nil {
		return ir.UndefinedOperand()
	}
	if req == AsMem {
		return e.lvalue(n)
	}
	op := e.natural(n, req)
	return e.coerce(op, req, n)
}

func (e *Emitter) natural(n *ast.Node, req Request) ir.Operand {
	switch n.Class {
	case ast.Literal:
		return e.literalOperand(n)
	case ast.BOP:
		return e.bopOperand(n)
	case ast.UOP:
		return e.uopOperand(n)
	case ast.PostOP:
		return e.incDecOperand(n, n.L, true)
	case ast.TOP:
		return e.ternaryOperand(n)
	case ast.Index, ast.Member, ast.PtrMember:
		return e.loadable(n)
	case ast.Call:
		return e.callOperand(n)
	case ast.Cast:
		return e.castOperand(n)
	case ast.CompoundLit:
		return e.compoundLitOperand(n)
	case ast.Sizeof:
		v := constfold.Eval(e.arch, n)
		return ir.LiteralOperand(v.Value)
	case ast.VaStart:
		return e.vaStartOperand(n)
	case ast.VaEnd:
		return ir.VoidOperand()
	case ast.VaCopy:
		return e.vaCopyOperand(n)
	case ast.VaArg:
		return e.vaArgOperand(n)
	case ast.Empty:
		return ir.InvalidOperand()
	}
	e.bag.InternalError(n.Loc, "unhandled expression %s", ast.ClassStr(n.Class))
	return ir.InvalidOperand()
}

// loadable produces the memory operand for an addressable expression;
// array-typed results become addresses (MemRef) so they decay.
func (e *Emitter) loadable(n *ast.Node) ir.Operand {
	m := e.lvalue(n)
	if n.Dt != nil && n.Dt.Tag == types.Array && m.Tag == ir.Mem {
		m.Tag = ir.MemRef
		m.Size = 8
	}
	return m
}

func (e *Emitter) literalOperand(n *ast.Node) ir.Operand {
	switch n.LitClass {
	case ast.LitInt, ast.LitChar, ast.LitBool:
		return ir.LiteralOperand(n.IVal)
	case ast.LitString:
		label := e.ctx.StringConstant(n.SVal)
		r := e.allocReg(8)
		e.out("lea %s, [rip+%s]", arch.Name(r, 8), label)
		return ir.RegOperand(r, 8)
	case ast.LitIdent:
		return e.identOperand(n)
	}
	return ir.InvalidOperand()
}

func (e *Emitter) identOperand(n *ast.Node) ir.Operand {
	sym := n.Symbol
	if sym == nil {
		return ir.InvalidOperand()
	}
	switch sym.Tag {
	case symtab.EnumConstant:
		return ir.LiteralOperand(sym.ConstValue)
	case symtab.Id, symtab.Param:
		if sym.Dt != nil && sym.Dt.Tag == types.Function {
			if sym.Label == "" {
				sym.Label = e.arch.Mangle(sym.Ident)
			}
			return ir.LabelOperand(sym.Label)
		}
		if sym.Storage == symtab.Static || sym.Storage == symtab.Extern {
			if sym.Label == "" {
				sym.Label = e.arch.Mangle(sym.Ident)
			}
			if sym.Dt != nil && sym.Dt.Tag == types.Array {
				return ir.LabelOffsetOperand(sym.Label)
			}
			return ir.LabelMemOperand(sym.Label, e.scalarSize(sym.Dt))
		}
		if sym.Dt != nil && sym.Dt.Tag == types.Array {
			return ir.MemRefOperand(arch.RBP, arch.RegUndefined, 0, sym.Offset, 8)
		}
		return ir.MemOperand(arch.RBP, arch.RegUndefined, 0, sym.Offset, e.scalarSize(sym.Dt))
	}
	e.bag.InternalError(n.Loc, "identifier '%s' is not a value", n.Ident)
	return ir.InvalidOperand()
}

// lvalue produces an addressable operand for an assignable expression.
func (e *Emitter) lvalue(n *ast.Node) ir.Operand {
	switch n.Class {
	case ast.Literal:
		if n.LitClass == ast.LitIdent && n.Symbol != nil {
			sym := n.Symbol
			if sym.Storage == symtab.Static || sym.Storage == symtab.Extern {
				if sym.Label == "" {
					sym.Label = e.arch.Mangle(sym.Ident)
				}
				return ir.LabelMemOperand(sym.Label, e.scalarSize(sym.Dt))
			}
			return ir.MemOperand(arch.RBP, arch.RegUndefined, 0, sym.Offset, e.scalarSize(sym.Dt))
		}
	case ast.UOP:
		if n.Op == "*" {
			r := e.toReg(e.value(n.R, AsValue), 8)
			size := 8
			if n.Dt != nil {
				size = e.scalarSize(n.Dt)
			}
			return ir.MemOperand(r.Reg, arch.RegUndefined, 0, 0, size)
		}
	case ast.Index:
		return e.indexLvalue(n)
	case ast.CompoundLit:
		return e.compoundLitOperand(n)
	case ast.Member:
		m := e.lvalue(n.L)
		if n.Symbol != nil {
			m.Offset += n.Symbol.Offset
			m.Size = e.scalarSize(n.Symbol.Dt)
		}
		return m
	case ast.PtrMember:
		r := e.toReg(e.value(n.L, AsValue), 8)
		off, size := 0, 8
		if n.Symbol != nil {
			off = n.Symbol.Offset
			size = e.scalarSize(n.Symbol.Dt)
		}
		return ir.MemOperand(r.Reg, arch.RegUndefined, 0, off, size)
	}
	e.bag.InternalError(n.Loc, "expression %s is not addressable", ast.ClassStr(n.Class))
	return ir.InvalidOperand()
}

// indexLvalue lowers a[i]: the base address in a register, the index
// folded into the displacement when constant, scaled otherwise.
func (e *Emitter) indexLvalue(n *ast.Node) ir.Operand {
	elem := 8
	if n.Dt != nil {
		elem = e.sizeOf(n.Dt)
	}
	scalar := elem
	if scalar > 8 {
		scalar = 8
	}

	base := e.addressReg(n.L)

	idx := constfold.Eval(e.arch, n.R)
	if idx.Known {
		return ir.MemOperand(base, arch.RegUndefined, 0, int(idx.Value)*elem, scalar)
	}

	ir_ := e.toReg(e.value(n.R, AsValue), 8)
	switch elem {
	case 1, 2, 4, 8:
		return ir.MemOperand(base, ir_.Reg, elem, 0, scalar)
	default:
		e.out("imul %s, %d", arch.Name(ir_.Reg, 8), elem)
		return ir.MemOperand(base, ir_.Reg, 1, 0, scalar)
	}
}

// addressReg evaluates n to the address of its storage: pointers by
// value, arrays by reference.
func (e *Emitter) addressReg(n *ast.Node) arch.RegID {
	op := e.value(n, AsValue)
	r := e.toReg(op, 8)
	return r.Reg
}

// --- operators ---

func condFor(op string) ir.Cond {
	switch op {
	case "==":
		return ir.CondEQ
	case "!=":
		return ir.CondNE
	case "<":
		return ir.CondLT
	case "<=":
		return ir.CondLE
	case ">":
		return ir.CondGT
	case ">=":
		return ir.CondGE
	}
	return ir.CondNone
}

var arithInstr = map[string]string{
	"+": "add", "-": "sub", "&": "and", "|": "or", "^": "xor",
}

func (e *Emitter) bopOperand(n *ast.Node) ir.Operand {
	if isAssignOp(n.Op) {
		return e.assignOperand(n)
	}
	if c := condFor(n.Op); c != ir.CondNone {
		return e.compareOperand(n, c)
	}
	if n.Op == "&&" || n.Op == "||" {
		return e.boolOperand(n)
	}

	size := 4
	if n.Dt != nil {
		size = e.scalarSize(n.Dt)
	}

	switch n.Op {
	case "+", "-", "&", "|", "^":
		if n.Op == "-" && sideIsPtr(n.L) && sideIsPtr(n.R) {
			return e.ptrDiffOperand(n)
		}
		l := e.toReg(e.scaledOperand(n, n.L), size)
		r := e.value(n.R, RegOrMem)
		r = e.scaleIndexOperand(n, n.L, r)
		e.out("%s %s, %s", arithInstr[n.Op], arch.Name(l.Reg, size), e.opSized(r, size))
		e.freeOp(r)
		return l
	case "*":
		l := e.toReg(e.value(n.L, AsValue), size)
		r := e.value(n.R, RegOrMem)
		e.out("imul %s, %s", arch.Name(l.Reg, size), e.opSized(r, size))
		e.freeOp(r)
		return l
	case "/", "%":
		return e.divOperand(n, size)
	case "<<", ">>":
		return e.shiftOperand(n, size)
	}
	e.bag.InternalError(n.Loc, "unhandled binary operator '%s'", n.Op)
	return ir.InvalidOperand()
}

func isAssignOp(op string) bool {
	switch op {
	case "=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>=":
		return true
	}
	return false
}

// scaledOperand evaluates the left side of +/-, pre-scaling for
// pointer arithmetic happens on whichever side is the integer.
func (e *Emitter) scaledOperand(n, l *ast.Node) ir.Operand {
	op := e.value(l, AsValue)
	if isPtrArith(n) && !sideIsPtr(l) {
		// int + ptr: scale the integer side.
		reg := e.toReg(op, 8)
		e.scaleBy(reg.Reg, pointeeSize(e, n))
		return reg
	}
	return op
}

// ptrDiffOperand lowers ptr - ptr: the byte difference divided by the
// pointee size, by shift when it is a power of two.
func (e *Emitter) ptrDiffOperand(n *ast.Node) ir.Operand {
	l := e.toReg(e.value(n.L, AsValue), 8)
	r := e.value(n.R, RegOrMem)
	e.out("sub %s, %s", arch.Name(l.Reg, 8), e.opSized(r, 8))
	e.freeOp(r)

	elem := 1
	if n.L.Dt != nil && n.L.Dt.Base != nil {
		elem = e.sizeOf(n.L.Dt.Base)
	}
	if elem > 1 {
		if shift := log2(elem); shift > 0 {
			e.out("sar %s, %d", arch.Name(l.Reg, 8), shift)
		} else {
			e.spillFor(arch.RAX, func() {
				e.spillFor(arch.RDX, func() {
					e.out("mov rax, %s", arch.Name(l.Reg, 8))
					e.out("cqo")
					tmp := e.allocReg(8)
					e.out("mov %s, %d", arch.Name(tmp, 8), elem)
					e.out("idiv %s", arch.Name(tmp, 8))
					e.pool.Free(tmp)
					e.out("mov %s, rax", arch.Name(l.Reg, 8))
				})
			})
		}
	}
	return l
}

// log2 returns the exponent when n is a power of two, 0 otherwise.
func log2(n int) int {
	shift := 0
	for n > 1 && n%2 == 0 {
		n /= 2
		shift++
	}
	if n != 1 {
		return 0
	}
	return shift
}

// scaleIndexOperand scales the right operand of pointer +/- by the
// pointee size.
func (e *Emitter) scaleIndexOperand(n, l *ast.Node, r ir.Operand) ir.Operand {
	if !isPtrArith(n) || !sideIsPtr(l) {
		return r
	}
	size := pointeeSize(e, n)
	if size == 1 {
		return r
	}
	if r.Tag == ir.Literal {
		return ir.LiteralOperand(r.IVal * int64(size))
	}
	reg := e.toReg(r, 8)
	e.scaleBy(reg.Reg, size)
	return reg
}

func (e *Emitter) scaleBy(r arch.RegID, size int) {
	if size > 1 {
		e.out("imul %s, %d", arch.Name(r, 8), size)
	}
}

func isPtrArith(n *ast.Node) bool {
	return n.Dt != nil && n.Dt.Tag == types.Ptr && (n.Op == "+" || n.Op == "-")
}

func sideIsPtr(side *ast.Node) bool {
	return side.Dt != nil && (side.Dt.Tag == types.Ptr || side.Dt.Tag == types.Array)
}

func pointeeSize(e *Emitter, n *ast.Node) int {
	if n.Dt != nil && n.Dt.Base != nil {
		return e.sizeOf(n.Dt.Base)
	}
	return 1
}

// compareOperand emits cmp and returns a flags operand carrying the
// NEGATED condition: branching on it reaches the false path.
func (e *Emitter) compareOperand(n *ast.Node, c ir.Cond) ir.Operand {
	size := 4
	if n.L.Dt != nil {
		size = e.scalarSize(n.L.Dt)
		if n.L.Dt.Tag == types.Ptr || n.L.Dt.Tag == types.Array {
			size = 8
		}
	}
	l := e.toReg(e.value(n.L, AsValue), size)
	r := e.value(n.R, RegOrMem)
	e.out("cmp %s, %s", arch.Name(l.Reg, size), e.opSized(r, size))
	e.freeOp(l)
	e.freeOp(r)
	return ir.FlagsOperand(c.Negate())
}

// boolOperand materializes a short-circuit && / || as a 0/1 register.
func (e *Emitter) boolOperand(n *ast.Node) ir.Operand {
	trueB := e.ctx.CreateBlock(e.fn)
	falseB := e.ctx.CreateBlock(e.fn)
	join := e.ctx.CreateBlock(e.fn)
	r := e.allocReg(4)

	e.condBranch(n, trueB, falseB)
	e.cur = trueB
	e.out("mov %s, 1", arch.Name(r, 4))
	e.ctx.Jump(e.cur, join)
	e.cur = falseB
	e.out("mov %s, 0", arch.Name(r, 4))
	e.ctx.Jump(e.cur, join)
	e.cur = join
	return ir.RegOperand(r, 4)
}

// divOperand lowers / and %: dividend in RAX, sign-extended into RDX,
// idiv by a register-or-memory divisor, result pulled from RAX or RDX.
// The result register is allocated while RAX/RDX are claimed, so it
// can never be clobbered by the spill restore.
func (e *Emitter) divOperand(n *ast.Node, size int) ir.Operand {
	lr := e.toReg(e.value(n.L, AsValue), size)

	var res arch.RegID
	e.spillFor(arch.RAX, func() {
		e.spillFor(arch.RDX, func() {
			e.out("mov %s, %s", arch.Name(arch.RAX, size), arch.Name(lr.Reg, size))
			e.freeOp(lr)
			if size == 8 {
				e.out("cqo")
			} else {
				e.out("cdq")
			}
			r := e.value(n.R, RegOrMem)
			if r.Tag == ir.Literal {
				r = e.toReg(r, size)
			}
			e.out("idiv %s", e.opSized(r, size))
			e.freeOp(r)
			src := arch.RAX
			if n.Op == "%" {
				src = arch.RDX
			}
			res = e.allocReg(size)
			e.out("mov %s, %s", arch.Name(res, size), arch.Name(src, size))
		})
	})
	return ir.RegOperand(res, size)
}

// shiftOperand lowers << and >>: immediate counts directly, variable
// counts through CL.
func (e *Emitter) shiftOperand(n *ast.Node, size int) ir.Operand {
	instr := "shl"
	if n.Op == ">>" {
		instr = "sar"
	}
	l := e.toReg(e.value(n.L, AsValue), size)
	cnt := constfold.Eval(e.arch, n.R)
	if cnt.Known {
		e.out("%s %s, %d", instr, arch.Name(l.Reg, size), cnt.Value)
		return l
	}
	l = e.avoidReg(l, arch.RCX)
	e.spillFor(arch.RCX, func() {
		rr := e.toReg(e.value(n.R, AsValue), 4)
		e.out("mov cl, %s", arch.Name(rr.Reg, 1))
		e.freeOp(rr)
		e.out("%s %s, cl", instr, arch.Name(l.Reg, size))
	})
	return l
}

// avoidReg relocates a register operand out of r when it happens to
// occupy it, so r can serve an ISA-fixed role.
func (e *Emitter) avoidReg(op ir.Operand, r arch.RegID) ir.Operand {
	if op.Tag != ir.Reg || op.Reg != r {
		return op
	}
	fresh := e.allocReg(op.Size)
	e.out("mov %s, %s", arch.Name(fresh, 8), arch.Name(op.Reg, 8))
	e.pool.Free(op.Reg)
	return ir.RegOperand(fresh, op.Size)
}

var compoundInstr = map[string]string{
	"+=": "add", "-=": "sub", "&=": "and", "|=": "or", "^=": "xor",
}

// assignOperand lowers assignments: the left side as memory, the right
// side into a register (or directly as an immediate where the ISA
// allows), the move or read-modify-write against memory.
func (e *Emitter) assignOperand(n *ast.Node) ir.Operand {
	dst := e.lvalue(n.L)
	if dst.Tag == ir.Invalid {
		return dst
	}
	size := dst.Size

	if n.Op == "=" {
		if recordSize := e.recordAssignSize(n); recordSize > 8 {
			return e.recordAssign(n, dst, recordSize)
		}
		src := e.value(n.R, AsValue)
		if src.Tag == ir.Literal {
			e.out("mov %s, %d", e.opText(dst), src.IVal)
			e.freeOp(dst)
			return src
		}
		r := e.toReg(src, size)
		e.out("mov %s, %s", e.opText(dst), arch.Name(r.Reg, size))
		e.freeOp(dst)
		return r
	}

	if instr, ok := compoundInstr[n.Op]; ok {
		src := e.value(n.R, AsValue)
		src = e.scaleCompound(n, src)
		if src.Tag == ir.Literal {
			e.out("%s %s, %d", instr, e.opText(dst), src.IVal)
			result := e.toReg(dst, size)
			return result
		}
		r := e.toReg(src, size)
		e.out("%s %s, %s", instr, e.opText(dst), arch.Name(r.Reg, size))
		e.freeOp(r)
		result := e.toReg(dst, size)
		return result
	}

	// *=, /=, %=, <<=, >>=: load, operate, store back, evaluating the
	// left side's address exactly once.
	cur := e.toRegKeep(dst, size)
	switch n.Op {
	case "*=":
		r := e.value(n.R, RegOrMem)
		e.out("imul %s, %s", arch.Name(cur.Reg, size), e.opSized(r, size))
		e.freeOp(r)
	case "/=", "%=":
		cur = e.avoidReg(e.avoidReg(cur, arch.RAX), arch.RDX)
		e.spillFor(arch.RAX, func() {
			e.spillFor(arch.RDX, func() {
				e.out("mov %s, %s", arch.Name(arch.RAX, size), arch.Name(cur.Reg, size))
				if size == 8 {
					e.out("cqo")
				} else {
					e.out("cdq")
				}
				r := e.value(n.R, RegOrMem)
				if r.Tag == ir.Literal {
					r = e.toReg(r, size)
				}
				e.out("idiv %s", e.opSized(r, size))
				e.freeOp(r)
				src := arch.RAX
				if n.Op == "%=" {
					src = arch.RDX
				}
				e.out("mov %s, %s", arch.Name(cur.Reg, size), arch.Name(src, size))
			})
		})
	case "<<=", ">>=":
		instr := "shl"
		if n.Op == ">>=" {
			instr = "sar"
		}
		cnt := constfold.Eval(e.arch, n.R)
		if cnt.Known {
			e.out("%s %s, %d", instr, arch.Name(cur.Reg, size), cnt.Value)
		} else {
			cur = e.avoidReg(cur, arch.RCX)
			e.spillFor(arch.RCX, func() {
				r := e.toReg(e.value(n.R, AsValue), 4)
				e.out("mov cl, %s", arch.Name(r.Reg, 1))
				e.freeOp(r)
				e.out("%s %s, cl", instr, arch.Name(cur.Reg, size))
			})
		}
	}
	e.out("mov %s, %s", e.opText(dst), arch.Name(cur.Reg, size))
	e.freeOp(dst)
	return cur
}

// scaleCompound scales the integer side of ptr += / ptr -= by the
// pointee size.
func (e *Emitter) scaleCompound(n *ast.Node, src ir.Operand) ir.Operand {
	if n.Dt == nil || n.Dt.Tag != types.Ptr {
		return src
	}
	size := 1
	if n.Dt.Base != nil {
		size = e.sizeOf(n.Dt.Base)
	}
	if size == 1 {
		return src
	}
	if src.Tag == ir.Literal {
		return ir.LiteralOperand(src.IVal * int64(size))
	}
	r := e.toReg(src, 8)
	e.scaleBy(r.Reg, size)
	return r
}

// recordAssignSize reports the byte size of a record-to-record
// assignment, or 0 when n is a scalar assignment.
func (e *Emitter) recordAssignSize(n *ast.Node) int {
	if n.Dt != nil && isRecordType(n.Dt) {
		return e.sizeOf(n.Dt)
	}
	return 0
}

// recordAssign copies a record word by word through a scratch register.
func (e *Emitter) recordAssign(n *ast.Node, dst ir.Operand, size int) ir.Operand {
	src := e.lvalue(n.R)
	tmp := e.allocReg(8)
	word := e.arch.WordSize
	for off := 0; off < size; off += word {
		s, d := src, dst
		s.Offset += off
		d.Offset += off
		s.Size, d.Size = 8, 8
		e.out("mov %s, %s", arch.Name(tmp, 8), e.opText(s))
		e.out("mov %s, %s", e.opText(d), arch.Name(tmp, 8))
	}
	e.pool.Free(tmp)
	e.freeOp(src)
	return dst
}

func (e *Emitter) uopOperand(n *ast.Node) ir.Operand {
	switch n.Op {
	case "-":
		size := e.exprSize(n)
		r := e.toReg(e.value(n.R, AsValue), size)
		e.out("neg %s", arch.Name(r.Reg, size))
		return r
	case "+":
		return e.value(n.R, Any)
	case "~":
		size := e.exprSize(n)
		r := e.toReg(e.value(n.R, AsValue), size)
		e.out("not %s", arch.Name(r.Reg, size))
		return r
	case "!":
		op := e.value(n.R, AsFlags)
		if op.Tag == ir.Flags {
			return ir.FlagsOperand(op.Cond.Negate())
		}
		return ir.InvalidOperand()
	case "*":
		return e.loadableDeref(n)
	case "&":
		m := e.lvalue(n.R)
		if m.Tag == ir.Mem {
			m.Tag = ir.MemRef
			m.Size = 8
			return m
		}
		if m.Tag == ir.LabelMem {
			return ir.LabelOffsetOperand(m.Name)
		}
		return m
	case "++", "--":
		return e.incDecOperand(n, n.R, false)
	}
	e.bag.InternalError(n.Loc, "unhandled unary operator '%s'", n.Op)
	return ir.InvalidOperand()
}

func (e *Emitter) loadableDeref(n *ast.Node) ir.Operand {
	m := e.lvalue(n)
	if n.Dt != nil && n.Dt.Tag == types.Array && m.Tag == ir.Mem {
		m.Tag = ir.MemRef
		m.Size = 8
	}
	return m
}

func (e *Emitter) exprSize(n *ast.Node) int {
	if n.Dt != nil {
		return e.scalarSize(n.Dt)
	}
	return 4
}

// incDecOperand lowers ++/--: read-modify-write against memory, the
// value before (post) or after (pre) the bump as the result.
func (e *Emitter) incDecOperand(n *ast.Node, operand *ast.Node, post bool) ir.Operand {
	m := e.lvalue(operand)
	if m.Tag == ir.Invalid {
		return m
	}
	step := 1
	if operand.Dt != nil && operand.Dt.Tag == types.Ptr && operand.Dt.Base != nil {
		step = e.sizeOf(operand.Dt.Base)
	}
	instr := "add"
	if n.Op == "--" {
		instr = "sub"
	}
	var result ir.Operand
	if post {
		result = e.toRegKeep(m, m.Size)
		e.out("%s %s, %d", instr, e.opText(m), step)
	} else {
		e.out("%s %s, %d", instr, e.opText(m), step)
		result = e.toRegKeep(m, m.Size)
	}
	e.freeOp(m)
	return result
}

func (e *Emitter) ternaryOperand(n *ast.Node) ir.Operand {
	thenB := e.ctx.CreateBlock(e.fn)
	elseB := e.ctx.CreateBlock(e.fn)
	join := e.ctx.CreateBlock(e.fn)
	size := e.exprSize(n)
	r := e.allocReg(size)

	e.condBranch(n.FirstChild, thenB, elseB)

	e.cur = thenB
	op := e.value(n.L, AsValue)
	e.moveInto(r, size, op)
	e.ctx.Jump(e.cur, join)

	e.cur = elseB
	op = e.value(n.R, AsValue)
	e.moveInto(r, size, op)
	e.ctx.Jump(e.cur, join)

	e.cur = join
	return ir.RegOperand(r, size)
}

func (e *Emitter) moveInto(r arch.RegID, size int, op ir.Operand) {
	switch op.Tag {
	case ir.Literal:
		e.out("mov %s, %d", arch.Name(r, size), op.IVal)
	case ir.Reg:
		if op.Reg != r {
			e.out("mov %s, %s", arch.Name(r, size), arch.Name(op.Reg, size))
		}
		e.freeOp(op)
	default:
		tmp := e.toReg(op, size)
		if tmp.Reg != r {
			e.out("mov %s, %s", arch.Name(r, size), arch.Name(tmp.Reg, size))
		}
		e.freeOp(tmp)
	}
}

// --- calls ---

// callOperand implements the stack-only convention: live caller-save
// registers pushed, arguments pushed right-to-left, the call as a block
// terminator, argument pop and register recovery in the return block.
func (e *Emitter) callOperand(n *ast.Node) ir.Operand {
	var saved []arch.RegID
	for _, r := range e.pool.LiveRegisters() {
		if !e.arch.IsCalleeSaved(r) {
			saved = append(saved, r)
			e.out("push %s", arch.Name(r, 8))
		}
	}

	argBytes := 0
	for i := len(n.Children) - 1; i >= 0; i-- {
		argBytes += e.pushArg(n.Children[i])
	}

	ret := e.ctx.CreateBlock(e.fn)
	direct := directCallee(n.L)
	if direct != nil {
		if direct.Label == "" {
			direct.Label = e.arch.Mangle(direct.Ident)
		}
		e.ctx.Call(e.cur, direct.Label, ret)
	} else {
		target := e.toReg(e.value(n.L, AsValue), 8)
		e.ctx.IndirectCall(e.cur, target, ret)
		e.pool.Free(target.Reg)
	}
	e.cur = ret

	if argBytes > 0 {
		e.out("add rsp, %d", argBytes)
	}

	var result ir.Operand = ir.VoidOperand()
	retType := returnTypeOf(n)
	if retType != nil && !retType.IsVoid() {
		size := e.scalarSize(retType)
		r := e.allocReg(size)
		if r != arch.RAX {
			e.out("mov %s, %s", arch.Name(r, size), arch.Name(arch.RAX, size))
		}
		result = ir.RegOperand(r, size)
	}

	for i := len(saved) - 1; i >= 0; i-- {
		e.out("pop %s", arch.Name(saved[i], 8))
	}
	return result
}

// pushArg pushes one argument and returns the bytes it occupies.
// Scalars widen to a word; records push their image word by word so the
// callee's positive offsets line up.
func (e *Emitter) pushArg(arg *ast.Node) int {
	word := e.arch.WordSize
	if arg.Dt != nil && isRecordType(arg.Dt) {
		size := roundUp(e.sizeOf(arg.Dt), word)
		m := e.lvalue(arg)
		for off := size - word; off >= 0; off -= word {
			s := m
			s.Offset += off
			s.Size = 8
			e.out("push %s", e.opText(s))
		}
		e.freeOp(m)
		return size
	}

	op := e.value(arg, AsValue)
	if op.Tag == ir.Literal {
		e.out("push %d", op.IVal)
		return word
	}
	r := e.toReg(op, 0)
	r = e.widenReg(r, 8)
	e.out("push %s", arch.Name(r.Reg, 8))
	e.freeOp(r)
	return word
}

// directCallee returns the function symbol when the callee is a plain
// function name, nil for calls through pointers.
func directCallee(callee *ast.Node) *symtab.Symbol {
	if callee == nil || callee.Class != ast.Literal || callee.LitClass != ast.LitIdent {
		return nil
	}
	sym := callee.Symbol
	if sym == nil || sym.Dt == nil || sym.Dt.Tag != types.Function {
		return nil
	}
	return sym
}

func returnTypeOf(call *ast.Node) *types.Type {
	return call.Dt
}

// --- casts and variadics ---

func (e *Emitter) castOperand(n *ast.Node) ir.Operand {
	op := e.value(n.R, AsValue)
	if n.Dt == nil {
		return op
	}
	target := e.scalarSize(n.Dt)
	if op.Tag == ir.Literal {
		return op
	}
	r := e.toReg(op, 0)
	return e.resizeReg(r, target)
}

// compoundLitOperand materializes `(T){ ... }` into the anonymous
// stack slot the parser reserved for it: unmentioned bytes zeroed,
// then each initializer element stored.
func (e *Emitter) compoundLitOperand(n *ast.Node) ir.Operand {
	sym := n.Symbol
	if sym == nil || sym.Dt == nil {
		e.bag.InternalError(n.Loc, "compound literal has no backing storage")
		return ir.InvalidOperand()
	}
	size := e.sizeOf(sym.Dt)
	e.zeroStorage(sym.Offset, size)
	if n.R != nil {
		e.emitLocalInit(sym.Offset, sym.Dt, n.R)
	}
	return ir.MemOperand(arch.RBP, arch.RegUndefined, 0, sym.Offset, e.scalarSize(sym.Dt))
}

// vaStartOperand points the va_list at the first unnamed argument: the
// slot just past the last named parameter.
func (e *Emitter) vaStartOperand(n *ast.Node) ir.Operand {
	ap := e.lvalue(n.L)
	last := n.R.Symbol
	if last == nil {
		return ir.VoidOperand()
	}
	slot := last.Offset + roundUp(e.sizeOf(last.Dt), e.arch.WordSize)
	r := e.allocReg(8)
	e.out("lea %s, [rbp%+d]", arch.Name(r, 8), slot)
	ap.Size = 8
	e.out("mov %s, %s", e.opText(ap), arch.Name(r, 8))
	e.pool.Free(r)
	e.freeOp(ap)
	return ir.VoidOperand()
}

func (e *Emitter) vaCopyOperand(n *ast.Node) ir.Operand {
	src := e.value(n.R, AsValue)
	r := e.toReg(src, 8)
	dst := e.lvalue(n.L)
	dst.Size = 8
	e.out("mov %s, %s", e.opText(dst), arch.Name(r.Reg, 8))
	e.freeOp(r)
	e.freeOp(dst)
	return ir.VoidOperand()
}

// vaArgOperand loads the next variadic argument and advances the list
// by its stack slot.
func (e *Emitter) vaArgOperand(n *ast.Node) ir.Operand {
	size := 8
	if n.Dt != nil {
		size = e.scalarSize(n.Dt)
	}
	ap := e.lvalue(n.L)
	ap.Size = 8
	ptr := e.allocReg(8)
	e.out("mov %s, %s", arch.Name(ptr, 8), e.opText(ap))
	val := e.allocReg(size)
	e.out("mov %s, %s [%s]", arch.Name(val, size),
		sizeKeyword(size), arch.Name(ptr, 8))
	e.pool.Free(ptr)
	e.out("add %s, %d", e.opText(ap), e.arch.WordSize)
	e.freeOp(ap)
	return ir.RegOperand(val, size)
}

func sizeKeyword(size int) string {
	switch size {
	case 1:
		return "byte ptr"
	case 2:
		return "word ptr"
	case 4:
		return "dword ptr"
	default:
		return "qword ptr"
	}
}

// --- operand plumbing ---

func (e *Emitter) allocReg(size int) arch.RegID {
	r := e.pool.Alloc(size)
	if r == arch.RegUndefined {
		e.bag.InternalError(token.Loc{}, "register pool exhausted")
		return arch.RAX
	}
	return r
}

func (e *Emitter) freeOp(op ir.Operand) {
	switch op.Tag {
	case ir.Reg:
		e.pool.Free(op.Reg)
	case ir.Mem, ir.MemRef:
		if op.Base != arch.RBP && op.Base != arch.RSP {
			e.pool.Free(op.Base)
		}
		if op.Index != arch.RegUndefined {
			e.pool.Free(op.Index)
		}
	}
}

// toReg materializes op into a register. size 0 means "keep op's own
// width" (8 for addresses). The input operand's registers are consumed.
func (e *Emitter) toReg(op ir.Operand, size int) ir.Operand {
	switch op.Tag {
	case ir.Reg:
		if size != 0 && op.Size < size {
			return e.widenReg(op, size)
		}
		if size != 0 {
			op.Size = size
		}
		return op
	case ir.Literal:
		if size == 0 {
			size = 8
		}
		r := e.allocReg(size)
		e.out("mov %s, %d", arch.Name(r, size), op.IVal)
		return ir.RegOperand(r, size)
	case ir.Mem, ir.LabelMem:
		loadSize := op.Size
		if loadSize == 0 {
			loadSize = 8
		}
		want := size
		if want == 0 {
			want = loadSize
		}
		e.freeOp(op)
		r := e.allocReg(want)
		if loadSize < want {
			instr := "movsx"
			if loadSize == 4 && want == 8 {
				instr = "movsxd"
			}
			e.out("%s %s, %s", instr, arch.Name(r, want), e.opText(op))
		} else {
			op.Size = want
			e.out("mov %s, %s", arch.Name(r, want), e.opText(op))
		}
		return ir.RegOperand(r, want)
	case ir.MemRef:
		e.freeOp(op)
		r := e.allocReg(8)
		mem := op
		mem.Tag = ir.Mem
		mem.Size = 8
		e.out("lea %s, [%s]", arch.Name(r, 8), e.memBody(mem))
		return ir.RegOperand(r, 8)
	case ir.Label, ir.LabelOffset:
		r := e.allocReg(8)
		e.out("lea %s, [rip+%s]", arch.Name(r, 8), op.Name)
		return ir.RegOperand(r, 8)
	case ir.Flags:
		want := size
		if want == 0 {
			want = 4
		}
		r := e.allocReg(want)
		// The flags condition is negated; set the original sense.
		e.out("set%s %s", op.Cond.Negate().Suffix(), arch.Name(r, 1))
		e.out("movzx %s, %s", arch.Name(r, want), arch.Name(r, 1))
		return ir.RegOperand(r, want)
	}
	e.bag.InternalError(token.Loc{}, "operand cannot be loaded")
	return ir.RegOperand(e.allocReg(8), 8)
}

// toRegKeep loads op into a register without consuming op's registers
// (used when the memory operand is stored through afterwards).
func (e *Emitter) toRegKeep(op ir.Operand, size int) ir.Operand {
	if size == 0 {
		size = 8
	}
	r := e.allocReg(size)
	e.out("mov %s, %s", arch.Name(r, size), e.opSized(op, size))
	return ir.RegOperand(r, size)
}

// widenReg sign-extends a register value in place to the wider width.
func (e *Emitter) widenReg(op ir.Operand, size int) ir.Operand {
	if op.Tag != ir.Reg || op.Size >= size {
		if op.Tag == ir.Reg {
			op.Size = size
		}
		return op
	}
	if op.Size == 4 && size == 8 {
		e.out("movsxd %s, %s", arch.Name(op.Reg, 8), arch.Name(op.Reg, 4))
	} else {
		e.out("movsx %s, %s", arch.Name(op.Reg, size), arch.Name(op.Reg, op.Size))
	}
	op.Size = size
	return op
}

// resizeReg adjusts a register operand's width: narrowing is free,
// widening sign-extends.
func (e *Emitter) resizeReg(op ir.Operand, size int) ir.Operand {
	if op.Tag != ir.Reg || op.Size == size {
		return op
	}
	if op.Size < size {
		return e.widenReg(op, size)
	}
	op.Size = size
	return op
}

func (e *Emitter) coerce(op ir.Operand, req Request, n *ast.Node) ir.Operand {
	switch req {
	case Discard:
		return op
	case InReg:
		return e.toReg(op, 0)
	case RegOrMem:
		switch op.Tag {
		case ir.Reg, ir.Mem, ir.LabelMem, ir.Literal:
			return op
		}
		return e.toReg(op, 0)
	case AsValue:
		switch op.Tag {
		case ir.MemRef, ir.Label, ir.LabelOffset, ir.Flags:
			return e.toReg(op, 0)
		}
		return op
	case AsFlags:
		if op.Tag == ir.Flags {
			return op
		}
		size := 4
		if op.Tag == ir.Reg || op.IsMem() {
			if op.Size != 0 {
				size = op.Size
			}
		}
		r := e.toReg(op, size)
		e.out("cmp %s, 0", arch.Name(r.Reg, size))
		e.freeOp(r)
		return ir.FlagsOperand(ir.CondEQ)
	case ToReturn:
		size := 8
		if n != nil && n.Dt != nil {
			size = e.scalarSize(n.Dt)
		}
		switch op.Tag {
		case ir.Literal:
			e.out("mov %s, %d", arch.Name(arch.RAX, size), op.IVal)
		case ir.Reg:
			if op.Reg != arch.RAX {
				e.out("mov %s, %s", arch.Name(arch.RAX, size), arch.Name(op.Reg, size))
			}
			e.freeOp(op)
		case ir.MemRef, ir.Label, ir.LabelOffset, ir.Flags:
			r := e.toReg(op, 8)
			if r.Reg != arch.RAX {
				e.out("mov rax, %s", arch.Name(r.Reg, 8))
			}
			e.freeOp(r)
		default:
			r := e.toReg(op, size)
			if r.Reg != arch.RAX {
				e.out("mov %s, %s", arch.Name(arch.RAX, size), arch.Name(r.Reg, size))
			}
			e.freeOp(r)
		}
		return ir.RegOperand(arch.RAX, size)
	}
	return op
}

// --- operand text ---

func (e *Emitter) opText(op ir.Operand) string {
	switch op.Tag {
	case ir.Reg:
		return arch.Name(op.Reg, op.Size)
	case ir.Mem, ir.MemRef:
		return sizeKeyword(op.Size) + " [" + e.memBody(op) + "]"
	case ir.LabelMem:
		body := "rip+" + op.Name
		if op.Offset != 0 {
			body += signed(op.Offset)
		}
		return sizeKeyword(op.Size) + " [" + body + "]"
	case ir.Literal:
		return fmt.Sprintf("%d", op.IVal)
	case ir.Label, ir.LabelOffset:
		return op.Name
	}
	return "<?>"
}

// opSized renders op at an explicit width (registers renamed, memory
// re-keyworded); literals print as-is.
func (e *Emitter) opSized(op ir.Operand, size int) string {
	switch op.Tag {
	case ir.Reg:
		return arch.Name(op.Reg, size)
	case ir.Mem, ir.MemRef, ir.LabelMem:
		op.Size = size
		return e.opText(op)
	}
	return e.opText(op)
}

func (e *Emitter) memBody(op ir.Operand) string {
	body := arch.Name(op.Base, 8)
	if op.Index != arch.RegUndefined {
		factor := op.Factor
		if factor == 0 {
			factor = 1
		}
		body += fmt.Sprintf("+%s*%d", arch.Name(op.Index, 8), factor)
	}
	if op.Offset != 0 {
		body += signed(op.Offset)
	}
	return body
}

func signed(n int) string {
	return fmt.Sprintf("%+d", n)
}
