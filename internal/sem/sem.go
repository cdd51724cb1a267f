// Package sem is the semantic analyzer: it walks the module tree,
// resolves storage classes, grows declarator trees into full types,
// validates initializers, lays out records, assigns enum-constant
// values, and attaches a result type to every expression node. Errors
// never stop the walk; mis-analyzed nodes carry the invalid type so
// downstream checks stay quiet.
package sem

import (
	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/ast"
	"github.com/gmofishsauce/fcc/internal/constfold"
	"github.com/gmofishsauce/fcc/internal/diag"
	"github.com/gmofishsauce/fcc/internal/symtab"
	"github.com/gmofishsauce/fcc/internal/token"
	"github.com/gmofishsauce/fcc/internal/types"
)

// fnCtx is the per-function context pushed around each body, carrying
// the return type that return statements compare against.
type fnCtx struct {
	sym *symtab.Symbol
	ret *types.Type
}

// Analyzer threads everything explicitly: no package-level state.
type Analyzer struct {
	arch   *arch.Arch
	bag    *diag.Bag
	global *symtab.Symbol

	fns       []*fnCtx
	loopDepth int

	intType  *types.Type
	charType *types.Type
	boolType *types.Type
	voidType *types.Type

	// Already-reported incomplete basics, so one missing struct body is
	// diagnosed once rather than at every use.
	incompleteDeclIgnore map[*types.BasicSym]bool
	incompletePtrIgnore  map[*types.BasicSym]bool
}

// New builds an Analyzer over the symbol forest rooted at global.
func New(a *arch.Arch, global *symtab.Symbol, bag *diag.Bag) *Analyzer {
	an := &Analyzer{
		arch:                 a,
		bag:                  bag,
		global:               global,
		incompleteDeclIgnore: map[*types.BasicSym]bool{},
		incompletePtrIgnore:  map[*types.BasicSym]bool{},
	}
	an.intType = an.builtin("int")
	an.charType = an.builtin("char")
	an.boolType = an.builtin("bool")
	an.voidType = an.builtin("void")
	return an
}

func (an *Analyzer) builtin(name string) *types.Type {
	sym := symtab.Child(an.global, name)
	if sym == nil {
		return types.NewInvalid()
	}
	return types.NewBasic(sym.BasicType())
}

// Analyze walks every module in dependency order.
func (an *Analyzer) Analyze(modules []*ast.Node) {
	for _, m := range modules {
		an.analyzeModule(m)
	}
}

func (an *Analyzer) analyzeModule(m *ast.Node) {
	for _, c := range m.Children {
		switch c.Class {
		case ast.Using, ast.Empty:
			// already resolved by the parser
		case ast.Decl:
			an.analyzeDecl(c, true)
		default:
			an.bag.InternalError(c.Loc, "unhandled module-level node %s", ast.ClassStr(c.Class))
		}
	}
}

// --- declarations ---

// analyzeDecl handles one declaration: basic type, then each
// declarator, in spec order (storage, basic type, declarator types,
// initializers).
func (an *Analyzer) analyzeDecl(n *ast.Node, moduleLevel bool) {
	if len(n.Children) == 0 {
		return
	}
	base := an.basicType(n.Children[0])

	for _, d := range n.Children[1:] {
		switch d.Class {
		case ast.Declarator:
			an.analyzeDeclarator(d, base, n.Storage, moduleLevel)
		case ast.Function:
			an.analyzeFunction(d, base, n.Storage)
		}
	}
	n.Dt = types.DeepDuplicate(base)
}

// basicType builds the type of the declaration-specifier subtree:
// struct/union/enum definitions are analyzed in place, references and
// type names resolve through their symbol.
func (an *Analyzer) basicType(n *ast.Node) *types.Type {
	if n == nil {
		return types.NewInvalid()
	}
	switch n.Class {
	case ast.StructDef:
		return an.analyzeRecordDef(n, false)
	case ast.UnionDef:
		return an.analyzeRecordDef(n, true)
	case ast.EnumDef:
		return an.analyzeEnumDef(n)
	case ast.TypeSpec:
		return an.typeSpec(n)
	}
	an.bag.InternalError(n.Loc, "unhandled type specifier %s", ast.ClassStr(n.Class))
	return types.NewInvalid()
}

func (an *Analyzer) typeSpec(n *ast.Node) *types.Type {
	sym := n.Symbol
	if sym == nil {
		n.Dt = types.NewInvalid()
		return n.Dt
	}
	var t *types.Type
	switch sym.Tag {
	case symtab.TypeSym, symtab.Struct, symtab.Union, symtab.Enum:
		t = types.NewBasic(sym.BasicType())
	case symtab.Typedef:
		if sym.Dt == nil {
			t = types.NewInvalid()
		} else {
			t = types.DeepDuplicate(sym.Dt)
		}
	default:
		an.bag.Error(n.Loc, "'%s' does not name a type", n.Ident)
		t = types.NewInvalid()
	}
	if n.IsConst {
		if t.IsConst {
			an.bag.Error(n.Loc, "type is already const")
		}
		t.IsConst = true
	}
	n.Dt = t
	return t
}

// analyzeRecordDef analyzes a struct/union body: each member
// declaration, then layout. Struct fields get increasing offsets; union
// fields all sit at offset zero and the union is as big as its biggest
// member.
func (an *Analyzer) analyzeRecordDef(n *ast.Node, isUnion bool) *types.Type {
	sym := n.Symbol
	if sym == nil {
		return types.NewInvalid()
	}
	for _, member := range n.Children {
		if member.Class == ast.Decl {
			an.analyzeDecl(member, false)
		}
	}

	offset, size := 0, 0
	for _, field := range sym.Children {
		if field.Tag != symtab.Id || field.Dt == nil {
			continue
		}
		fieldSize := types.Size(an.arch, field.Dt)
		if !field.Dt.IsComplete() {
			an.reportIncompleteDecl(field.Loc, field.Dt)
			continue
		}
		if isUnion {
			field.Offset = 0
			if fieldSize > size {
				size = fieldSize
			}
		} else {
			field.Offset = offset
			offset += fieldSize
			size = offset
		}
	}

	mask := types.StructCap
	if isUnion {
		mask = types.UnionCap
	}
	sym.Size = size
	sym.TypeMask = mask
	sym.Complete = true
	b := sym.BasicType()
	b.Size = size
	b.Caps = mask
	b.Complete = true

	t := types.NewBasic(b)
	t.IsConst = n.IsConst
	n.Dt = t
	return t
}

// analyzeEnumDef assigns constant values: auto-increment from the last
// explicit value, starting at zero.
func (an *Analyzer) analyzeEnumDef(n *ast.Node) *types.Type {
	sym := n.Symbol
	if sym == nil {
		return types.NewInvalid()
	}
	sym.Size = an.intType.Basic.Size
	sym.TypeMask = types.EnumCap
	sym.Complete = true
	b := sym.BasicType()
	b.Size = sym.Size
	b.Caps = types.EnumCap
	b.Complete = true
	enumType := types.NewBasic(b)

	next := int64(0)
	for _, c := range n.Children {
		if c.Class != ast.EnumConst || c.Symbol == nil {
			continue
		}
		if c.R != nil {
			an.analyzeExpr(c.R)
			v := constfold.Eval(an.arch, c.R)
			if !v.Known {
				an.bag.Error(c.Loc, "enum constant '%s' is not compile-time known", c.Ident)
			} else {
				next = v.Value
			}
		}
		c.Symbol.ConstValue = next
		c.Symbol.Dt = types.DeepDuplicate(enumType)
		c.Dt = c.Symbol.Dt
		next++
	}

	t := types.DeepDuplicate(enumType)
	t.IsConst = n.IsConst
	n.Dt = t
	return t
}

// resolveStorage applies the default storage rules: an explicit keyword
// wins; otherwise functions are extern, module-level data static, and
// locals auto.
func resolveStorage(explicit symtab.Storage, dt *types.Type, moduleLevel bool) symtab.Storage {
	if explicit != symtab.StorageUndefined {
		return explicit
	}
	if dt.Tag == types.Function {
		return symtab.Extern
	}
	if moduleLevel {
		return symtab.Static
	}
	return symtab.Auto
}

// analyzeDeclarator grows the declarator tree outward from base,
// attaches the type to the symbol (or verifies it against previous
// declarations), and validates the initializer.
func (an *Analyzer) analyzeDeclarator(d *ast.Node, base *types.Type, explicit symtab.Storage, moduleLevel bool) {
	dt := an.declaratorType(d.L, types.DeepDuplicate(base))
	d.Dt = dt

	sym := d.Symbol
	if sym == nil {
		return
	}
	storage := resolveStorage(explicit, dt, moduleLevel)

	if sym.Tag == symtab.Typedef {
		if sym.Dt == nil {
			sym.Dt = types.DeepDuplicate(dt)
			sym.Storage = symtab.StorageTypedef
		} else if !types.IsEqual(sym.Dt, dt) {
			an.bag.Error(d.Loc, "typedef '%s' conflicts with a previous declaration", d.Ident)
		}
		return
	}

	if sym.Dt == nil {
		sym.Dt = types.DeepDuplicate(dt)
		sym.Storage = storage
	} else if !types.IsEqual(sym.Dt, dt) {
		an.bag.Error(d.Loc, "conflicting declaration of '%s': %s vs %s",
			d.Ident, types.ToStr(dt), types.ToStr(sym.Dt))
	}

	if dt.Tag != types.Function && storage != symtab.Extern && !dt.IsInvalid() {
		// Arrays with a negative size are either pending inference or
		// already diagnosed; either way they stay quiet here.
		if !dt.IsComplete() && !(dt.Tag == types.Array && dt.ArraySize < 0) {
			an.reportIncompleteDecl(d.Loc, dt)
		}
	}

	an.validateInitializer(d, sym, storage)
}

// declaratorType walks the declarator tree: the node nearest the name
// binds tightest, so each wrap applies to base before recursing inward.
func (an *Analyzer) declaratorType(n *ast.Node, base *types.Type) *types.Type {
	if n == nil {
		return base
	}
	switch n.Class {
	case ast.DeclPtr:
		p := types.NewPtr(base)
		p.IsConst = n.IsConst
		return an.declaratorType(n.R, p)
	case ast.DeclArray:
		if base.IsConst {
			an.bag.Error(n.Loc, "const applies to array elements, not the array")
		}
		size := an.arraySize(n.R)
		return an.declaratorType(n.L, types.NewArray(base, size))
	case ast.DeclFunc:
		if base.IsConst {
			an.bag.Error(n.Loc, "a function type cannot be const")
		}
		var params []*types.Type
		for _, pn := range n.Children {
			params = append(params, an.paramType(pn))
		}
		return an.declaratorType(n.L, types.NewFunction(base, params, n.Variadic))
	}
	an.bag.InternalError(n.Loc, "unhandled declarator node %s", ast.ClassStr(n.Class))
	return types.NewInvalid()
}

// arraySize computes a declared array size: nil means unspecified (to
// be inferred from an initializer); anything else must fold to a
// positive compile-time integer.
func (an *Analyzer) arraySize(sizeExpr *ast.Node) int {
	if sizeExpr == nil {
		return types.ArraySizeUnspecified
	}
	an.analyzeExpr(sizeExpr)
	v := constfold.Eval(an.arch, sizeExpr)
	if !v.Known {
		an.bag.Error(sizeExpr.Loc, "array size is not compile-time known")
		return types.ArraySizeError
	}
	if v.Value <= 0 {
		an.bag.Error(sizeExpr.Loc, "array size must be positive, got %d", v.Value)
		return types.ArraySizeError
	}
	return int(v.Value)
}

// paramType types one parameter: arrays decay to pointers, and the
// parameter symbol (when named) gets its type attached here.
func (an *Analyzer) paramType(pn *ast.Node) *types.Type {
	if len(pn.Children) == 0 {
		return types.NewInvalid()
	}
	base := an.basicType(pn.Children[0])
	var tree *ast.Node
	if len(pn.Children) > 1 {
		tree = pn.Children[1].L
	}
	t := an.declaratorType(tree, types.DeepDuplicate(base))
	if t.Tag == types.Array {
		t = types.NewPtr(types.DeepDuplicate(t.Base))
	}
	if t.IsVoid() {
		an.bag.Error(pn.Loc, "parameter '%s' has void type", pn.Ident)
		t = types.NewInvalid()
	}
	if !t.IsInvalid() && t.Tag == types.Basic && !t.IsComplete() {
		an.reportIncompleteParam(pn.Loc, t)
	}
	if pn.Symbol != nil {
		pn.Symbol.Dt = types.DeepDuplicate(t)
	}
	pn.Dt = t
	return t
}

// analyzeFunction types the function declarator, then analyzes the body
// under a pushed per-function context.
func (an *Analyzer) analyzeFunction(fn *ast.Node, base *types.Type, explicit symtab.Storage) {
	d := fn.L
	if d == nil {
		return
	}
	dt := an.declaratorType(d.L, types.DeepDuplicate(base))
	d.Dt = dt
	fn.Dt = types.DeepDuplicate(dt)

	sym := fn.Symbol
	if sym == nil {
		return
	}
	if dt.Tag != types.Function && !dt.IsInvalid() {
		an.bag.Error(fn.Loc, "'%s' is implemented as a function but declared %s",
			fn.Ident, types.ToStr(dt))
		return
	}
	if sym.Dt == nil {
		sym.Dt = types.DeepDuplicate(dt)
		sym.Storage = resolveStorage(explicit, dt, true)
	} else if !types.IsEqual(sym.Dt, dt) {
		an.bag.Error(fn.Loc, "conflicting declaration of '%s': %s vs %s",
			fn.Ident, types.ToStr(dt), types.ToStr(sym.Dt))
	}

	ret := dt.Return
	if ret == nil {
		ret = types.NewInvalid()
	}
	if ret.Tag == types.Basic && !ret.IsVoid() && !ret.IsComplete() {
		an.reportIncompleteReturn(fn.Loc, ret)
	}
	// The calling convention returns one machine word in RAX; a wider
	// record cannot come back through it.
	if recordSymbol(ret) != nil && types.Size(an.arch, ret) > an.arch.WordSize {
		an.bag.Error(fn.Loc, "'%s' returns %s, wider than the return register",
			fn.Ident, types.ToStr(ret))
	}

	an.fns = append(an.fns, &fnCtx{sym: sym, ret: ret})
	if fn.R != nil {
		an.analyzeStmt(fn.R)
	}
	an.fns = an.fns[:len(an.fns)-1]
}

func (an *Analyzer) currentFn() *fnCtx {
	if len(an.fns) == 0 {
		return nil
	}
	return an.fns[len(an.fns)-1]
}

// --- initializers ---

func (an *Analyzer) validateInitializer(d *ast.Node, sym *symtab.Symbol, storage symtab.Storage) {
	init := d.R
	if init == nil {
		if sym.Dt != nil && sym.Dt.Tag == types.Array &&
			sym.Dt.ArraySize == types.ArraySizeUnspecified && storage != symtab.Extern {
			an.bag.Error(d.Loc, "array '%s' has unspecified size and no initializer", d.Ident)
		}
		return
	}
	if storage == symtab.Extern {
		an.bag.Error(d.Loc, "extern declaration of '%s' may not have an initializer", d.Ident)
		return
	}

	declType := sym.Dt
	if declType == nil {
		declType = d.Dt
	}
	an.checkInit(init, declType, d)

	// A string literal initializing a char array is copied into the
	// static image as it stands.
	stringArray := init.Class == ast.Literal && init.LitClass == ast.LitString &&
		declType != nil && declType.Tag == types.Array
	if storage == symtab.Static && !stringArray && !constfold.IsConstantInit(an.arch, init) {
		an.bag.Error(init.Loc, "initializer of static '%s' is not compile-time constant", d.Ident)
	}
}

// checkInit validates one initializer against the declared type,
// recursing structurally through compound initializers. Unspecified
// array sizes are inferred here.
func (an *Analyzer) checkInit(init *ast.Node, declType *types.Type, d *ast.Node) {
	if declType == nil || declType.IsInvalid() {
		if init.Class != ast.InitList {
			an.analyzeExpr(init)
		}
		return
	}

	if init.Class == ast.InitList {
		switch declType.Tag {
		case types.Array:
			for _, c := range init.Children {
				an.checkInit(c, declType.Base, nil)
			}
			if declType.ArraySize == types.ArraySizeUnspecified {
				an.inferArraySize(d, declType, len(init.Children))
			} else if declType.ArraySize >= 0 && len(init.Children) > declType.ArraySize {
				an.bag.Error(init.Loc, "too many initializers: %d for an array of %d",
					len(init.Children), declType.ArraySize)
			}
		case types.Basic:
			fields := an.recordFields(declType)
			if fields == nil {
				an.bag.Error(init.Loc, "compound initializer for non-aggregate %s", types.ToStr(declType))
				return
			}
			if len(init.Children) > len(fields) {
				an.bag.Error(init.Loc, "too many initializers: %d for a record with %d fields",
					len(init.Children), len(fields))
			}
			for i, c := range init.Children {
				if i < len(fields) {
					an.checkInit(c, fields[i].Dt, nil)
				}
			}
		default:
			an.bag.Error(init.Loc, "compound initializer for %s", types.ToStr(declType))
		}
		init.Dt = types.DeepDuplicate(declType)
		return
	}

	it := an.analyzeExpr(init)

	// `char s[] = "...";` infers the array size from the literal.
	if declType.Tag == types.Array && declType.ArraySize == types.ArraySizeUnspecified &&
		init.Class == ast.Literal && init.LitClass == ast.LitString {
		an.inferArraySize(d, declType, len(init.SVal)+1)
		return
	}

	if !types.IsCompatible(it, declType) {
		an.bag.Error(init.Loc, "incompatible initializer: %s for %s",
			types.ToStr(it), types.ToStr(declType))
	}
}

// inferArraySize fixes a -1-sized array once the initializer's element
// count is known, on both the declarator's and the symbol's type.
func (an *Analyzer) inferArraySize(d *ast.Node, declType *types.Type, n int) {
	declType.ArraySize = n
	if d != nil {
		if d.Dt != nil && d.Dt.Tag == types.Array && d.Dt.ArraySize == types.ArraySizeUnspecified {
			d.Dt.ArraySize = n
		}
		if d.Symbol != nil && d.Symbol.Dt != nil && d.Symbol.Dt.Tag == types.Array &&
			d.Symbol.Dt.ArraySize == types.ArraySizeUnspecified {
			d.Symbol.Dt.ArraySize = n
		}
	}
}

// recordFields returns the field symbols of a struct/union basic, or
// nil when t is not a record.
func (an *Analyzer) recordFields(t *types.Type) []*symtab.Symbol {
	sym := recordSymbol(t)
	if sym == nil {
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

func recordSymbol(t *types.Type) *symtab.Symbol {
	if t == nil || t.Tag != types.Basic || t.Basic == nil {
		return nil
	}
	sym, ok := t.Basic.Sym.(*symtab.Symbol)
	if !ok {
		return nil
	}
	if sym.Tag != symtab.Struct && sym.Tag != symtab.Union {
		return nil
	}
	return sym
}

// --- statements ---

func (an *Analyzer) analyzeStmt(n *ast.Node) {
	if n == nil {
		return
	}
	switch n.Class {
	case ast.Block:
		for _, c := range n.Children {
			an.analyzeStmt(c)
		}
	case ast.Decl:
		an.analyzeDecl(n, false)
	case ast.If:
		an.analyzeCondition(n.FirstChild)
		an.analyzeStmt(n.L)
		an.analyzeStmt(n.R)
	case ast.While:
		an.analyzeCondition(n.L)
		an.loopDepth++
		an.analyzeStmt(n.R)
		an.loopDepth--
	case ast.DoWhile:
		an.loopDepth++
		an.analyzeStmt(n.R)
		an.loopDepth--
		an.analyzeCondition(n.L)
	case ast.For:
		if len(n.Children) == 4 {
			an.analyzeStmt(n.Children[0])
			if n.Children[1].Class != ast.Empty {
				an.analyzeCondition(n.Children[1])
			}
			if n.Children[2].Class != ast.Empty {
				an.analyzeExpr(n.Children[2])
			}
			an.loopDepth++
			an.analyzeStmt(n.Children[3])
			an.loopDepth--
		}
	case ast.Return:
		an.analyzeReturn(n)
	case ast.Break:
		if an.loopDepth == 0 {
			an.bag.Error(n.Loc, "break outside a loop")
		}
	case ast.Continue:
		if an.loopDepth == 0 {
			an.bag.Error(n.Loc, "continue outside a loop")
		}
	case ast.ExprStmt:
		an.analyzeExpr(n.L)
	case ast.Empty:
		// nothing
	default:
		if ast.IsValueClass(n.Class) {
			an.analyzeExpr(n)
			return
		}
		an.bag.InternalError(n.Loc, "unhandled statement %s", ast.ClassStr(n.Class))
	}
}

func (an *Analyzer) analyzeCondition(n *ast.Node) {
	t := an.analyzeExpr(n)
	if !t.IsCondition() {
		an.bag.Error(n.Loc, "operand type %s cannot be a condition", types.ToStr(t))
	}
}

func (an *Analyzer) analyzeReturn(n *ast.Node) {
	fn := an.currentFn()
	if fn == nil {
		an.bag.Error(n.Loc, "return outside a function")
		if n.R != nil {
			an.analyzeExpr(n.R)
		}
		return
	}
	if n.R == nil {
		if !fn.ret.IsVoid() && !fn.ret.IsInvalid() {
			an.bag.Error(n.Loc, "return without a value in a function returning %s",
				types.ToStr(fn.ret))
		}
		return
	}
	t := an.analyzeExpr(n.R)
	if fn.ret.IsVoid() {
		an.bag.Error(n.Loc, "return with a value in a void function")
		return
	}
	if !types.IsCompatible(t, fn.ret) {
		an.bag.Error(n.Loc, "return type mismatch: %s, function returns %s",
			types.ToStr(t), types.ToStr(fn.ret))
	}
}

// --- expressions ---

// analyzeExpr attaches a type to n bottom-up and returns it. Every
// node gets a type; failures get the invalid type so cascades stay
// quiet (the capability predicates all accept invalid).
func (an *Analyzer) analyzeExpr(n *ast.Node) *types.Type {
	if n == nil {
		return types.NewInvalid()
	}
	var t *types.Type
	switch n.Class {
	case ast.Literal:
		t = an.literalType(n)
	case ast.BOP:
		t = an.bopType(n)
	case ast.UOP:
		t = an.uopType(n)
	case ast.PostOP:
		t = an.incDecType(n, n.L)
	case ast.TOP:
		t = an.topType(n)
	case ast.Index:
		t = an.indexType(n)
	case ast.Call:
		t = an.callType(n)
	case ast.Member:
		t = an.memberType(n, false)
	case ast.PtrMember:
		t = an.memberType(n, true)
	case ast.Cast:
		t = an.castType(n)
	case ast.CompoundLit:
		t = an.compoundLitType(n)
	case ast.Sizeof:
		t = an.sizeofType(n)
	case ast.VaStart, ast.VaEnd, ast.VaCopy:
		t = an.vaOpType(n)
	case ast.VaArg:
		t = an.vaArgType(n)
	case ast.InitList:
		an.bag.Error(n.Loc, "compound literal is missing an explicit type")
		t = types.NewInvalid()
	case ast.Empty:
		t = types.NewInvalid()
	default:
		an.bag.InternalError(n.Loc, "unhandled expression %s", ast.ClassStr(n.Class))
		t = types.NewInvalid()
	}
	n.Dt = t
	return t
}

func (an *Analyzer) literalType(n *ast.Node) *types.Type {
	switch n.LitClass {
	case ast.LitInt:
		return types.DeepDuplicate(an.intType)
	case ast.LitChar:
		return types.DeepDuplicate(an.charType)
	case ast.LitBool:
		return types.DeepDuplicate(an.boolType)
	case ast.LitString:
		return types.NewArray(types.DeepDuplicate(an.charType), len(n.SVal)+1)
	case ast.LitIdent:
		return an.identType(n)
	}
	an.bag.InternalError(n.Loc, "unhandled literal class")
	return types.NewInvalid()
}

func (an *Analyzer) identType(n *ast.Node) *types.Type {
	sym := n.Symbol
	if sym == nil {
		return types.NewInvalid()
	}
	switch sym.Tag {
	case symtab.Id, symtab.Param:
		if sym.Dt == nil {
			return types.NewInvalid()
		}
		return types.DeepDuplicate(sym.Dt)
	case symtab.EnumConstant:
		if sym.Dt != nil {
			return types.DeepDuplicate(sym.Dt)
		}
		return types.DeepDuplicate(an.intType)
	}
	an.bag.Error(n.Loc, "'%s' is not a value", n.Ident)
	return types.NewInvalid()
}

// isLvalue reports whether n designates a storage location.
func isLvalue(n *ast.Node) bool {
	if n == nil {
		return false
	}
	switch n.Class {
	case ast.Literal:
		if n.LitClass != ast.LitIdent || n.Symbol == nil {
			return false
		}
		return n.Symbol.Tag == symtab.Id || n.Symbol.Tag == symtab.Param
	case ast.Index, ast.Member, ast.PtrMember:
		return true
	case ast.UOP:
		return n.Op == "*"
	}
	return false
}

func (an *Analyzer) bopType(n *ast.Node) *types.Type {
	if assignOp(n.Op) {
		return an.assignType(n)
	}

	lt := an.analyzeExpr(n.L)
	rt := an.analyzeExpr(n.R)

	switch n.Op {
	case "&&", "||":
		if !lt.IsCondition() || !rt.IsCondition() {
			an.operandMismatch(n, lt, rt)
		}
		return types.DeepDuplicate(an.boolType)
	case "==", "!=":
		if !lt.IsEquality() || !rt.IsEquality() || !types.IsCompatible(lt, rt) {
			an.operandMismatch(n, lt, rt)
		}
		return types.DeepDuplicate(an.boolType)
	case "<", "<=", ">", ">=":
		if lt.IsPtr() && rt.IsPtr() {
			if !types.IsCompatible(lt, rt) {
				an.operandMismatch(n, lt, rt)
			}
		} else if !lt.IsOrdinal() || !rt.IsOrdinal() {
			an.operandMismatch(n, lt, rt)
		}
		return types.DeepDuplicate(an.boolType)
	case "+", "-":
		// Pointer arithmetic: ptr +- int yields the pointer type.
		if ptrLike(lt) && rt.IsNumeric() && !ptrLike(rt) {
			return decayDup(lt)
		}
		if n.Op == "+" && ptrLike(rt) && lt.IsNumeric() && !ptrLike(lt) {
			return decayDup(rt)
		}
		if n.Op == "-" && ptrLike(lt) && ptrLike(rt) {
			if !types.IsCompatible(lt, rt) {
				an.operandMismatch(n, lt, rt)
			}
			return types.DeepDuplicate(an.intType)
		}
		fallthrough
	case "*", "/", "%", "<<", ">>", "&", "|", "^":
		if !lt.IsNumeric() || !rt.IsNumeric() {
			an.operandMismatch(n, lt, rt)
			return types.NewInvalid()
		}
		return types.DeepDuplicate(an.intType)
	}
	an.bag.InternalError(n.Loc, "unhandled binary operator '%s'", n.Op)
	return types.NewInvalid()
}

func assignOp(op string) bool {
	switch op {
	case "=", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>=":
		return true
	}
	return false
}

func ptrLike(t *types.Type) bool {
	return t.Tag == types.Ptr || t.Tag == types.Array
}

// decayDup duplicates t, decaying an array to a pointer to its element.
func decayDup(t *types.Type) *types.Type {
	if t.Tag == types.Array {
		return types.NewPtr(types.DeepDuplicate(t.Base))
	}
	return types.DeepDuplicate(t)
}

func (an *Analyzer) assignType(n *ast.Node) *types.Type {
	lt := an.analyzeExpr(n.L)
	rt := an.analyzeExpr(n.R)

	if !isLvalue(n.L) {
		an.bag.Error(n.Loc, "lvalue required as assignment target")
		return types.NewInvalid()
	}
	if lt.IsConst {
		an.bag.Error(n.Loc, "assignment to const %s", types.ToStr(lt))
		return types.NewInvalid()
	}
	if lt.Tag == types.Array {
		an.bag.Error(n.Loc, "an array is not assignable")
		return types.NewInvalid()
	}
	if !lt.IsAssignment() && lt.Tag != types.Ptr {
		an.bag.Error(n.Loc, "operand type %s does not support assignment", types.ToStr(lt))
		return types.NewInvalid()
	}

	if n.Op == "=" {
		if !types.IsCompatible(rt, lt) {
			an.bag.Error(n.Loc, "type mismatch: cannot assign %s to %s",
				types.ToStr(rt), types.ToStr(lt))
		}
	} else {
		// Compound assignment needs arithmetic operands, except ptr += int.
		if ptrLike(lt) && (n.Op == "+=" || n.Op == "-=") && rt.IsNumeric() && !ptrLike(rt) {
			return types.DeepDuplicate(lt)
		}
		if !lt.IsNumeric() || !rt.IsNumeric() {
			an.operandMismatch(n, lt, rt)
		}
	}
	return types.DeepDuplicate(lt)
}

func (an *Analyzer) operandMismatch(n *ast.Node, lt, rt *types.Type) {
	an.bag.Error(n.Loc, "operand type mismatch for '%s': %s and %s",
		n.Op, types.ToStr(lt), types.ToStr(rt))
}

func (an *Analyzer) uopType(n *ast.Node) *types.Type {
	t := an.analyzeExpr(n.R)
	switch n.Op {
	case "-", "+", "~":
		if !t.IsNumeric() {
			an.bag.Error(n.Loc, "operand type %s is not numeric", types.ToStr(t))
			return types.NewInvalid()
		}
		return types.DeepDuplicate(an.intType)
	case "!":
		if !t.IsCondition() {
			an.bag.Error(n.Loc, "operand type %s cannot be a condition", types.ToStr(t))
		}
		return types.DeepDuplicate(an.boolType)
	case "*":
		return an.derefType(n, t)
	case "&":
		if !isLvalue(n.R) {
			an.bag.Error(n.Loc, "lvalue required to take an address")
			return types.NewInvalid()
		}
		return types.NewPtr(types.DeepDuplicate(t))
	case "++", "--":
		return an.incDecType(n, n.R)
	}
	an.bag.InternalError(n.Loc, "unhandled unary operator '%s'", n.Op)
	return types.NewInvalid()
}

func (an *Analyzer) derefType(n *ast.Node, t *types.Type) *types.Type {
	if t.IsInvalid() {
		return types.NewInvalid()
	}
	if !ptrLike(t) {
		an.bag.Error(n.Loc, "cannot dereference %s", types.ToStr(t))
		return types.NewInvalid()
	}
	base := t.Base
	if base == nil || base.IsVoid() {
		an.bag.Error(n.Loc, "dereference of a void pointer")
		return types.NewInvalid()
	}
	if base.Tag == types.Basic && !base.IsComplete() {
		an.reportIncompletePtr(n.Loc, base)
		return types.NewInvalid()
	}
	return types.DeepDuplicate(base)
}

func (an *Analyzer) incDecType(n *ast.Node, operand *ast.Node) *types.Type {
	var t *types.Type
	if operand.Dt != nil {
		t = operand.Dt
	} else {
		t = an.analyzeExpr(operand)
	}
	if !isLvalue(operand) {
		an.bag.Error(n.Loc, "lvalue required for '%s'", n.Op)
		return types.NewInvalid()
	}
	if t.IsConst {
		an.bag.Error(n.Loc, "assignment to const %s", types.ToStr(t))
		return types.NewInvalid()
	}
	if !t.IsNumeric() && t.Tag != types.Ptr {
		an.bag.Error(n.Loc, "operand type %s cannot be incremented", types.ToStr(t))
		return types.NewInvalid()
	}
	return types.DeepDuplicate(t)
}

func (an *Analyzer) topType(n *ast.Node) *types.Type {
	ct := an.analyzeExpr(n.FirstChild)
	if !ct.IsCondition() {
		an.bag.Error(n.Loc, "operand type %s cannot be a condition", types.ToStr(ct))
	}
	lt := an.analyzeExpr(n.L)
	rt := an.analyzeExpr(n.R)
	if !types.IsCompatible(lt, rt) {
		an.bag.Error(n.Loc, "ternary arms disagree: %s and %s",
			types.ToStr(lt), types.ToStr(rt))
		return types.NewInvalid()
	}
	return decayDup(lt)
}

func (an *Analyzer) indexType(n *ast.Node) *types.Type {
	bt := an.analyzeExpr(n.L)
	it := an.analyzeExpr(n.R)
	if !it.IsOrdinal() {
		an.bag.Error(n.Loc, "index type %s is not ordinal", types.ToStr(it))
	}
	return an.derefType(n, bt)
}

func (an *Analyzer) callType(n *ast.Node) *types.Type {
	ft := an.analyzeExpr(n.L)
	if ft.Tag == types.Ptr && ft.Base != nil && ft.Base.Tag == types.Function {
		ft = ft.Base
	}
	if ft.IsInvalid() {
		for _, arg := range n.Children {
			an.analyzeExpr(arg)
		}
		return types.NewInvalid()
	}
	if ft.Tag != types.Function {
		an.bag.Error(n.Loc, "called object has type %s, not a function", types.ToStr(ft))
		for _, arg := range n.Children {
			an.analyzeExpr(arg)
		}
		return types.NewInvalid()
	}

	nparams := len(ft.Params)
	nargs := len(n.Children)
	if nargs < nparams || (nargs > nparams && !ft.Variadic) {
		an.bag.Error(n.Loc, "call takes %d arguments, %d given", nparams, nargs)
	}
	for i, arg := range n.Children {
		at := an.analyzeExpr(arg)
		if i < nparams && !types.IsCompatible(at, ft.Params[i]) {
			an.bag.Error(arg.Loc, "parameter %d mismatch: %s for %s",
				i+1, types.ToStr(at), types.ToStr(ft.Params[i]))
		}
	}
	if ft.Return == nil {
		return types.NewInvalid()
	}
	return types.DeepDuplicate(ft.Return)
}

// memberType resolves `a.b` / `a->b`: the base must be (a pointer to,
// for ->) a complete record, and the field must exist in it. Anonymous
// unions are searched transparently by symtab.Child.
func (an *Analyzer) memberType(n *ast.Node, throughPtr bool) *types.Type {
	bt := an.analyzeExpr(n.L)
	if bt.IsInvalid() {
		return types.NewInvalid()
	}
	if throughPtr {
		if bt.Tag != types.Ptr {
			an.bag.Error(n.Loc, "'->' requires a pointer, got %s", types.ToStr(bt))
			return types.NewInvalid()
		}
		bt = bt.Base
		if bt == nil {
			return types.NewInvalid()
		}
	}
	rec := recordSymbol(bt)
	if rec == nil {
		an.bag.Error(n.Loc, "member access on %s, which is not a record", types.ToStr(bt))
		return types.NewInvalid()
	}
	if !rec.Complete {
		an.reportIncompletePtr(n.Loc, bt)
		return types.NewInvalid()
	}
	field := symtab.Child(rec, n.Ident)
	if field == nil || field.Tag != symtab.Id {
		an.bag.Error(n.Loc, "no field '%s' in %s", n.Ident, types.ToStr(bt))
		return types.NewInvalid()
	}
	n.Symbol = field
	if field.Dt == nil {
		return types.NewInvalid()
	}
	t := types.DeepDuplicate(field.Dt)
	if bt.IsConst {
		t.IsConst = true
	}
	return t
}

func (an *Analyzer) castType(n *ast.Node) *types.Type {
	an.analyzeExpr(n.R)
	target := an.abstractType(n.L)
	return target
}

// compoundLitType types `(T){ ... }`: the initializer list validates
// structurally against T, and the backing symbol the parser created
// adopts T so the emitter can give the object a stack slot.
func (an *Analyzer) compoundLitType(n *ast.Node) *types.Type {
	t := an.abstractType(n.L)
	if t.Tag == types.Basic && !t.IsComplete() && !t.IsInvalid() {
		an.reportIncompleteDecl(n.Loc, t)
		return types.NewInvalid()
	}
	if n.R != nil {
		an.checkInit(n.R, t, nil)
	}
	if n.Symbol != nil {
		n.Symbol.Dt = types.DeepDuplicate(t)
		n.Symbol.Storage = symtab.Auto
	}
	return t
}

// abstractType computes the type named by a cast/sizeof/va_arg type
// operand (a nameless Declarator node) and records it on that node.
func (an *Analyzer) abstractType(d *ast.Node) *types.Type {
	if d == nil || len(d.Children) == 0 {
		return types.NewInvalid()
	}
	base := an.basicType(d.Children[0])
	t := an.declaratorType(d.L, types.DeepDuplicate(base))
	d.Dt = t
	return types.DeepDuplicate(t)
}

func (an *Analyzer) sizeofType(n *ast.Node) *types.Type {
	if n.R != nil {
		an.analyzeExpr(n.R)
	} else if n.L != nil {
		an.abstractType(n.L)
	}
	return types.DeepDuplicate(an.intType)
}

// vaOpType checks va_start/va_end/va_copy. The va_list object is a
// plain pointer-typed lvalue under the stack-only calling convention.
func (an *Analyzer) vaOpType(n *ast.Node) *types.Type {
	t := an.analyzeExpr(n.L)
	if !isLvalue(n.L) || t.Tag != types.Ptr {
		an.bag.Error(n.Loc, "first operand must be a pointer lvalue, got %s", types.ToStr(t))
	}
	if n.Class == ast.VaStart && n.R != nil {
		an.analyzeExpr(n.R)
		if n.R.Class != ast.Literal || n.R.LitClass != ast.LitIdent ||
			n.R.Symbol == nil || n.R.Symbol.Tag != symtab.Param {
			an.bag.Error(n.Loc, "va_start needs the last named parameter")
		}
	}
	if n.Class == ast.VaCopy && n.R != nil {
		rt := an.analyzeExpr(n.R)
		if rt.Tag != types.Ptr {
			an.bag.Error(n.Loc, "va_copy source must be a pointer, got %s", types.ToStr(rt))
		}
	}
	return types.DeepDuplicate(an.voidType)
}

func (an *Analyzer) vaArgType(n *ast.Node) *types.Type {
	t := an.analyzeExpr(n.L)
	if !isLvalue(n.L) || t.Tag != types.Ptr {
		an.bag.Error(n.Loc, "first operand must be a pointer lvalue, got %s", types.ToStr(t))
	}
	return an.abstractType(n.R)
}

// --- incomplete-type reporting, once per basic symbol ---

func (an *Analyzer) reportIncompleteDecl(loc token.Loc, t *types.Type) {
	b := basicOf(t)
	if b == nil || an.incompleteDeclIgnore[b] {
		return
	}
	an.incompleteDeclIgnore[b] = true
	an.bag.Error(loc, "incomplete type %s cannot be declared as a value", types.ToStr(t))
}

func (an *Analyzer) reportIncompletePtr(loc token.Loc, t *types.Type) {
	b := basicOf(t)
	if b == nil || an.incompletePtrIgnore[b] {
		return
	}
	an.incompletePtrIgnore[b] = true
	an.bag.Error(loc, "incomplete type %s cannot be dereferenced", types.ToStr(t))
}

func (an *Analyzer) reportIncompleteParam(loc token.Loc, t *types.Type) {
	b := basicOf(t)
	if b == nil || an.incompleteDeclIgnore[b] {
		return
	}
	an.incompleteDeclIgnore[b] = true
	an.bag.Error(loc, "incomplete type %s cannot be a parameter", types.ToStr(t))
}

func (an *Analyzer) reportIncompleteReturn(loc token.Loc, t *types.Type) {
	b := basicOf(t)
	if b == nil || an.incompleteDeclIgnore[b] {
		return
	}
	an.incompleteDeclIgnore[b] = true
	an.bag.Error(loc, "incomplete type %s cannot be returned", types.ToStr(t))
}

func basicOf(t *types.Type) *types.BasicSym {
	for t != nil {
		switch t.Tag {
		case types.Basic:
			return t.Basic
		case types.Ptr, types.Array:
			t = t.Base
		default:
			return nil
		}
	}
	return nil
}
