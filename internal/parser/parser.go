// Package parser implements the recursive-descent parser: declarations
// with the full C declarator grammar, struct/union/enum bodies, the
// classic expression precedence climb, and all statement forms. Type
// names are resolved eagerly against the symbol table while parsing so
// `T *x;` can be told apart from multiplication, and symbols are
// created at their declaration point so initializers and bodies can
// refer to the name recursively.
package parser

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gmofishsauce/fcc/internal/arch"
	"github.com/gmofishsauce/fcc/internal/ast"
	"github.com/gmofishsauce/fcc/internal/diag"
	"github.com/gmofishsauce/fcc/internal/lexer"
	"github.com/gmofishsauce/fcc/internal/symtab"
	"github.com/gmofishsauce/fcc/internal/token"
)

// Loader opens an included source file for a `using` directive. The
// default loader is os.Open; tests substitute an in-memory map.
type Loader func(path string) (io.ReadCloser, error)

// Parser holds the token cursor plus the scope the next declaration
// lands in. One Parser serves a whole compilation: `using` directives
// recursively parse the included file with saved/restored cursor state,
// so included modules share the same symbol forest and diagnostics bag.
type Parser struct {
	arch   *arch.Arch
	global *symtab.Symbol
	bag    *diag.Bag

	toks []token.Token
	pos  int

	scope   *symtab.Symbol
	baseDir string

	loader   Loader
	included map[string]*symtab.Symbol

	// Modules collects every parsed module root in
	// include-before-includer order, so later phases can walk them in
	// dependency order.
	Modules []*ast.Node
}

// New builds a Parser. Builtin types must already be registered under
// global (see RegisterBuiltins).
func New(a *arch.Arch, global *symtab.Symbol, bag *diag.Bag) *Parser {
	return &Parser{
		arch:     a,
		global:   global,
		bag:      bag,
		included: map[string]*symtab.Symbol{},
		loader: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// SetLoader replaces the file loader used for `using` directives.
func (p *Parser) SetLoader(l Loader) { p.loader = l }

// ParseFile opens path through the loader and parses it as a module.
// Returns nil if the file cannot be opened.
func (p *Parser) ParseFile(path string) *ast.Node {
	rc, err := p.loader(path)
	if err != nil {
		p.bag.Passthrough("error: cannot open " + path + ": " + err.Error())
		return nil
	}
	defer rc.Close()
	return p.Parse(rc, path)
}

// Parse lexes and parses one module from r. The module's scope is a
// fresh child of the global scope; its AST root is appended to
// p.Modules after any modules it includes.
func (p *Parser) Parse(r io.Reader, filename string) *ast.Node {
	lx := lexer.New(r, filename)
	toks := lx.All()
	for _, e := range lx.Errors() {
		p.bag.Passthrough(e)
	}

	savedToks, savedPos := p.toks, p.pos
	savedScope, savedDir := p.scope, p.baseDir
	p.toks, p.pos = toks, 0
	p.scope = symtab.CreateScope(p.global)
	p.baseDir = filepath.Dir(filename)

	module := ast.Create(ast.Module, token.Loc{File: filename, Line: 1, Col: 1})
	module.SVal = filename
	module.Symbol = p.scope
	p.parseModuleBody(module)

	p.Modules = append(p.Modules, module)
	p.toks, p.pos = savedToks, savedPos
	p.scope, p.baseDir = savedScope, savedDir
	return module
}

// --- token cursor ---

func (p *Parser) cur() token.Token {
	if p.pos >= len(p.toks) {
		if len(p.toks) == 0 {
			return token.Token{Kind: token.EOF}
		}
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos]
}

func (p *Parser) peekAt(n int) token.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) advance() token.Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *Parser) atEOF() bool { return p.cur().IsEOF() }

func (p *Parser) acceptPunct(s string) bool {
	if p.cur().IsPunct(s) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) acceptKeyword(s string) bool {
	if p.cur().IsKeyword(s) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectPunct(s string) bool {
	if p.acceptPunct(s) {
		return true
	}
	p.errorExpected("'" + s + "'")
	return false
}

// --- diagnostics ---

func (p *Parser) errorExpected(what string) {
	t := p.cur()
	got := t.Value
	if t.IsEOF() {
		got = "end of file"
	}
	p.bag.Error(t.Loc, "expected %s, found '%s'", what, got)
}

func (p *Parser) errorUndefSym(loc token.Loc, name string) {
	p.bag.Error(loc, "undefined symbol '%s'", name)
}

func (p *Parser) errorRedeclared(loc token.Loc, name string) {
	p.bag.Error(loc, "'%s' redeclared as a different kind of symbol", name)
}

func (p *Parser) errorReimplemented(loc token.Loc, name string) {
	p.bag.Error(loc, "'%s' reimplemented", name)
}

// --- module level ---

func (p *Parser) parseModuleBody(module *ast.Node) {
	for !p.atEOF() {
		switch {
		case p.cur().IsKeyword("using"):
			ast.AddChild(module, p.parseUsing())
		case p.isDeclStart():
			ast.AddChild(module, p.parseDecl())
		default:
			p.errorExpected("declaration")
			p.advance()
		}
	}
}

// parseUsing handles `using "file";`: the included file is parsed into
// its own module scope (once, deduplicated by cleaned path) and a
// module-link symbol grafts that scope into the including module.
func (p *Parser) parseUsing() *ast.Node {
	loc := p.advance().Loc // using
	node := ast.Create(ast.Using, loc)
	if p.cur().Kind != token.String {
		p.errorExpected("module file name")
		p.advance()
		return node
	}
	name := p.advance().Value
	node.SVal = name
	p.expectPunct(";")

	path := filepath.Clean(filepath.Join(p.baseDir, name))
	if modScope, ok := p.included[path]; ok {
		// Already parsed, or currently being parsed (an inclusion
		// cycle): link when the scope exists, never re-parse.
		if modScope != nil {
			node.Symbol = symtab.CreateModuleLink(p.scope, modScope)
		}
		return node
	}

	rc, err := p.loader(path)
	if err != nil {
		p.bag.Error(loc, "cannot open module '%s'", name)
		return node
	}
	defer rc.Close()

	includingScope := p.scope
	p.included[path] = nil
	mod := p.Parse(rc, path)
	p.included[path] = mod.Symbol
	node.Symbol = symtab.CreateModuleLink(includingScope, mod.Symbol)
	return node
}

// --- declarations ---

// isDeclStart reports whether the current token begins a declaration.
// This is where type names are resolved eagerly: an identifier starts a
// declaration exactly when the symbol table says it names a type.
func (p *Parser) isDeclStart() bool {
	t := p.cur()
	if t.Kind == token.Keyword {
		switch t.Value {
		case "auto", "static", "extern", "typedef", "const",
			"struct", "union", "enum", "void", "int", "char", "bool":
			return true
		}
		return false
	}
	if t.Kind == token.Ident {
		sym := symtab.Find(p.scope, t.Value)
		if sym != nil {
			switch sym.Tag {
			case symtab.TypeSym, symtab.Typedef, symtab.Struct, symtab.Union, symtab.Enum:
				return true
			}
		}
	}
	return false
}

func (p *Parser) parseStorage() symtab.Storage {
	switch {
	case p.acceptKeyword("auto"):
		return symtab.Auto
	case p.acceptKeyword("static"):
		return symtab.Static
	case p.acceptKeyword("extern"):
		return symtab.Extern
	case p.acceptKeyword("typedef"):
		return symtab.StorageTypedef
	}
	return symtab.StorageUndefined
}

// parseDecl parses `Storage DeclBasic (DeclExpr ("," DeclExpr)* ";" | Body)`.
func (p *Parser) parseDecl() *ast.Node {
	loc := p.cur().Loc
	storage := p.parseStorage()
	base := p.parseDeclBasic()

	decl := ast.Create(ast.Decl, loc)
	decl.Storage = storage
	ast.AddChild(decl, base)

	// A bare `struct X { ... };` or `enum E { ... };` declares only the tag.
	if p.acceptPunct(";") {
		return decl
	}

	first := true
	for {
		d := p.parseDeclarator(storage, false)
		if d == nil {
			p.advance()
			break
		}
		if first && p.cur().IsPunct("{") {
			ast.AddChild(decl, p.parseFunctionBody(d))
			return decl
		}
		first = false
		if p.acceptPunct("=") {
			d.R = p.parseInitializer()
		}
		ast.AddChild(decl, d)
		if !p.acceptPunct(",") {
			break
		}
	}
	p.expectPunct(";")
	return decl
}

// parseFunctionBody turns declarator d into a function definition node
// and parses the body under a scope set to the function symbol, so
// parameters and recursive references resolve.
func (p *Parser) parseFunctionBody(d *ast.Node) *ast.Node {
	fn := ast.Create(ast.Function, d.Loc)
	fn.Ident = d.Ident
	fn.Symbol = d.Symbol
	fn.L = d

	sym := d.Symbol
	if sym != nil {
		if sym.Impl != nil {
			p.errorReimplemented(d.Loc, d.Ident)
		} else {
			sym.Impl = fn
		}
	}

	saved := p.scope
	if sym != nil {
		p.scope = sym
	}
	fn.R = p.parseBlock()
	p.scope = saved
	return fn
}

// parseDeclBasic parses the declaration-specifier subtree: an optional
// const, then struct/union/enum (definition or reference) or a type
// name. The result is the base the analyzer grows declarators from.
func (p *Parser) parseDeclBasic() *ast.Node {
	isConst := p.acceptKeyword("const")
	t := p.cur()

	switch {
	case t.IsKeyword("struct"):
		return p.parseRecord(symtab.Struct, ast.StructDef, isConst)
	case t.IsKeyword("union"):
		return p.parseRecord(symtab.Union, ast.UnionDef, isConst)
	case t.IsKeyword("enum"):
		return p.parseEnum(isConst)
	}

	if t.Kind == token.Keyword {
		switch t.Value {
		case "void", "int", "char", "bool":
			p.advance()
			sym := symtab.Find(p.scope, t.Value)
			if !isConst {
				isConst = p.acceptKeyword("const")
			}
			return ast.CreateTypeSpec(t.Loc, t.Value, sym, isConst)
		}
	}

	if t.Kind == token.Ident {
		sym := symtab.Find(p.scope, t.Value)
		if sym != nil {
			switch sym.Tag {
			case symtab.TypeSym, symtab.Typedef, symtab.Struct, symtab.Union, symtab.Enum:
				p.advance()
				if !isConst {
					isConst = p.acceptKeyword("const")
				}
				return ast.CreateTypeSpec(t.Loc, t.Value, sym, isConst)
			}
		}
		p.errorUndefSym(t.Loc, t.Value)
		p.advance()
		return ast.CreateTypeSpec(t.Loc, t.Value, nil, isConst)
	}

	p.errorExpected("type name")
	return ast.CreateTypeSpec(t.Loc, "", nil, isConst)
}

// declareTag finds or creates the struct/union/enum tag symbol for a
// definition or reference. A mismatched tag kind is a redeclaration
// error; an unknown name on a reference creates an incomplete tag so
// `struct X *p;` forward-declares X.
func (p *Parser) declareTag(tag symtab.Tag, name string, loc token.Loc) *symtab.Symbol {
	if name != "" {
		if existing := symtab.Find(p.scope, name); existing != nil {
			if existing.Tag == tag {
				return existing
			}
			switch existing.Tag {
			case symtab.Struct, symtab.Union, symtab.Enum, symtab.TypeSym, symtab.Typedef:
				p.errorRedeclared(loc, name)
			}
		}
	}
	sym := symtab.CreateNamed(tag, p.scope, name)
	sym.Loc = loc
	return sym
}

// parseRecord parses `struct|union tag? ("{" member-decls "}")?`.
func (p *Parser) parseRecord(tag symtab.Tag, class ast.Class, isConst bool) *ast.Node {
	kw := p.advance() // struct | union
	name := ""
	loc := kw.Loc
	if p.cur().Kind == token.Ident {
		t := p.advance()
		name, loc = t.Value, t.Loc
	}

	if !p.cur().IsPunct("{") {
		// Reference only: struct X. Anonymous reference is an error.
		if name == "" {
			p.errorExpected("identifier or '{'")
			return ast.CreateTypeSpec(loc, "", nil, isConst)
		}
		sym := p.declareTag(tag, name, loc)
		return ast.CreateTypeSpec(loc, name, sym, isConst)
	}

	sym := p.declareTag(tag, name, loc)
	def := ast.Create(class, loc)
	def.Ident = name
	def.Symbol = sym
	def.IsConst = isConst

	p.advance() // {
	saved := p.scope
	p.scope = sym
	for !p.cur().IsPunct("}") && !p.atEOF() {
		if !p.isDeclStart() {
			p.errorExpected("member declaration")
			p.advance()
			continue
		}
		ast.AddChild(def, p.parseDecl())
	}
	p.scope = saved
	p.expectPunct("}")
	sym.Decls = append(sym.Decls, def)
	return def
}

// parseEnum parses `enum tag? ("{" constant ("," constant)* "}")?`.
// Enum constants become EnumConstant symbols under the enum symbol, and
// Child's descend-into-enums rule makes them visible in the enclosing
// scope.
func (p *Parser) parseEnum(isConst bool) *ast.Node {
	kw := p.advance() // enum
	name := ""
	loc := kw.Loc
	if p.cur().Kind == token.Ident {
		t := p.advance()
		name, loc = t.Value, t.Loc
	}

	if !p.cur().IsPunct("{") {
		if name == "" {
			p.errorExpected("identifier or '{'")
			return ast.CreateTypeSpec(loc, "", nil, isConst)
		}
		sym := p.declareTag(symtab.Enum, name, loc)
		return ast.CreateTypeSpec(loc, name, sym, isConst)
	}

	sym := p.declareTag(symtab.Enum, name, loc)
	def := ast.Create(ast.EnumDef, loc)
	def.Ident = name
	def.Symbol = sym
	def.IsConst = isConst

	p.advance() // {
	for !p.cur().IsPunct("}") && !p.atEOF() {
		if p.cur().Kind != token.Ident {
			p.errorExpected("enum constant")
			p.advance()
			continue
		}
		t := p.advance()
		c := ast.Create(ast.EnumConst, t.Loc)
		c.Ident = t.Value
		csym := symtab.CreateNamed(symtab.EnumConstant, sym, t.Value)
		csym.Loc = t.Loc
		csym.Decls = append(csym.Decls, c)
		c.Symbol = csym
		if p.acceptPunct("=") {
			c.R = p.parseTernary()
		}
		ast.AddChild(def, c)
		if !p.acceptPunct(",") {
			break
		}
	}
	p.expectPunct("}")
	sym.Decls = append(sym.Decls, def)
	return def
}

// declCursor carries the one declared name of a declarator tree from
// the atom where it appears back up to parseDeclarator.
type declCursor struct {
	name     string
	loc      token.Loc
	sym      *symtab.Symbol
	abstract bool
	storage  symtab.Storage
	param    bool
}

// parseDeclarator parses one declarator (the DeclExpr production) and
// declares its name in the current scope. The returned Declarator node
// has L = the declarator tree (nil-leafed at the name position) and
// Symbol = the declared symbol; the caller attaches any initializer to R.
func (p *Parser) parseDeclarator(storage symtab.Storage, param bool) *ast.Node {
	loc := p.cur().Loc
	cur := &declCursor{storage: storage, param: param, loc: loc}
	tree := p.parseDeclUnary(cur)

	if cur.name == "" && !param {
		p.errorExpected("identifier")
		return nil
	}

	d := ast.Create(ast.Declarator, cur.loc)
	d.Ident = cur.name
	d.Symbol = cur.sym
	d.Storage = storage
	d.L = tree
	if cur.sym != nil {
		cur.sym.Decls = append(cur.sym.Decls, d)
	}
	return d
}

// parseAbstractType parses a type name with an abstract declarator
// (pointer wraps only), as used by casts, sizeof, and va_arg. The
// result is a Declarator node with no name: Children[0] is the base
// specifier and L the (possibly nil) pointer-wrap tree, the same shape
// the analyzer already grows named declarators from.
func (p *Parser) parseAbstractType() *ast.Node {
	loc := p.cur().Loc
	base := p.parseDeclBasic()
	var tree *ast.Node
	for p.cur().IsPunct("*") {
		ploc := p.advance().Loc
		isConst := p.acceptKeyword("const")
		tree = ast.CreateDeclPtr(ploc, tree, isConst)
	}
	d := ast.Create(ast.Declarator, loc)
	ast.AddChild(d, base)
	d.L = tree
	return d
}

// parseDeclUnary handles pointer prefixes: `*` const? DeclUnary.
func (p *Parser) parseDeclUnary(cur *declCursor) *ast.Node {
	if p.cur().IsPunct("*") {
		loc := p.advance().Loc
		isConst := p.acceptKeyword("const")
		inner := p.parseDeclUnary(cur)
		return ast.CreateDeclPtr(loc, inner, isConst)
	}
	return p.parseDeclObject(cur)
}

// parseDeclObject handles the postfix layer: atom followed by `[size]`
// and `(params)` wraps, applied innermost-first by the analyzer.
func (p *Parser) parseDeclObject(cur *declCursor) *ast.Node {
	node := p.parseDeclAtom(cur)
	for {
		switch {
		case p.cur().IsPunct("["):
			loc := p.advance().Loc
			var size *ast.Node
			if !p.cur().IsPunct("]") {
				size = p.parseTernary()
			}
			p.expectPunct("]")
			node = ast.CreateDeclArray(loc, node, size)
		case p.cur().IsPunct("("):
			node = p.parseDeclFunc(cur, node)
		default:
			return node
		}
	}
}

// parseDeclAtom is the bottom of the declarator grammar: the declared
// identifier (declared into the current scope immediately, so the
// parameter list and initializer that follow can see it), or a
// parenthesized sub-declarator.
func (p *Parser) parseDeclAtom(cur *declCursor) *ast.Node {
	t := p.cur()
	if t.IsPunct("(") {
		// Distinguish `(*fp)` from an empty parameter list `()` on an
		// abstract parameter declarator.
		inner := p.peekAt(1)
		if inner.IsPunct("*") || inner.Kind == token.Ident && !p.identIsType(inner.Value) {
			p.advance()
			node := p.parseDeclUnary(cur)
			p.expectPunct(")")
			return node
		}
		return nil
	}
	if t.Kind == token.Ident {
		p.advance()
		cur.name = t.Value
		cur.loc = t.Loc
		cur.sym = p.declareName(t.Value, t.Loc, cur.storage, cur.param)
		return nil
	}
	// Abstract declarator (unnamed parameter): the leaf is just absent.
	cur.abstract = true
	return nil
}

func (p *Parser) identIsType(name string) bool {
	sym := symtab.Find(p.scope, name)
	if sym == nil {
		return false
	}
	switch sym.Tag {
	case symtab.TypeSym, symtab.Typedef, symtab.Struct, symtab.Union, symtab.Enum:
		return true
	}
	return false
}

// declareName creates (or finds, for a legal redeclaration) the symbol
// for a declared identifier. Same-scope duplicates are tolerated here
// and type-checked by the analyzer; a function implemented in a scope
// other than its first declaration's moves there, leaving a link.
func (p *Parser) declareName(name string, loc token.Loc, storage symtab.Storage, param bool) *symtab.Symbol {
	tag := symtab.Id
	if param {
		tag = symtab.Param
	}
	if storage == symtab.StorageTypedef {
		tag = symtab.Typedef
	}

	if existing := symtab.Child(p.scope, name); existing != nil {
		switch {
		case existing.Tag == tag:
			return existing
		case tag == symtab.Typedef &&
			(existing.Tag == symtab.Struct || existing.Tag == symtab.Union || existing.Tag == symtab.Enum):
			// `typedef struct X { ... } X;` — the tag and the typedef
			// legally share the identifier.
		default:
			p.errorRedeclared(loc, name)
		}
	} else if !param && tag == symtab.Id {
		// Visible in an included module's scope? An implementation here
		// moves the symbol into this scope and leaves a link behind.
		if found := symtab.Find(p.scope, name); found != nil && found.Tag == symtab.Id &&
			found.Parent != nil && found.Parent != p.scope && found.Parent.Parent == p.global {
			if p.scope.Parent == p.global {
				symtab.ChangeParent(found, p.scope)
				return found
			}
		}
	}

	sym := symtab.CreateNamed(tag, p.scope, name)
	sym.Storage = storage
	sym.Loc = loc
	return sym
}

// parseDeclFunc parses a parameter list. Parameters are declared under
// the function symbol when one exists (so the body scope sees them), or
// under an anonymous scope for nested abstract declarators.
func (p *Parser) parseDeclFunc(cur *declCursor, inner *ast.Node) *ast.Node {
	loc := p.advance().Loc // (

	paramScope := cur.sym
	if paramScope == nil || cur.sym.Tag == symtab.Typedef {
		paramScope = symtab.CreateScope(p.scope)
	} else {
		// Redeclaration: drop the previous declaration's parameter
		// symbols so body lookups see this declaration's names.
		trimmed := paramScope.Children[:0]
		for _, c := range paramScope.Children {
			if c.Tag != symtab.Param {
				trimmed = append(trimmed, c)
			}
		}
		paramScope.Children = trimmed
		for i, c := range paramScope.Children {
			c.NthInParent = i
		}
	}

	var params []*ast.Node
	variadic := false
	saved := p.scope
	p.scope = paramScope

	if !p.cur().IsPunct(")") {
		for {
			if p.cur().IsPunct("...") {
				p.advance()
				variadic = true
				break
			}
			if p.cur().IsKeyword("void") && p.peekAt(1).IsPunct(")") {
				p.advance()
				break
			}
			param := p.parseParam()
			if param == nil {
				break
			}
			params = append(params, param)
			if !p.acceptPunct(",") {
				break
			}
		}
	}
	p.scope = saved
	p.expectPunct(")")
	return ast.CreateDeclFunc(loc, inner, params, variadic)
}

func (p *Parser) parseParam() *ast.Node {
	if !p.isDeclStart() {
		p.errorExpected("parameter declaration")
		return nil
	}
	loc := p.cur().Loc
	base := p.parseDeclBasic()
	d := p.parseDeclarator(symtab.StorageUndefined, true)
	if d == nil {
		d = ast.Create(ast.Declarator, loc)
	}
	node := ast.Create(ast.Param, loc)
	node.Ident = d.Ident
	node.Symbol = d.Symbol
	ast.AddChild(node, base)
	ast.AddChild(node, d)
	return node
}

// parseInitializer parses a simple expression or a (possibly nested)
// compound `{ ... }` initializer list.
func (p *Parser) parseInitializer() *ast.Node {
	if p.cur().IsPunct("{") {
		loc := p.advance().Loc
		list := ast.Create(ast.InitList, loc)
		for !p.cur().IsPunct("}") && !p.atEOF() {
			ast.AddChild(list, p.parseInitializer())
			if !p.acceptPunct(",") {
				break
			}
		}
		p.expectPunct("}")
		return list
	}
	return p.parseAssign()
}

// --- statements ---

func (p *Parser) parseBlock() *ast.Node {
	loc := p.cur().Loc
	block := ast.Create(ast.Block, loc)
	if !p.expectPunct("{") {
		return block
	}
	saved := p.scope
	p.scope = symtab.CreateScope(p.scope)
	block.Symbol = p.scope
	for !p.cur().IsPunct("}") && !p.atEOF() {
		ast.AddChild(block, p.parseStatement())
	}
	p.scope = saved
	p.expectPunct("}")
	return block
}

func (p *Parser) parseStatement() *ast.Node {
	t := p.cur()
	switch {
	case t.IsPunct("{"):
		return p.parseBlock()
	case t.IsPunct(";"):
		p.advance()
		return ast.Create(ast.Empty, t.Loc)
	case t.IsKeyword("if"):
		return p.parseIf()
	case t.IsKeyword("while"):
		return p.parseWhile()
	case t.IsKeyword("do"):
		return p.parseDoWhile()
	case t.IsKeyword("for"):
		return p.parseFor()
	case t.IsKeyword("return"):
		p.advance()
		node := ast.Create(ast.Return, t.Loc)
		if !p.cur().IsPunct(";") {
			node.R = p.parseExpr()
		}
		p.expectPunct(";")
		return node
	case t.IsKeyword("break"):
		p.advance()
		p.expectPunct(";")
		return ast.Create(ast.Break, t.Loc)
	case t.IsKeyword("continue"):
		p.advance()
		p.expectPunct(";")
		return ast.Create(ast.Continue, t.Loc)
	case p.isDeclStart():
		return p.parseDecl()
	}
	node := ast.Create(ast.ExprStmt, t.Loc)
	node.L = p.parseExpr()
	p.expectPunct(";")
	return node
}

func (p *Parser) parseIf() *ast.Node {
	loc := p.advance().Loc // if
	node := ast.Create(ast.If, loc)
	p.expectPunct("(")
	node.FirstChild = p.parseExpr()
	p.expectPunct(")")
	node.L = p.parseStatement()
	if p.acceptKeyword("else") {
		node.R = p.parseStatement()
	}
	return node
}

func (p *Parser) parseWhile() *ast.Node {
	loc := p.advance().Loc // while
	node := ast.Create(ast.While, loc)
	p.expectPunct("(")
	node.L = p.parseExpr()
	p.expectPunct(")")
	node.R = p.parseStatement()
	return node
}

func (p *Parser) parseDoWhile() *ast.Node {
	loc := p.advance().Loc // do
	node := ast.Create(ast.DoWhile, loc)
	node.R = p.parseStatement()
	if !p.acceptKeyword("while") {
		p.errorExpected("'while'")
		return node
	}
	p.expectPunct("(")
	node.L = p.parseExpr()
	p.expectPunct(")")
	p.expectPunct(";")
	return node
}

// parseFor parses `for (init; cond; post) body`; each clause may be
// empty, and the init clause may be a declaration scoped to the loop.
func (p *Parser) parseFor() *ast.Node {
	loc := p.advance().Loc // for
	node := ast.Create(ast.For, loc)
	p.expectPunct("(")

	saved := p.scope
	p.scope = symtab.CreateScope(p.scope)
	node.Symbol = p.scope

	if p.cur().IsPunct(";") {
		p.advance()
		ast.AddChild(node, ast.Create(ast.Empty, loc))
	} else if p.isDeclStart() {
		ast.AddChild(node, p.parseDecl())
	} else {
		init := ast.Create(ast.ExprStmt, p.cur().Loc)
		init.L = p.parseExpr()
		p.expectPunct(";")
		ast.AddChild(node, init)
	}

	if p.cur().IsPunct(";") {
		ast.AddChild(node, ast.Create(ast.Empty, loc))
	} else {
		ast.AddChild(node, p.parseExpr())
	}
	p.expectPunct(";")

	if p.cur().IsPunct(")") {
		ast.AddChild(node, ast.Create(ast.Empty, loc))
	} else {
		ast.AddChild(node, p.parseExpr())
	}
	p.expectPunct(")")

	ast.AddChild(node, p.parseStatement())
	p.scope = saved
	return node
}

// --- expressions ---

func (p *Parser) parseExpr() *ast.Node { return p.parseAssign() }

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

func (p *Parser) parseAssign() *ast.Node {
	l := p.parseTernary()
	t := p.cur()
	if t.Kind == token.Punct && assignOps[t.Value] {
		p.advance()
		r := p.parseAssign()
		return ast.CreateBOP(t.Loc, l, t.Value, r)
	}
	return l
}

func (p *Parser) parseTernary() *ast.Node {
	cond := p.parseBinary(0)
	if p.cur().IsPunct("?") {
		loc := p.advance().Loc
		l := p.parseAssign()
		p.expectPunct(":")
		r := p.parseTernary()
		return ast.CreateTOP(loc, cond, l, r)
	}
	return cond
}

// binaryLevels is the precedence ladder, loosest first: logical-or down
// through multiplicative.
var binaryLevels = [][]string{
	{"||"},
	{"&&"},
	{"|"},
	{"^"},
	{"&"},
	{"==", "!="},
	{"<", "<=", ">", ">="},
	{"<<", ">>"},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *Parser) parseBinary(level int) *ast.Node {
	if level >= len(binaryLevels) {
		return p.parseUnary()
	}
	l := p.parseBinary(level + 1)
	for {
		t := p.cur()
		if t.Kind != token.Punct || !contains(binaryLevels[level], t.Value) {
			return l
		}
		p.advance()
		r := p.parseBinary(level + 1)
		l = ast.CreateBOP(t.Loc, l, t.Value, r)
	}
}

func contains(ops []string, op string) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// startsTypeName reports whether the token after an open paren begins a
// type name, which disambiguates a cast from a parenthesized expression.
func (p *Parser) startsTypeName(t token.Token) bool {
	if t.Kind == token.Keyword {
		switch t.Value {
		case "const", "struct", "union", "enum", "void", "int", "char", "bool":
			return true
		}
		return false
	}
	return t.Kind == token.Ident && p.identIsType(t.Value)
}

func (p *Parser) parseUnary() *ast.Node {
	t := p.cur()
	switch {
	case t.IsPunct("(") && p.startsTypeName(p.peekAt(1)):
		p.advance()
		typ := p.parseAbstractType()
		p.expectPunct(")")
		if p.cur().IsPunct("{") {
			return p.parseCompoundLit(t.Loc, typ)
		}
		node := ast.Create(ast.Cast, t.Loc)
		node.L = typ
		node.R = p.parseUnary()
		return node
	case t.IsPunct("-") || t.IsPunct("+") || t.IsPunct("!") || t.IsPunct("~") ||
		t.IsPunct("*") || t.IsPunct("&"):
		p.advance()
		return ast.CreateUOP(t.Loc, t.Value, p.parseUnary())
	case t.IsPunct("++") || t.IsPunct("--"):
		p.advance()
		return ast.CreateUOP(t.Loc, t.Value, p.parseUnary())
	case t.IsKeyword("sizeof"):
		return p.parseSizeof()
	}
	return p.parsePostfix()
}

// parseCompoundLit parses `(type){ ... }`: an unnamed object of the
// named type built from an initializer list. An anonymous symbol in
// the current scope backs its storage.
func (p *Parser) parseCompoundLit(loc token.Loc, typ *ast.Node) *ast.Node {
	node := ast.Create(ast.CompoundLit, loc)
	node.L = typ
	node.R = p.parseInitializer()
	sym := symtab.CreateNamed(symtab.Id, p.scope, "")
	sym.Storage = symtab.Auto
	sym.Loc = loc
	node.Symbol = sym
	return node
}

func (p *Parser) parseSizeof() *ast.Node {
	loc := p.advance().Loc // sizeof
	node := ast.Create(ast.Sizeof, loc)
	if p.cur().IsPunct("(") && p.startsTypeName(p.peekAt(1)) {
		p.advance()
		node.L = p.parseAbstractType()
		p.expectPunct(")")
		return node
	}
	node.R = p.parseUnary()
	return node
}

func (p *Parser) parsePostfix() *ast.Node {
	node := p.parsePrimary()
	for {
		t := p.cur()
		switch {
		case t.IsPunct("["):
			p.advance()
			index := p.parseExpr()
			p.expectPunct("]")
			node = ast.CreateIndex(t.Loc, node, index)
		case t.IsPunct("("):
			p.advance()
			call := ast.CreateCall(t.Loc, node)
			if !p.cur().IsPunct(")") {
				for {
					ast.AddChild(call, p.parseAssign())
					if !p.acceptPunct(",") {
						break
					}
				}
			}
			p.expectPunct(")")
			node = call
		case t.IsPunct("."):
			p.advance()
			node = p.parseMember(ast.Member, t.Loc, node)
		case t.IsPunct("->"):
			p.advance()
			node = p.parseMember(ast.PtrMember, t.Loc, node)
		case t.IsPunct("++") || t.IsPunct("--"):
			p.advance()
			post := ast.Create(ast.PostOP, t.Loc)
			post.Op = t.Value
			post.L = node
			node = post
		default:
			return node
		}
	}
}

func (p *Parser) parseMember(class ast.Class, loc token.Loc, base *ast.Node) *ast.Node {
	node := ast.Create(class, loc)
	node.L = base
	if p.cur().Kind != token.Ident {
		p.errorExpected("field name")
		return node
	}
	node.Ident = p.advance().Value
	return node
}

func (p *Parser) parsePrimary() *ast.Node {
	t := p.cur()
	switch {
	case t.IsPunct("("):
		p.advance()
		node := p.parseExpr()
		p.expectPunct(")")
		return node
	case t.IsPunct("{"):
		// An initializer list in value position; the analyzer rejects
		// it unless a compound-literal type names it.
		return p.parseInitializer()
	case t.Kind == token.Int:
		p.advance()
		node := ast.CreateLiteral(t.Loc, ast.LitInt)
		node.IVal = t.IVal
		return node
	case t.Kind == token.Char:
		p.advance()
		node := ast.CreateLiteral(t.Loc, ast.LitChar)
		node.IVal = t.IVal
		return node
	case t.Kind == token.String:
		p.advance()
		node := ast.CreateLiteral(t.Loc, ast.LitString)
		node.SVal = t.Value
		return node
	case t.IsKeyword("true") || t.IsKeyword("false"):
		p.advance()
		node := ast.CreateLiteral(t.Loc, ast.LitBool)
		if t.Value == "true" {
			node.IVal = 1
		}
		return node
	case t.IsKeyword("va_start"):
		return p.parseVaOp(ast.VaStart, 2)
	case t.IsKeyword("va_end"):
		return p.parseVaOp(ast.VaEnd, 1)
	case t.IsKeyword("va_copy"):
		return p.parseVaOp(ast.VaCopy, 2)
	case t.IsKeyword("va_arg"):
		return p.parseVaArg()
	case t.Kind == token.Ident:
		p.advance()
		node := ast.CreateLiteral(t.Loc, ast.LitIdent)
		node.Ident = t.Value
		sym := symtab.Find(p.scope, t.Value)
		if sym == nil {
			p.errorUndefSym(t.Loc, t.Value)
		}
		node.Symbol = sym
		return node
	}
	p.errorExpected("expression")
	p.advance()
	return ast.Create(ast.Empty, t.Loc)
}

// parseVaOp parses va_start/va_end/va_copy: plain expression arguments.
func (p *Parser) parseVaOp(class ast.Class, arity int) *ast.Node {
	loc := p.advance().Loc
	node := ast.Create(class, loc)
	p.expectPunct("(")
	node.L = p.parseAssign()
	if arity == 2 {
		p.expectPunct(",")
		node.R = p.parseAssign()
	}
	p.expectPunct(")")
	return node
}

// parseVaArg parses va_arg(ap, type): the second argument is a type name.
func (p *Parser) parseVaArg() *ast.Node {
	loc := p.advance().Loc
	node := ast.Create(ast.VaArg, loc)
	p.expectPunct("(")
	node.L = p.parseAssign()
	p.expectPunct(",")
	node.R = p.parseAbstractType()
	p.expectPunct(")")
	return node
}
