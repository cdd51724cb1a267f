package symtab

import "testing"

func TestFindWalksParents(t *testing.T) {
	global := Init()
	CreateType(global, "int", 4, 0)

	fn := CreateNamed(Id, global, "f")
	fnScope := CreateScope(fn)
	x := CreateNamed(Id, fnScope, "x")

	if Find(fnScope, "x") != x {
		t.Fatal("expected to find x in its own scope")
	}
	if Find(fnScope, "int") == nil {
		t.Fatal("expected to find int by walking up to global")
	}
	if Find(fnScope, "nope") != nil {
		t.Fatal("expected lookup miss for undeclared name")
	}
}

func TestChangeParentLeavesLink(t *testing.T) {
	global := Init()
	fwd := CreateNamed(Id, global, "f")
	implScope := CreateScope(global)

	ChangeParent(fwd, implScope)

	if global.Children[0].Tag != Link {
		t.Fatalf("expected Link left in old slot, got tag %v", global.Children[0].Tag)
	}
	if global.Children[0].Target != fwd {
		t.Fatal("link must target the moved symbol")
	}
	if Find(global, "f") != fwd {
		t.Fatal("find through a link must resolve to the moved symbol")
	}
	if fwd.Parent != implScope {
		t.Fatal("moved symbol's parent must be the new scope")
	}
}

func TestEnumConstantsVisibleInEnclosingScope(t *testing.T) {
	global := Init()
	e := CreateNamed(Enum, global, "Color")
	red := CreateNamed(EnumConstant, e, "Red")

	if Child(global, "Red") != red {
		t.Fatal("enum constants must be found as direct children of the enclosing scope")
	}
}

func TestAnonymousUnionFieldsVisibleInContainingStruct(t *testing.T) {
	global := Init()
	s := CreateNamed(Struct, global, "S")
	u := CreateNamed(Union, s, "") // anonymous
	field := CreateNamed(Id, u, "value")

	if Child(s, "value") != field {
		t.Fatal("anonymous union fields must be found as children of the containing struct")
	}
}

func TestModuleLinkGraftsScope(t *testing.T) {
	includedGlobal := Init()
	helper := CreateNamed(Id, includedGlobal, "helper")

	mainGlobal := Init()
	CreateModuleLink(mainGlobal, includedGlobal)

	if Child(mainGlobal, "helper") != helper {
		t.Fatal("module link must graft the included scope's symbols into the including scope")
	}
}

func TestEachSymbolInExactlyOneScope(t *testing.T) {
	global := Init()
	x := CreateNamed(Id, global, "x")
	if len(global.Children) != 1 || global.Children[0] != x {
		t.Fatal("symbol must appear in exactly one scope's children")
	}
}
