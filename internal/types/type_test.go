package types

import (
	"strings"
	"testing"

	"github.com/gmofishsauce/fcc/internal/arch"
)

var (
	intSym  = &BasicSym{Name: "int", Size: 4, Caps: Integral, Complete: true}
	charSym = &BasicSym{Name: "char", Size: 1, Caps: Integral, Complete: true}
	voidSym = &BasicSym{Name: "void", Size: 0}
)

func TestEqualityReflexive(t *testing.T) {
	samples := []*Type{
		NewBasic(intSym),
		NewPtr(NewBasic(charSym)),
		NewArray(NewBasic(intSym), 3),
		NewFunction(NewBasic(intSym), []*Type{NewBasic(intSym)}, false),
		NewInvalid(),
	}
	for _, s := range samples {
		if !IsEqual(s, s) {
			t.Errorf("IsEqual(%s, itself) = false", ToStr(s))
		}
		if !IsCompatible(s, s) {
			t.Errorf("IsCompatible(%s, itself) = false", ToStr(s))
		}
	}
}

func TestEqualityIsStructural(t *testing.T) {
	a := NewPtr(NewBasic(intSym))
	b := NewPtr(NewBasic(intSym))
	if !IsEqual(a, b) {
		t.Error("two pointers to the same basic must be equal")
	}
	if IsEqual(NewPtr(NewBasic(intSym)), NewPtr(NewBasic(charSym))) {
		t.Error("int* and char* must differ")
	}
	if IsEqual(NewArray(NewBasic(intSym), 3), NewArray(NewBasic(intSym), 4)) {
		t.Error("arrays of different size must differ under IsEqual")
	}
}

func TestCompatibilityDecaysArrays(t *testing.T) {
	arr := NewArray(NewBasic(intSym), 5)
	ptr := NewPtr(NewBasic(intSym))
	if !IsCompatible(arr, ptr) || !IsCompatible(ptr, arr) {
		t.Error("arrays must decay to pointers under IsCompatible")
	}
	unsized := NewArray(NewBasic(intSym), ArraySizeUnspecified)
	sized := NewArray(NewBasic(intSym), 7)
	if !IsCompatible(unsized, sized) {
		t.Error("an unspecified-size array matches any concrete size")
	}
	if IsCompatible(NewArray(NewBasic(intSym), 3), NewArray(NewBasic(intSym), 4)) {
		t.Error("two concrete sizes must still disagree")
	}
}

func TestInvalidSilencesEverything(t *testing.T) {
	inv := NewInvalid()
	if !inv.IsPtr() || !inv.IsArray() || !inv.IsBasic() || !inv.IsFunction() {
		t.Error("invalid must satisfy every classification predicate")
	}
	if !inv.IsNumeric() || !inv.IsOrdinal() || !inv.IsEquality() ||
		!inv.IsAssignment() || !inv.IsCondition() {
		t.Error("invalid must satisfy every capability predicate")
	}
	if !IsEqual(inv, NewBasic(intSym)) || !IsCompatible(inv, NewPtr(NewBasic(charSym))) {
		t.Error("invalid must compare equal to anything")
	}
}

func TestSize(t *testing.T) {
	a := arch.New(arch.Linux)
	tests := []struct {
		t    *Type
		want int
	}{
		{NewBasic(voidSym), 0},
		{NewBasic(intSym), 4},
		{NewBasic(charSym), 1},
		{NewPtr(NewBasic(charSym)), 8},
		{NewFunction(NewBasic(intSym), nil, false), 8},
		{NewArray(NewBasic(intSym), 6), 24},
		{NewArray(NewPtr(NewBasic(intSym)), 2), 16},
	}
	for _, tt := range tests {
		if got := Size(a, tt.t); got != tt.want {
			t.Errorf("Size(%s) = %d, want %d", ToStr(tt.t), got, tt.want)
		}
	}
}

func TestDeepDuplicateIsDeep(t *testing.T) {
	orig := NewPtr(NewArray(NewBasic(intSym), 3))
	dup := DeepDuplicate(orig)
	if !IsEqual(orig, dup) {
		t.Fatal("duplicate must be equal")
	}
	dup.Base.ArraySize = 9
	if orig.Base.ArraySize != 3 {
		t.Error("mutation of the duplicate leaked into the original")
	}
	// The basic symbol itself is shared, preserving identity.
	if dup.Base.Base.Basic != intSym {
		t.Error("basic symbols must be shared, not cloned")
	}
}

func TestToStrEmbed(t *testing.T) {
	tests := []struct {
		t    *Type
		name string
		want string
	}{
		{NewBasic(intSym), "x", "int x"},
		{NewPtr(NewBasic(intSym)), "p", "int *p"},
		{NewArray(NewBasic(intSym), 3), "a", "int a[3]"},
		{NewPtr(NewArray(NewBasic(intSym), 3)), "pa", "int (*pa)[3]"},
		{NewArray(NewPtr(NewBasic(intSym)), 3), "ap", "int *ap[3]"},
	}
	for _, tt := range tests {
		got := ToStrEmbed(tt.t, tt.name)
		if strings.Join(strings.Fields(got), " ") != tt.want {
			t.Errorf("ToStrEmbed = %q, want %q", got, tt.want)
		}
	}
}
