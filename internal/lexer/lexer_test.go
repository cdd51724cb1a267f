package lexer

import (
	"strings"
	"testing"

	"github.com/gmofishsauce/fcc/internal/token"
)

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestBasicTokens(t *testing.T) {
	src := `int x = 42; // trailing comment
/* block
   comment */
char c = 'a';
string s = "hi\n";
`
	l := New(strings.NewReader(src), "t.c")
	toks := l.All()
	if len(l.Errors()) != 0 {
		t.Fatalf("unexpected errors: %v", l.Errors())
	}
	if toks[len(toks)-1].Kind != token.EOF {
		t.Fatalf("stream must end with EOF, got %v", toks[len(toks)-1])
	}

	want := []string{"int", "x", "=", "42", ";", "char", "c", "=", "a", ";"}
	got := []string{}
	for _, tk := range toks[:10] {
		if tk.Kind == token.Char {
			got = append(got, string(rune(tk.IVal)))
		} else {
			got = append(got, tk.Value)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeywordVsIdent(t *testing.T) {
	l := New(strings.NewReader("struct foo int"), "t.c")
	toks := l.All()
	if toks[0].Kind != token.Keyword || toks[0].Value != "struct" {
		t.Fatalf("expected keyword struct, got %v", toks[0])
	}
	if toks[1].Kind != token.Ident || toks[1].Value != "foo" {
		t.Fatalf("expected ident foo, got %v", toks[1])
	}
	if toks[2].Kind != token.Keyword || toks[2].Value != "int" {
		t.Fatalf("expected keyword int, got %v", toks[2])
	}
}

func TestCompoundOperatorsLongestMatch(t *testing.T) {
	l := New(strings.NewReader("a <<= b >> c <= d"), "t.c")
	toks := l.All()
	got := []string{}
	for _, tk := range toks {
		if tk.Kind == token.Punct {
			got = append(got, tk.Value)
		}
	}
	want := []string{"<<=", ">>", "<="}
	if len(got) != len(want) {
		t.Fatalf("got ops %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(strings.NewReader(`"never closed`), "t.c")
	l.All()
	if len(l.Errors()) == 0 {
		t.Fatal("expected an unterminated-string error")
	}
	if !strings.Contains(l.Errors()[0], "unterminated") {
		t.Errorf("error = %q, want it to mention unterminated", l.Errors()[0])
	}
}

func TestHashLineIsComment(t *testing.T) {
	l := New(strings.NewReader("#define X 1\nint y;"), "t.c")
	toks := l.All()
	if toks[0].Kind != token.Keyword || toks[0].Value != "int" {
		t.Fatalf("expected '#...' line skipped, first token int, got %v", toks[0])
	}
}

func TestLocationTracking(t *testing.T) {
	l := New(strings.NewReader("int\nx;"), "f.c")
	toks := l.All()
	if toks[1].Loc.Line != 2 || toks[1].Loc.Col != 1 {
		t.Errorf("x at %v, want line 2 col 1", toks[1].Loc)
	}
}

func TestNeverAdvancesPastEOF(t *testing.T) {
	l := New(strings.NewReader(""), "t.c")
	first := l.Next()
	second := l.Next()
	if first.Kind != token.EOF || second.Kind != token.EOF {
		t.Fatalf("expected repeated EOF, got %v then %v", first, second)
	}
}
