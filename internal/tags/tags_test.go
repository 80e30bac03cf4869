package tags

import "testing"

func TestStrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text unchanged", "hello world", "hello world"},
		{"color tag with options", "[c/FF0000:HELLO]", "HELLO"},
		{"color tag without options", "[c:red text]", "red text"},
		{"achievement tag", "[a:BOSS_DOWN]", "BOSS_DOWN"},
		{"tag in sentence", "I got [a:BOSS_DOWN] today", "I got BOSS_DOWN today"},
		{"two tags", "[c:one] and [c:two]", "one and two"},
		{"nested tags", "[c:[a:inner]]", "inner"},
		{"deeply nested", "[c:[c:[c:x]]]", "x"},
		{"escaped opening bracket", `\[c:x]`, `\[c:x]`},
		{"escaped closing bracket extends payload", `[c:a\]b]`, `a\]b`},
		{"unterminated tag left alone", "[c:never closed", "[c:never closed"},
		{"missing payload left alone", "[c:]", "[c:]"},
		{"missing colon left alone", "[c FF0000 HELLO]", "[c FF0000 HELLO]"},
		{"unknown kind letter left alone", "[x:text]", "[x:text]"},
		{"empty options left alone", "[c/:text]", "[c/:text]"},
		{"kind too long left alone", "[aaaaaaaaaaa:text]", "[aaaaaaaaaaa:text]"},
		{"kind at max length", "[aaaaaaaaaa:text]", "text"},
		{"options may contain brackets", "[c/[0]:payload]", "payload"},
		{"multibyte payload", "[c:héllo wörld]", "héllo wörld"},
		{"empty string", "", ""},
		{"bare brackets", "[]", "[]"},
		{"later tag after broken opener", "[c:x [a:y]", "x [a:y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Strip(tt.input); got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Strip must be idempotent: re-stripping already-stripped text is a no-op.
func TestStrip_Idempotent(t *testing.T) {
	inputs := []string{
		"hello world",
		"[c/FF0000:HELLO]",
		"[c:[a:inner]] trailing",
		`\[c:x] and [c:y]`,
		"[c:never closed",
		"",
	}

	for _, in := range inputs {
		once := Strip(in)
		twice := Strip(once)
		if once != twice {
			t.Errorf("Strip not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func BenchmarkStrip(b *testing.B) {
	msg := "look at my [c/FF0000:red] item and [a:ACHIEVEMENT] from [c:[c:nested]] tags"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Strip(msg)
	}
}
