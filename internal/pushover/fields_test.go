package pushover

import (
	"net/url"
	"strings"
	"testing"
)

func resolverFrom(values map[string]string) func(string) string {
	return func(field string) string { return values[field] }
}

func TestBuildParamsRequiredFields(t *testing.T) {
	t.Parallel()
	base := map[string]string{
		FieldToken:   "T",
		FieldUser:    "U",
		FieldMessage: "hi",
	}

	for _, missing := range []string{FieldToken, FieldUser, FieldMessage} {
		missing := missing
		t.Run("missing "+missing, func(t *testing.T) {
			values := map[string]string{}
			for k, v := range base {
				values[k] = v
			}
			values[missing] = "  "
			if _, ok := BuildParams(resolverFrom(values)); ok {
				t.Fatalf("expected skip when %s is blank", missing)
			}
		})
	}
}

func TestBuildParamsMinimal(t *testing.T) {
	t.Parallel()
	params, ok := BuildParams(resolverFrom(map[string]string{
		FieldToken:   "T",
		FieldUser:    "U",
		FieldMessage: "hi",
	}))
	if !ok {
		t.Fatal("expected params, got skip")
	}
	want := url.Values{FieldToken: {"T"}, FieldUser: {"U"}, FieldMessage: {"hi"}}
	if len(params) != len(want) {
		t.Fatalf("unexpected keys: %v", params)
	}
	for k, vs := range want {
		if params.Get(k) != vs[0] {
			t.Fatalf("%s = %q, want %q", k, params.Get(k), vs[0])
		}
	}
}

func TestBuildParamsTruncation(t *testing.T) {
	t.Parallel()
	longURL := strings.Repeat("u", 600)
	longTitle := strings.Repeat("t", 150)

	params, ok := BuildParams(resolverFrom(map[string]string{
		FieldToken:    "T",
		FieldUser:     "U",
		FieldMessage:  "hi",
		FieldURL:      longURL,
		FieldURLTitle: longTitle,
	}))
	if !ok {
		t.Fatal("unexpected skip")
	}
	if got := params.Get(FieldURL); got != longURL[:512] {
		t.Fatalf("url length = %d, want 512 exact prefix", len(got))
	}
	if got := params.Get(FieldURLTitle); got != longTitle[:100] {
		t.Fatalf("url_title length = %d, want 100 exact prefix", len(got))
	}
}

func TestBuildParamsHTMLCoercion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		html    string
		want    string
		omitted bool
	}{
		{name: "true", html: "true", want: "1"},
		{name: "one", html: "1", want: "1"},
		{name: "false", html: "false", want: "0"},
		{name: "zero", html: "0", want: "0"},
		{name: "garbage", html: "yes please", want: "0"},
		{name: "blank", html: "  ", omitted: true},
		{name: "empty", html: "", omitted: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			params, ok := BuildParams(resolverFrom(map[string]string{
				FieldToken:   "T",
				FieldUser:    "U",
				FieldMessage: "hi",
				FieldHTML:    tt.html,
			}))
			if !ok {
				t.Fatal("unexpected skip")
			}
			_, present := params[FieldHTML]
			if tt.omitted {
				if present {
					t.Fatalf("html should be omitted, got %q", params.Get(FieldHTML))
				}
				return
			}
			if params.Get(FieldHTML) != tt.want {
				t.Fatalf("html = %q, want %q", params.Get(FieldHTML), tt.want)
			}
		})
	}
}

func TestBuildParamsIdempotent(t *testing.T) {
	t.Parallel()
	values := map[string]string{
		FieldToken:    "T",
		FieldUser:     "U",
		FieldMessage:  "msg",
		FieldTitle:    "title",
		FieldURL:      strings.Repeat("x", 700),
		FieldPriority: "2",
		FieldHTML:     "true",
	}
	a, okA := BuildParams(resolverFrom(values))
	b, okB := BuildParams(resolverFrom(values))
	if !okA || !okB {
		t.Fatal("unexpected skip")
	}
	if a.Encode() != b.Encode() {
		t.Fatalf("parameter sets differ:%s%s", a.Encode(), b.Encode())
	}
}

func TestRedactedSummary(t *testing.T) {
	t.Parallel()
	params := url.Values{
		FieldToken:   {"supersecret"},
		FieldUser:    {"U"},
		FieldMessage: {"50% off"},
	}
	s := RedactedSummary(params)
	if strings.Contains(s, "supersecret") {
		t.Fatalf("token leaked into summary: %s", s)
	}
	if !strings.Contains(s, url.QueryEscape("[redacted]")) {
		t.Fatalf("expected redaction marker in summary: %s", s)
	}
	// The summary must keep the original (unsanitized) message.
	if !strings.Contains(s, url.QueryEscape("50% off")) {
		t.Fatalf("expected original message in summary: %s", s)
	}
}
