package pushover

import (
	"net/url"
	"strings"
)

// Field names understood by the messages API.
const (
	FieldToken    = "token"
	FieldUser     = "user"
	FieldMessage  = "message"
	FieldDevice   = "device"
	FieldTitle    = "title"
	FieldURL      = "url"
	FieldURLTitle = "url_title"
	FieldPriority = "priority"
	FieldTime     = "timestamp"
	FieldSound    = "sound"
	FieldRetry    = "retry"
	FieldExpire   = "expire"
	FieldHTML     = "html"

	// FieldImageURL is rendered like the others but never transmitted;
	// it drives attachment fetching instead.
	FieldImageURL = "image_url"
)

// FieldSpec is one named, rule-governed slot in the notification payload.
type FieldSpec struct {
	Name     string
	Required bool
	// MaxLen truncates the rendered value to this many bytes. 0 = unlimited.
	// The cut is raw (may split a multi-byte rune); the API tolerates it and
	// the upstream behavior is preserved deliberately.
	MaxLen int
	// Boolean coerces the rendered value to "1"/"0".
	Boolean bool
}

// Fields is the fixed set of transport parameters, in API documentation order.
var Fields = []FieldSpec{
	{Name: FieldToken, Required: true},
	{Name: FieldUser, Required: true},
	{Name: FieldMessage, Required: true},
	{Name: FieldDevice},
	{Name: FieldTitle},
	{Name: FieldURL, MaxLen: 512},
	{Name: FieldURLTitle, MaxLen: 100},
	{Name: FieldPriority},
	{Name: FieldTime},
	{Name: FieldSound},
	{Name: FieldRetry},
	{Name: FieldExpire},
	{Name: FieldHTML, Boolean: true},
}

// BuildParams assembles the request parameter set from rendered field values.
//
// ok=false means a required field rendered blank and the event must be
// skipped silently (no partial request is ever sent). Blank optional values
// are omitted entirely.
func BuildParams(resolve func(field string) string) (params url.Values, ok bool) {
	params = url.Values{}
	for _, f := range Fields {
		v := resolve(f.Name)
		if strings.TrimSpace(v) == "" {
			if f.Required {
				return nil, false
			}
			continue
		}
		if f.MaxLen > 0 && len(v) > f.MaxLen {
			v = v[:f.MaxLen]
		}
		if f.Boolean {
			v = coerceBool(v)
		}
		params.Set(f.Name, v)
	}
	return params, true
}

// coerceBool maps "true"/"1" to "1" and any other non-blank value to "0".
func coerceBool(v string) string {
	if v == "true" || v == "1" {
		return "1"
	}
	return "0"
}

// RedactedSummary renders params for logging with the token hidden.
func RedactedSummary(params url.Values) string {
	cp := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			if k == FieldToken {
				v = "[redacted]"
			}
			cp.Add(k, v)
		}
	}
	return cp.Encode()
}
