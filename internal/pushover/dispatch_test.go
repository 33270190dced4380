package pushover

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	logx "pushbridge/pkg/logx"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

type capturedRequest struct {
	method   string
	query    url.Values
	fileName string
	fileType string
	fileData []byte
}

func captureServer(t *testing.T) (*httptest.Server, *capturedRequest) {
	t.Helper()
	cap := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cap.method = r.Method
		cap.query = r.URL.Query()
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(8 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			} else if fhs := r.MultipartForm.File["attachment"]; len(fhs) == 1 {
				fh := fhs[0]
				cap.fileName = fh.Filename
				cap.fileType = fh.Header.Get("Content-Type")
				f, err := fh.Open()
				if err == nil {
					cap.fileData, _ = io.ReadAll(f)
					f.Close()
				}
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":1}`))
	}))
	t.Cleanup(srv.Close)
	return srv, cap
}

func TestSendSimpleMode(t *testing.T) {
	t.Parallel()
	srv, cap := captureServer(t)

	d := NewDispatcher(srv.URL, 5*time.Second, logx.Nop())
	params := url.Values{
		FieldToken:   {"T"},
		FieldUser:    {"U"},
		FieldMessage: {"hi"},
	}
	if err := d.Send(context.Background(), params, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	if cap.method != http.MethodPost {
		t.Fatalf("method = %s, want POST", cap.method)
	}
	if len(cap.query) != 3 {
		t.Fatalf("unexpected query keys: %v", cap.query)
	}
	for k, want := range map[string]string{FieldToken: "T", FieldUser: "U", FieldMessage: "hi"} {
		if cap.query.Get(k) != want {
			t.Fatalf("%s = %q, want %q", k, cap.query.Get(k), want)
		}
	}
	if cap.fileData != nil {
		t.Fatal("simple mode must not carry a body part")
	}
}

func TestSendMultipartMode(t *testing.T) {
	t.Parallel()
	srv, cap := captureServer(t)

	var logs bytes.Buffer
	d := NewDispatcher(srv.URL, 5*time.Second, logx.NewWriter(&logs, "DEBUG"))

	att := &Attachment{name: "promo.png", contentType: "image/png", data: pngMagic}
	params := url.Values{
		FieldToken:   {"supersecret"},
		FieldUser:    {"U"},
		FieldMessage: {"50% off"},
	}
	if err := d.Send(context.Background(), params, att); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Message sanitization applies to the transmitted query only.
	if got := cap.query.Get(FieldMessage); got != "50 percent off" {
		t.Fatalf("transmitted message = %q, want %q", got, "50 percent off")
	}
	if cap.fileName != "promo.png" {
		t.Fatalf("attachment filename = %q", cap.fileName)
	}
	if cap.fileType != "image/png" {
		t.Fatalf("attachment content type = %q, want image/png", cap.fileType)
	}
	if !bytes.Equal(cap.fileData, pngMagic) {
		t.Fatal("attachment bytes differ")
	}

	// Attachment is released by Send.
	if att.Size() != 0 {
		t.Fatal("attachment must be closed after dispatch")
	}

	// The logged summary keeps the original message and redacts the token.
	out := logs.String()
	if strings.Contains(out, "supersecret") {
		t.Fatalf("token leaked into log: %s", out)
	}
	if !strings.Contains(out, url.QueryEscape("50% off")) {
		t.Fatalf("logged summary should keep unsanitized message: %s", out)
	}
}

func TestSendTransportErrorPropagates(t *testing.T) {
	t.Parallel()
	srv, _ := captureServer(t)
	srv.Close() // connection refused from here on

	d := NewDispatcher(srv.URL, 2*time.Second, logx.Nop())
	att := &Attachment{name: "a.png", contentType: "image/png", data: pngMagic}
	params := url.Values{
		FieldToken:   {"T"},
		FieldUser:    {"U"},
		FieldMessage: {"hi"},
	}
	err := d.Send(context.Background(), params, att)
	if err == nil {
		t.Fatal("expected transport error")
	}
	// Release happens on the error path too.
	if att.Size() != 0 {
		t.Fatal("attachment must be closed on error paths")
	}
}

func TestDefaultEndpoint(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("", 0, logx.Nop())
	if d.Endpoint() != "https://api.pushover.net/1/messages.json" {
		t.Fatalf("endpoint = %s", d.Endpoint())
	}
}
