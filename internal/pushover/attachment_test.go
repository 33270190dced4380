package pushover

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "pushbridge/pkg/logx"
)

func testFetcher(buf *bytes.Buffer) *Fetcher {
	return NewFetcher(5*time.Second, logx.NewWriter(buf, "DEBUG"))
}

func imageServer(t *testing.T, contentType string, size int) *httptest.Server {
	t.Helper()
	body := bytes.Repeat([]byte{0xAB}, size)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchBlankURL(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	if att := testFetcher(&logs).Fetch(context.Background(), "   "); att != nil {
		t.Fatal("expected no attachment for blank url")
	}
	if logs.Len() != 0 {
		t.Fatalf("blank url must not log, got: %s", logs.String())
	}
}

func TestFetchFailureLogs(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	var logs bytes.Buffer
	if att := testFetcher(&logs).Fetch(context.Background(), srv.URL+"/img.png"); att != nil {
		t.Fatal("expected no attachment on fetch failure")
	}
	if !strings.Contains(logs.String(), "Failed to download image from '"+srv.URL+"/img.png'") {
		t.Fatalf("missing fetch failure diagnostic: %s", logs.String())
	}
}

func TestFetchSizeGate(t *testing.T) {
	t.Parallel()

	t.Run("one byte over", func(t *testing.T) {
		srv := imageServer(t, "image/png", MaxAttachmentBytes+1)
		var logs bytes.Buffer
		if att := testFetcher(&logs).Fetch(context.Background(), srv.URL); att != nil {
			t.Fatal("oversize attachment must be discarded")
		}
		if !strings.Contains(logs.String(), srv.URL) || !strings.Contains(logs.String(), "attachment limit") {
			t.Fatalf("missing size-limit diagnostic: %s", logs.String())
		}
	})

	t.Run("exactly at limit", func(t *testing.T) {
		srv := imageServer(t, "image/png", MaxAttachmentBytes)
		var logs bytes.Buffer
		att := testFetcher(&logs).Fetch(context.Background(), srv.URL)
		if att == nil {
			t.Fatal("attachment at exactly the limit must be kept")
		}
		defer att.Close()
		if att.Size() != MaxAttachmentBytes {
			t.Fatalf("size = %d, want %d", att.Size(), MaxAttachmentBytes)
		}
	})
}

func TestFetchTypeGate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		contentType string
		accepted    bool
	}{
		{name: "jpeg", contentType: "image/jpeg", accepted: true},
		{name: "mixed case jpeg", contentType: "image/JPEG", accepted: true},
		{name: "png with charset", contentType: "image/png; charset=binary", accepted: true},
		{name: "gif", contentType: "image/gif", accepted: true},
		{name: "bmp", contentType: "image/bmp", accepted: false},
		{name: "text", contentType: "text/html", accepted: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := imageServer(t, tt.contentType, 64)
			var logs bytes.Buffer
			att := testFetcher(&logs).Fetch(context.Background(), srv.URL)
			if tt.accepted {
				if att == nil {
					t.Fatalf("content type %q should be accepted: %s", tt.contentType, logs.String())
				}
				att.Close()
				return
			}
			if att != nil {
				t.Fatalf("content type %q should be discarded", tt.contentType)
			}
			if !strings.Contains(logs.String(), "Unsupported image type") {
				t.Fatalf("missing unsupported-type diagnostic: %s", logs.String())
			}
		})
	}
}

func TestAttachmentCloseIdempotent(t *testing.T) {
	t.Parallel()
	att := &Attachment{name: "a.png", contentType: "image/png", data: []byte{1, 2, 3}}
	if err := att.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := att.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if att.Size() != 0 {
		t.Fatal("close must release the buffer")
	}
}
