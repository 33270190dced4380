package pushover

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	logx "pushbridge/pkg/logx"
)

// MaxAttachmentBytes is the API's attachment size limit (2.5 MiB).
const MaxAttachmentBytes = 2_621_440

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
}

// Attachment is a downloaded image bound to exactly one dispatch call.
// The dispatch call that received it owns it and must Close() it on every
// exit path.
type Attachment struct {
	name        string
	contentType string
	data        []byte
}

func (a *Attachment) Name() string        { return a.name }
func (a *Attachment) ContentType() string { return a.contentType }
func (a *Attachment) Bytes() []byte       { return a.data }
func (a *Attachment) Size() int           { return len(a.data) }

// Close releases the attachment. Idempotent.
func (a *Attachment) Close() error {
	if a != nil {
		a.data = nil
	}
	return nil
}

// Discard reasons reported through the fetcher's OnDiscard hook.
const (
	DiscardFetch = "fetch"
	DiscardSize  = "size"
	DiscardType  = "type"
)

// Fetcher resolves an image URL into a bounded, type-checked attachment.
//
// Fetch never fails the notification: every problem degrades to "no
// attachment" plus a diagnostic log line.
type Fetcher struct {
	client    *http.Client
	log       logx.Logger
	onDiscard func(reason string)
}

func NewFetcher(timeout time.Duration, log logx.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// OnDiscard installs a hook called once per discarded attachment with the
// reason. Used to feed counters; must not block.
func (f *Fetcher) OnDiscard(fn func(reason string)) { f.onDiscard = fn }

func (f *Fetcher) discard(reason string) {
	if f.onDiscard != nil {
		f.onDiscard(reason)
	}
}

// Fetch downloads imageURL and gates it on size then content type.
// A blank URL returns nil without logging.
func (f *Fetcher) Fetch(ctx context.Context, imageURL string) *Attachment {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		f.log.Warn(fmt.Sprintf("Failed to download image from '%s': %v", imageURL, err))
		f.discard(DiscardFetch)
		return nil
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn(fmt.Sprintf("Failed to download image from '%s': %v", imageURL, err))
		f.discard(DiscardFetch)
		return nil
	}
	// Body is released on every path below, including the gating failures.
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.log.Warn(fmt.Sprintf("Failed to download image from '%s': unexpected status %s", imageURL, resp.Status))
		f.discard(DiscardFetch)
		return nil
	}

	// Read at most one byte past the limit so oversize is detected without
	// buffering an unbounded body.
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxAttachmentBytes+1))
	if err != nil {
		f.log.Warn(fmt.Sprintf("Failed to download image from '%s': %v", imageURL, err))
		f.discard(DiscardFetch)
		return nil
	}
	if len(data) > MaxAttachmentBytes {
		f.log.Warn(fmt.Sprintf("Image at '%s' exceeds the %d byte attachment limit; sending without attachment", imageURL, MaxAttachmentBytes))
		f.discard(DiscardSize)
		return nil
	}

	ct := mediaType(resp.Header.Get("Content-Type"), data)
	if _, ok := allowedImageTypes[ct]; !ok {
		f.log.Warn(fmt.Sprintf("Unsupported image type '%s' at '%s'; sending without attachment", ct, imageURL))
		f.discard(DiscardType)
		return nil
	}

	return &Attachment{
		name:        attachmentName(imageURL),
		contentType: ct,
		data:        data,
	}
}

// mediaType normalizes the response content type (case-insensitive,
// parameters stripped), falling back to content sniffing when absent.
func mediaType(header string, data []byte) string {
	if strings.TrimSpace(header) != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil {
			return mt
		}
		return strings.ToLower(strings.TrimSpace(header))
	}
	mt, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return ""
	}
	return mt
}

func attachmentName(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "attachment"
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return "attachment"
	}
	return base
}
