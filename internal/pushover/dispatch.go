package pushover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	logx "pushbridge/pkg/logx"
)

// DefaultEndpoint is the fixed messages API endpoint.
const DefaultEndpoint = "https://api.pushover.net/1/messages.json"

// Dispatcher performs exactly one POST per Send call and logs the outcome.
// It never retries; transport errors propagate to the caller's per-event
// isolation.
type Dispatcher struct {
	endpoint string
	client   *http.Client
	log      logx.Logger
}

func NewDispatcher(endpoint string, timeout time.Duration, log logx.Logger) *Dispatcher {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (d *Dispatcher) Endpoint() string { return d.endpoint }

// Send posts the parameter set, in multipart mode when an attachment is
// present and simple mode otherwise. The attachment (if any) is released on
// every exit path.
func (d *Dispatcher) Send(ctx context.Context, params url.Values, att *Attachment) error {
	if att != nil {
		defer func() { _ = att.Close() }()
	}

	var req *http.Request
	var err error
	if att != nil {
		req, err = d.multipartRequest(ctx, params, att)
	} else {
		req, err = d.simpleRequest(ctx, params)
	}
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	// The summary logs the parameters as built (unsanitized message) with the
	// token redacted; the response body is the API's raw JSON.
	d.log.Info("notification sent",
		logx.Int("status", resp.StatusCode),
		logx.String("response", strings.TrimSpace(string(body))),
		logx.String("params", RedactedSummary(params)),
		logx.Bool("attachment", att != nil),
	)
	return nil
}

// simpleRequest sends the parameter set directly as the query string.
func (d *Dispatcher) simpleRequest(ctx context.Context, params url.Values) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"?"+params.Encode(), nil)
}

// multipartRequest sends the parameters as query plus the image as a body
// part named "attachment".
//
// The message value has every literal '%' replaced with " percent" first:
// raw percent signs collide with the percent-escaping the multipart path
// applies to the query portion. Only the transmitted message is mutated; the
// logged summary keeps the original.
func (d *Dispatcher) multipartRequest(ctx context.Context, params url.Values, att *Attachment) (*http.Request, error) {
	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			if k == FieldMessage {
				v = strings.ReplaceAll(v, "%", " percent")
			}
			query.Add(k, v)
		}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment"; filename=%q`, att.Name()))
	hdr.Set("Content-Type", detectType(att))
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("pushover multipart: %w", err)
	}
	if _, err := part.Write(att.Bytes()); err != nil {
		return nil, fmt.Errorf("pushover multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pushover multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"?"+query.Encode(), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// detectType sniffs the part's MIME type from content, falling back to the
// type recorded at fetch time.
func detectType(att *Attachment) string {
	if len(att.Bytes()) > 0 {
		if ct := http.DetectContentType(att.Bytes()); ct != "application/octet-stream" {
			if i := strings.IndexByte(ct, ';'); i >= 0 {
				ct = ct[:i]
			}
			return strings.TrimSpace(ct)
		}
	}
	if att.ContentType() != "" {
		return att.ContentType()
	}
	return "application/octet-stream"
}
