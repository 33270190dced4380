package source

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"pushbridge/internal/event"
	logx "pushbridge/pkg/logx"
)

// WebhookConfig controls the HTTP intake endpoint.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback bind requires Token or an explicit AllowInsecure.
type WebhookConfig struct {
	Addr          string // default "127.0.0.1:8090"
	Path          string // default "/events"
	Token         string
	AllowInsecure bool
}

const webhookMaxBody = 1 << 20 // 1 MiB request cap

// Webhook accepts events as JSON POST bodies.
type Webhook struct {
	cfg  WebhookConfig
	sink Sink
	log  logx.Logger
}

func NewWebhook(cfg WebhookConfig, sink Sink, log logx.Logger) *Webhook {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8090"
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/events"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Webhook{cfg: cfg, sink: sink, log: log}
}

// Run serves until ctx is cancelled.
func (w *Webhook) Run(ctx context.Context) error {
	// Safety: prevent accidental public exposure without auth.
	if !w.cfg.AllowInsecure && w.cfg.Token == "" && !isLoopbackAddr(w.cfg.Addr) {
		w.log.Error("webhook refused to start: non-loopback addr requires token or allow_insecure",
			logx.String("addr", w.cfg.Addr),
		)
		return errors.New("webhook refused to start: insecure bind")
	}

	ln, err := net.Listen("tcp", w.cfg.Addr)
	if err != nil {
		return err
	}
	defer func() { _ = ln.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handle)

	srv := &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: time.Minute,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	w.log.Info("webhook listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("path", w.cfg.Path),
		logx.Bool("token_set", w.cfg.Token != ""),
	)

	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the intake endpoint for tests.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handle)
	return mux
}

func (w *Webhook) handle(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !w.authorized(r) {
		rw.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody+1))
	if err != nil {
		http.Error(rw, "read error", http.StatusBadRequest)
		return
	}
	if len(body) > webhookMaxBody {
		http.Error(rw, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	ev := event.New("webhook", payloadFromBytes(body))
	if !w.sink.Enqueue(ev) {
		http.Error(rw, "queue full", http.StatusServiceUnavailable)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
	_, _ = rw.Write([]byte(`{"status":"accepted","id":"` + ev.ID + `"}`))
}

func (w *Webhook) authorized(r *http.Request) bool {
	tok := strings.TrimSpace(w.cfg.Token)
	if tok == "" {
		return true
	}
	if got := r.URL.Query().Get("token"); got != "" {
		return got == tok
	}
	if ah := r.Header.Get("Authorization"); ah != "" {
		const p = "Bearer "
		return strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok
	}
	return false
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
