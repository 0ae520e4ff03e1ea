package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/bborn/textline/internal/bot"
)

// Handler is the bot entry point the webhook hands messages to
type Handler interface {
	Handle(ctx context.Context, msg bot.Inbound) string
}

type WebhookConfig struct {
	// AuthToken signs requests. When empty signatures are not checked.
	AuthToken string
	// PublicURL is the webhook URL as Twilio sees it, used to verify signatures
	PublicURL string
	Logger    *slog.Logger
}

// Webhook answers Twilio's inbound message requests with TwiML
type Webhook struct {
	handler   Handler
	authToken string
	publicURL string
	log       *slog.Logger
}

func NewWebhook(h Handler, cfg WebhookConfig) *Webhook {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{handler: h, authToken: cfg.AuthToken, publicURL: cfg.PublicURL, log: logger}
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message *string  `xml:"Message,omitempty"`
}

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "bad form", http.StatusBadRequest)
		return
	}
	if w.authToken != "" && !ValidSignature(w.authToken, w.publicURL, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		w.log.Warn("Rejected webhook with bad signature", "remote", r.RemoteAddr)
		http.Error(rw, "invalid signature", http.StatusForbidden)
		return
	}

	msg := bot.Inbound{
		Channel: "sms",
		From:    r.PostForm.Get("From"),
		To:      r.PostForm.Get("To"),
		Body:    r.PostForm.Get("Body"),
	}
	if r.PostForm.Get("NumMedia") != "" && r.PostForm.Get("NumMedia") != "0" {
		msg.MediaURL = r.PostForm.Get("MediaUrl0")
		msg.MediaType = r.PostForm.Get("MediaContentType0")
	}
	if msg.From == "" {
		http.Error(rw, "missing From", http.StatusBadRequest)
		return
	}

	var resp twiml
	if reply := w.handler.Handle(r.Context(), msg); reply != "" {
		resp.Message = &reply
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		w.log.Error("Failed to encode TwiML", "error", err)
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/xml; charset=utf-8")
	rw.Write([]byte(xml.Header))
	rw.Write(out)
}

// ValidSignature checks X-Twilio-Signature: base64 HMAC-SHA1 over the full
// URL followed by every POST parameter name and value, sorted by name.
func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			sb.WriteString(k)
			sb.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
