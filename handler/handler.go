package handler

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dreamr/internal/domain"
	"dreamr/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	signatureHeader   = "X-Twilio-Signature"
	maxFormBytes      = 64 << 10
)

type UseCase interface {
	HandleInbound(ctx context.Context, msg domain.InboundMessage) (usecase.Reply, error)
}

type SignatureValidator interface {
	ValidateSignature(fullURL string, form url.Values, signature string) bool
}

type Handler struct {
	uc            UseCase
	validator     SignatureValidator
	publicBaseURL string
}

type Option func(*Handler)

// WithSignatureValidation rejects webhook calls whose X-Twilio-Signature
// does not match. publicBaseURL is the externally visible scheme and host
// the signature was computed over; empty derives it from the request.
func WithSignatureValidation(v SignatureValidator, publicBaseURL string) Option {
	return func(h *Handler) {
		h.validator = v
		h.publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	}
}

func NewHandler(uc UseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes serves the webhook and the health probe.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /twilio/webhook", h.Webhook)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Message *twimlMessage `xml:"Message,omitempty"`
}

type twimlMessage struct {
	Body string `xml:",chardata"`
}

// Webhook answers one inbound Twilio message with TwiML. Failures are
// answered with a generic apology and HTTP 200 so Twilio does not retry.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set(correlationHeader, correlationID)

	logger := log.With().Str("correlationId", correlationID).Logger()
	ctx := logger.WithContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		logger.Warn().Err(err).Msg("unreadable webhook form")
		writeTwiML(w, domain.ReplyGenericError)
		return
	}

	if h.validator != nil {
		fullURL := h.requestURL(r)
		if !h.validator.ValidateSignature(fullURL, r.PostForm, r.Header.Get(signatureHeader)) {
			logger.Warn().Str("url", fullURL).Msg("webhook signature rejected")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	msg := inboundFromForm(r.PostForm)
	reply, err := h.uc.HandleInbound(ctx, msg)
	if err != nil {
		logger.Error().Err(err).Str("code", string(usecase.CodeOf(err))).Str("messageSid", msg.MessageSID).Msg("inbound message failed")
		writeTwiML(w, domain.ReplyGenericError)
		return
	}
	writeTwiML(w, reply.Text)
}

func inboundFromForm(form url.Values) domain.InboundMessage {
	numMedia, err := strconv.Atoi(strings.TrimSpace(form.Get("NumMedia")))
	if err != nil || numMedia < 0 {
		numMedia = 0
	}
	return domain.InboundMessage{
		MessageSID:       form.Get("MessageSid"),
		From:             form.Get("From"),
		To:               form.Get("To"),
		Body:             form.Get("Body"),
		NumMedia:         numMedia,
		MediaURL:         form.Get("MediaUrl0"),
		MediaContentType: form.Get("MediaContentType0"),
	}
}

func (h *Handler) requestURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeTwiML(w http.ResponseWriter, text string) {
	resp := twimlResponse{}
	if text != "" {
		resp.Message = &twimlMessage{Body: text}
	}
	body, err := xml.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}
