// Package relay implements the single endpoint of the service: fetch a remote
// file and mail it as an attachment to the configured Kindle address.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"

	"github.com/shineum/epub-relay/internal/email"
	"github.com/shineum/epub-relay/internal/fetch"
	"github.com/shineum/epub-relay/internal/provider"
)

// HeaderRequestID carries the per-request correlation ID.
const HeaderRequestID = "X-Request-ID"

const (
	msgSent             = "EPUB sent to Kindle via Node.js!"
	msgMethodNotAllowed = "Method not allowed"
	msgMissingFields    = "Missing URL or filename"
	msgInvalidJSON      = "Invalid JSON body"

	maxBodyBytes = 1 << 20
)

// ErrTranslatorNotFound indicates the English validation translator is unavailable.
var ErrTranslatorNotFound = errors.New("translator not found")

// Fetcher downloads the file referenced by a request.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Content, error)
}

// Config holds the fixed parts of every outbound message.
type Config struct {
	// Recipient is the Kindle address every file is mailed to.
	Recipient string
	// Sender is the From address, usually the SMTP username.
	Sender  string
	Subject string
	Body    string
}

type sendRequest struct {
	URL      string `json:"url" validate:"required"`
	Filename string `json:"filename" validate:"required"`
}

// Handler serves the relay endpoint. It holds no per-request state, so
// concurrent requests fetch and send independently.
type Handler struct {
	cfg        Config
	fetcher    Fetcher
	provider   provider.Provider
	validate   *validator.Validate
	translator ut.Translator
}

// New creates a Handler. Recipient and Sender are not checked here; an empty
// value makes each send fail instead.
func New(cfg Config, fetcher Fetcher, prov provider.Provider) (*Handler, error) {
	if fetcher == nil {
		return nil, errors.New("relay: fetcher is required")
	}
	if prov == nil {
		return nil, errors.New("relay: provider is required")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	enTrans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}
	if err := enTranslations.RegisterDefaultTranslations(validate, enTrans); err != nil {
		return nil, fmt.Errorf("failed to register translations: %w", err)
	}

	return &Handler{
		cfg:        cfg,
		fetcher:    fetcher,
		provider:   prov,
		validate:   validate,
		translator: enTrans,
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	requestID := requestIDFrom(r)
	w.Header().Set(HeaderRequestID, requestID)
	log := slog.With("request_id", requestID)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeJSON(w, map[string]string{"error": msgMethodNotAllowed}, http.StatusMethodNotAllowed)
		return
	}

	req, ok := h.decode(w, r, log)
	if !ok {
		return
	}

	ctx := r.Context()

	content, err := h.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		log.ErrorContext(ctx, "relay failed", "stage", "fetch", "error", err)
		writeJSON(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	msg := &email.Email{
		From:      h.cfg.Sender,
		To:        []string{h.cfg.Recipient},
		Subject:   h.cfg.Subject,
		TextBody:  h.cfg.Body,
		MessageID: fmt.Sprintf("<%s@epub-relay>", requestID),
		Attachments: []email.Attachment{{
			Filename:    req.Filename,
			ContentType: email.ContentTypeFor(req.Filename),
			Content:     content.Data,
		}},
	}

	if err := h.provider.Send(ctx, msg); err != nil {
		log.ErrorContext(ctx, "relay failed",
			"stage", "send",
			"provider", h.provider.Name(),
			"error", err,
		)
		writeJSON(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	log.InfoContext(ctx, "file relayed",
		"provider", h.provider.Name(),
		"filename", req.Filename,
		"size", len(content.Data),
	)
	writeJSON(w, map[string]string{"message": msgSent}, http.StatusOK)
}

// decode reads and validates the request body, writing the 400 response
// itself when it reports false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger) (sendRequest, bool) {
	var req sendRequest

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		log.DebugContext(r.Context(), "rejecting request body", "error", err)
		writeJSON(w, map[string]string{"error": msgInvalidJSON}, http.StatusBadRequest)
		return req, false
	}

	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields[fe.Field()] = fe.Translate(h.translator)
			}
			log.DebugContext(r.Context(), "rejecting request", "fields", fields)
		}
		writeJSON(w, map[string]string{"error": msgMissingFields}, http.StatusBadRequest)
		return req, false
	}

	return req, true
}

// MethodNotAllowed writes the relay's 405 response, CORS headers included.
// Routers use it for methods they cannot dispatch to the Handler.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	setCORSHeaders(w)
	writeJSON(w, map[string]string{"error": msgMethodNotAllowed}, http.StatusMethodNotAllowed)
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

// requestIDFrom reuses a caller-supplied UUID, otherwise generates one.
func requestIDFrom(r *http.Request) string {
	if id, err := uuid.Parse(r.Header.Get(HeaderRequestID)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("relay: failed to encode response", "error", err)
	}
}
