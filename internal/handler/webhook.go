package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/berniyo/uber-monzo-lambda/internal/monzo"
)

// Realm is announced in WWW-Authenticate challenges.
const Realm = "ifttt-uber-monzo"

const maxBodyBytes = 1 << 20

// TripHandler processes a validated trip event.
type TripHandler interface {
	Handle(ctx context.Context, event TripEvent) (*monzo.RegisterAttachmentResponse, error)
}

// Webhook is the IFTTT-facing HTTP endpoint.
type Webhook struct {
	trips  TripHandler
	digest []byte
	dumper BodyDumper
	logger *slog.Logger
}

// NewWebhook builds the endpoint. authDigest is the hex SHA-256 of
// "user:password"; a nil dumper disables body dumps.
func NewWebhook(trips TripHandler, authDigest string, dumper BodyDumper, logger *slog.Logger) (*Webhook, error) {
	digest, err := hex.DecodeString(authDigest)
	if err != nil || len(digest) != sha256.Size {
		return nil, errors.New("auth digest must be a hex SHA-256")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Webhook{
		trips:  trips,
		digest: digest,
		dumper: dumper,
		logger: logger,
	}, nil
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", middleware.GetReqID(r.Context()))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.fail(w, logger, methodNotAllowed())
		return
	}

	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", Realm))
		h.fail(w, logger, unauthorized())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, logger, invalidInput("Cannot read request body"))
		return
	}

	if h.dumper != nil {
		if path, err := h.dumper.Dump(body); err != nil {
			logger.Warn("could not save POST body", "error", err)
		} else {
			logger.Debug("wrote POST body", "path", path)
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := r.ParseForm(); err != nil {
		h.fail(w, logger, invalidInput("You must supply a TripMapImage URL and CompletedAt timestamp"))
		return
	}

	event := TripEvent{
		TripMapImage: r.PostForm.Get("TripMapImage"),
		CompletedAt:  r.PostForm.Get("CompletedAt"),
	}

	resp, err := h.trips.Handle(r.Context(), event)
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &RequestError{Status: http.StatusInternalServerError, Message: "Internal error", Err: err}
		}
		h.fail(w, logger, reqErr)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if len(resp.Raw) > 0 {
		w.Write(resp.Raw)
		return
	}
	writeJSON(w, resp)
}

func (h *Webhook) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	sum := sha256.Sum256([]byte(user + ":" + pass))
	return subtle.ConstantTimeCompare(sum[:], h.digest) == 1
}

func (h *Webhook) fail(w http.ResponseWriter, logger *slog.Logger, reqErr *RequestError) {
	attrs := []any{"status", reqErr.Status}
	if reqErr.Err != nil {
		attrs = append(attrs, "error", reqErr.Err)
	}
	logger.Error(reqErr.Message, attrs...)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(reqErr.Status)
	writeJSON(w, map[string]string{"message": reqErr.Message})
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	enc.Encode(v)
}
