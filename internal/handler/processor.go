package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/berniyo/uber-monzo-lambda/internal/monzo"
	"github.com/berniyo/uber-monzo-lambda/internal/token"
)

const (
	// AccountType is the Monzo account searched for the trip payment.
	AccountType = "uk_retail"
	// MerchantName is the merchant a trip transaction must carry.
	MerchantName = "Uber"
)

// BankClient defines the subset of the Monzo client used by the processor.
type BankClient interface {
	Accounts(ctx context.Context, token, accountType string) ([]monzo.Account, error)
	Transactions(ctx context.Context, token, accountID string, since, before time.Time) ([]monzo.Transaction, error)
	RegisterAttachment(ctx context.Context, token, transactionID, fileURL, fileType string) (*monzo.RegisterAttachmentResponse, error)
}

// TokenSource yields a usable access token.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// TripEvent is the IFTTT Uber trip-completed payload.
type TripEvent struct {
	TripMapImage string
	CompletedAt  string
}

// Processor matches a finished trip to its Monzo transaction and attaches
// the trip map.
type Processor struct {
	bank     BankClient
	tokens   TokenSource
	location *time.Location
	logger   *slog.Logger
}

// Option customizes the processor.
type Option func(*Processor)

// WithLocation sets the time zone CompletedAt is read in.
func WithLocation(loc *time.Location) Option {
	return func(p *Processor) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProcessor builds a Processor with sane defaults.
func NewProcessor(bank BankClient, tokens TokenSource, opts ...Option) *Processor {
	p := &Processor{
		bank:     bank,
		tokens:   tokens,
		location: time.UTC,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Handle runs the whole trip-to-attachment sequence. Every failure comes
// back as a *RequestError carrying the HTTP status to answer with.
func (p *Processor) Handle(ctx context.Context, event TripEvent) (*monzo.RegisterAttachmentResponse, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	logger := p.logger.With("request_id", middleware.GetReqID(ctx))
	logger.Info("looking for uber transaction", "completed_at", event.CompletedAt)

	completed, err := ParseCompletedAt(event.CompletedAt, p.location)
	if err != nil {
		return nil, invalidInput("Cannot parse CompletedAt '%s'", event.CompletedAt)
	}

	contentType, err := ImageContentType(event.TripMapImage)
	if err != nil {
		return nil, invalidInput("Invalid TripMapImage '%s'", event.TripMapImage)
	}

	accessToken, err := p.tokens.EnsureValid(ctx)
	if err != nil {
		var refreshErr *token.RefreshError
		if errors.As(err, &refreshErr) {
			return nil, upstreamUnavailable(err, "Could not refresh access token: %v", refreshErr.Err)
		}
		return nil, &RequestError{Status: http.StatusInternalServerError, Message: "Could not load credentials", Err: err}
	}

	tx, err := p.FindUberTransaction(ctx, accessToken, NewWindow(completed))
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return nil, reqErr
		}
		return nil, upstreamUnavailable(err, "%s", err.Error())
	}

	logger.Info("adding attachment",
		"image", event.TripMapImage,
		"type", contentType,
		"transaction_id", tx.ID,
		"amount", formatAmount(tx.Amount),
		"currency", tx.Currency,
	)

	resp, err := p.bank.RegisterAttachment(ctx, accessToken, tx.ID, event.TripMapImage, contentType)
	if err != nil {
		attachErr := &AttachmentError{TransactionID: tx.ID, Err: err}
		return nil, upstreamUnavailable(attachErr, "%s", attachErr.Error())
	}

	return resp, nil
}

// FindUberTransaction returns the single Uber transaction on the first
// uk_retail account within window.
func (p *Processor) FindUberTransaction(ctx context.Context, accessToken string, window Window) (*monzo.Transaction, error) {
	accounts, err := p.bank.Accounts(ctx, accessToken, AccountType)
	if err != nil {
		return nil, upstreamUnavailable(err, "Could not retrieve accounts: %v", err)
	}
	if len(accounts) == 0 {
		return nil, upstreamUnavailable(nil, "Could not retrieve accounts: no %s accounts", AccountType)
	}

	// Monzo's before bound is exclusive and only second precise, so the
	// query overshoots End and the results are trimmed back to the window.
	txs, err := p.bank.Transactions(ctx, accessToken, accounts[0].ID, window.Start, window.End.Add(time.Second))
	if err != nil {
		return nil, upstreamUnavailable(err, "Could not retrieve transactions: %v", err)
	}

	var inWindow []monzo.Transaction
	for _, tx := range txs {
		if window.Contains(tx.Created) {
			inWindow = append(inWindow, tx)
		}
	}

	return MatchUberTransaction(inWindow)
}

// MatchUberTransaction picks the one transaction whose merchant is Uber.
func MatchUberTransaction(txs []monzo.Transaction) (*monzo.Transaction, error) {
	var matches []monzo.Transaction
	for _, tx := range txs {
		if tx.Merchant != nil && tx.Merchant.Name == MerchantName {
			matches = append(matches, tx)
		}
	}

	if len(matches) != 1 {
		return nil, &AmbiguityError{Count: len(matches)}
	}

	return &matches[0], nil
}

func validateEvent(event TripEvent) error {
	if strings.TrimSpace(event.TripMapImage) == "" || strings.TrimSpace(event.CompletedAt) == "" {
		return invalidInput("You must supply a TripMapImage URL and CompletedAt timestamp")
	}
	return nil
}

// formatAmount renders minor units as a positive major-unit amount.
func formatAmount(minor int64) string {
	return decimal.New(minor, -2).Abs().StringFixed(2)
}
