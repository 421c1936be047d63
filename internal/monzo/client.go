package monzo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the production Monzo API.
const DefaultBaseURL = "https://api.monzo.com"

const maxErrorBody = 4096

// APIError surfaces non-successful HTTP responses from Monzo.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("monzo api error: status=%d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("monzo api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client is a minimal Monzo API client covering token refresh, account and
// transaction listing, and attachment registration.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a client against baseURL. A nil httpClient gets a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// RefreshToken exchanges a refresh token for a new access/refresh pair.
func (c *Client) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, newAPIError(retrieveErr.Response.StatusCode, retrieveErr.Body)
		}
		return nil, err
	}

	userID, _ := tok.Extra("user_id").(string)

	return &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		UserID:       userID,
	}, nil
}

// Accounts lists the authenticated user's accounts of the given type.
func (c *Client) Accounts(ctx context.Context, token, accountType string) ([]Account, error) {
	query := url.Values{}
	if accountType != "" {
		query.Set("account_type", accountType)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/accounts", token, query, nil)
	if err != nil {
		return nil, err
	}

	var resp accountsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode accounts response: %w", err)
	}

	return resp.Accounts, nil
}

// Transactions lists transactions created in [since, before) with the
// merchant expanded.
func (c *Client) Transactions(ctx context.Context, token, accountID string, since, before time.Time) ([]Transaction, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}

	query := url.Values{
		"account_id": {accountID},
		"expand[]":   {"merchant"},
	}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	if !before.IsZero() {
		query.Set("before", before.UTC().Format(time.RFC3339))
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/transactions", token, query, nil)
	if err != nil {
		return nil, err
	}

	var resp transactionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode transactions response: %w", err)
	}

	return resp.Transactions, nil
}

// RegisterAttachment attaches an image URL to a transaction. Monzo does not
// deduplicate, so calling it twice registers two attachments.
func (c *Client) RegisterAttachment(ctx context.Context, token, transactionID, fileURL, fileType string) (*RegisterAttachmentResponse, error) {
	if transactionID == "" {
		return nil, errors.New("transaction id is required")
	}

	form := url.Values{
		"external_id": {transactionID},
		"file_url":    {fileURL},
		"file_type":   {fileType},
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/attachment/register", token, nil, form)
	if err != nil {
		return nil, err
	}

	var resp RegisterAttachmentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode attachment response: %w", err)
	}
	resp.Raw = json.RawMessage(body)

	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, query, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, data)
	}

	return data, nil
}

func newAPIError(status int, data []byte) *APIError {
	if len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}

	apiErr := &APIError{StatusCode: status, Body: strings.TrimSpace(string(data))}

	var payload errorResponse
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
	}

	return apiErr
}
