package monzo

import (
	"bytes"
	"encoding/json"
	"time"
)

// TokenResponse is the result of a refresh-token exchange.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	UserID       string
}

// Account is a Monzo account as returned by /accounts.
type Account struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Closed      bool      `json:"closed"`
	Created     time.Time `json:"created"`
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// Merchant is the merchant sub-record of a transaction. Without the
// merchant expansion Monzo sends only the merchant id as a string.
type Merchant struct {
	ID       string `json:"id"`
	GroupID  string `json:"group_id,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Logo     string `json:"logo,omitempty"`
}

// UnmarshalJSON accepts both the expanded object and the bare id form.
func (m *Merchant) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		return json.Unmarshal(data, &m.ID)
	}

	type plain Merchant
	return json.Unmarshal(data, (*plain)(m))
}

// Transaction is a Monzo transaction. Amount is in minor units.
type Transaction struct {
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Merchant    *Merchant `json:"merchant"`
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// Attachment describes an image registered against a transaction.
type Attachment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ExternalID string    `json:"external_id"`
	FileURL    string    `json:"file_url"`
	FileType   string    `json:"file_type"`
	Created    time.Time `json:"created"`
}

// RegisterAttachmentResponse is the decoded /attachment/register reply.
// Raw holds the body exactly as Monzo sent it.
type RegisterAttachmentResponse struct {
	Attachment Attachment      `json:"attachment"`
	Raw        json.RawMessage `json:"-"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
