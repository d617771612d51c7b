// Package domain contains the core models shared by the gateway sandbox
package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidAmount is returned when an amount string is not a positive decimal
var ErrInvalidAmount = errors.New("invalid amount")

// Money represents a monetary value in the smallest unit (centavos)
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ParseMoney parses a decimal string such as "10" or "10.5" into Money.
// At most two decimal places are accepted.
func ParseMoney(s, currency string) (Money, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")
	if !isDigits(whole) || (hasFrac && (!isDigits(frac) || len(frac) > 2)) {
		return Money{}, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > math.MaxInt64/100-1 {
		return Money{}, ErrInvalidAmount
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)

	amount := units*100 + cents
	if amount <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Amount: amount, Currency: currency}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String formats the value with two decimal places
func (m Money) String() string {
	return fmt.Sprintf("%d.%02d", m.Amount/100, m.Amount%100)
}

// Add adds two money values
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Sub subtracts money value
func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// DisbursementStatus represents the outcome recorded for a payout
type DisbursementStatus string

const (
	DisbursementCompleted DisbursementStatus = "completed"
	DisbursementRejected  DisbursementStatus = "rejected"
)

// Disbursement is one B2C payout processed by the sandbox
type Disbursement struct {
	ID                   string             `json:"id" db:"id"`
	ConversationID       string             `json:"conversation_id" db:"conversation_id"`
	TransactionID        string             `json:"transaction_id" db:"transaction_id"`
	TransactionReference string             `json:"transaction_reference" db:"transaction_reference"`
	ThirdPartyReference  string             `json:"third_party_reference" db:"third_party_reference"`
	CustomerMSISDN       string             `json:"customer_msisdn" db:"customer_msisdn"`
	ServiceProviderCode  string             `json:"service_provider_code" db:"service_provider_code"`
	Amount               Money              `json:"amount" db:"amount"`
	Status               DisbursementStatus `json:"status" db:"status"`
	ResponseCode         string             `json:"response_code" db:"response_code"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`
}

// EventType identifies a sandbox event on the live feed
type EventType string

const (
	EventDisbursementCompleted EventType = "disbursement_completed"
	EventDisbursementRejected  EventType = "disbursement_rejected"
	EventOverloadChanged       EventType = "overload_changed"
)

// Event is pushed to websocket subscribers
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}
