package mpesa

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// DefaultBaseURL is the vendor sandbox host.
	DefaultBaseURL = "https://api.sandbox.vm.co.mz"
	// DefaultB2CPath is the disbursement endpoint path.
	DefaultB2CPath = "/ipg/v1x/b2cPayment/"
	// DefaultUserAgent is sent when ClientConfig.UserAgent is empty.
	DefaultUserAgent = "PaymentsDS/Mpesa"
)

// B2CInput is the payout a business sends to a customer.
type B2CInput struct {
	TransactionReference string `json:"input_TransactionReference" validate:"required"`
	CustomerMSISDN       string `json:"input_CustomerMSISDN" validate:"required,numeric"`
	Amount               string `json:"input_Amount" validate:"required,amount"`
	ThirdPartyReference  string `json:"input_ThirdPartyReference" validate:"required"`
	ServiceProviderCode  string `json:"input_ServiceProviderCode" validate:"required,numeric"`
}

// Validate checks the input before it is sent.
func (in *B2CInput) Validate() error {
	return validate.Struct(in)
}

// fields returns the vendor body for the input.
func (in *B2CInput) fields() map[string]string {
	return map[string]string{
		"input_TransactionReference": in.TransactionReference,
		"input_CustomerMSISDN":       in.CustomerMSISDN,
		"input_Amount":               in.Amount,
		"input_ThirdPartyReference":  in.ThirdPartyReference,
		"input_ServiceProviderCode":  in.ServiceProviderCode,
	}
}

// PaymentResponse is the vendor's reply envelope. All fields are text.
type PaymentResponse struct {
	ConversationID      string `json:"output_ConversationID"`
	ResponseCode        string `json:"output_ResponseCode"`
	ResponseDesc        string `json:"output_ResponseDesc"`
	ThirdPartyReference string `json:"output_ThirdPartyReference"`
	TransactionID       string `json:"output_TransactionID"`
}

// IsSuccess reports whether the vendor accepted the transaction.
func (r *PaymentResponse) IsSuccess() bool {
	return r.ResponseCode == CodeSuccess
}

// ClientConfig holds the configuration for the M-Pesa client
type ClientConfig struct {
	BaseURL     string
	B2CPath     string
	APIKey      string
	PublicKey   string
	AccessToken string
	Origin      string
	UserAgent   string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// DefaultConfig returns a default client configuration
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:   DefaultBaseURL,
		B2CPath:   DefaultB2CPath,
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// NewThirdPartyReference returns a random 12 character reference suitable for
// input_ThirdPartyReference.
func NewThirdPartyReference() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(id[:12])
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		amount, err := strconv.ParseFloat(fl.Field().String(), 64)
		return err == nil && amount > 0 && !math.IsInf(amount, 1)
	})
	return v
}
