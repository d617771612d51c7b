package mpesa

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCredential is returned by B2CPayment when neither the RSA path nor a
// pre-issued access token produced a bearer credential. Nothing is sent.
var ErrNoCredential = errors.New("mpesa: no credential available")

// Vendor response codes. CodeSuccess is the only business-level success.
const (
	CodeSuccess                           = "INS-0"
	CodeInternalError                     = "INS-1"
	CodeInvalidAPIKey                     = "INS-2"
	CodeUserNotActive                     = "INS-4"
	CodeTransactionCancelledByCustomer    = "INS-5"
	CodeTransactionFailed                 = "INS-6"
	CodeRequestTimeout                    = "INS-9"
	CodeDuplicateTransaction              = "INS-10"
	CodeInvalidShortcode                  = "INS-13"
	CodeInvalidReference                  = "INS-14"
	CodeInvalidAmount                     = "INS-15"
	CodeTemporaryOverload                 = "INS-16"
	CodeInvalidTransactionReferenceLength = "INS-17"
	CodeInvalidTransactionID              = "INS-18"
	CodeInvalidThirdPartyReference        = "INS-19"
	CodeMissingParameters                 = "INS-20"
	CodeParameterValidationFailed         = "INS-21"
	CodeInvalidOperationType              = "INS-22"
	CodeUnknownStatus                     = "INS-23"
	CodeInvalidInitiatorIdentifier        = "INS-24"
	CodeInvalidSecurityCredential         = "INS-25"
	CodeUnauthorized                      = "INS-26"
	CodeDirectDebitMissing                = "INS-993"
	CodeDirectDebitAlreadyExists          = "INS-994"
	CodeCustomerProfileProblem            = "INS-995"
	CodeCustomerAccountNotActive          = "INS-996"
	CodeLinkingTransactionNotFound        = "INS-997"
	CodeInvalidMarket                     = "INS-998"
	CodeInitiatorAuthenticationError      = "INS-2001"
	CodeReceiverInvalid                   = "INS-2002"
	CodeInsufficientBalance               = "INS-2006"
	CodeMSISDNInvalid                     = "INS-2051"
	CodeLanguageCodeInvalid               = "INS-2057"
)

// Kind identifies one member of the closed error taxonomy.
type Kind int

const (
	KindOther Kind = iota
	KindNetwork
	KindSerialization
	KindValidation
	KindSuccessful
	KindInternalError
	KindInvalidAPIKey
	KindUserNotActive
	KindTransactionCancelledByCustomer
	KindTransactionFailed
	KindRequestTimeout
	KindDuplicateTransaction
	KindInvalidShortcode
	KindInvalidReference
	KindInvalidAmount
	KindTemporaryOverload
	KindInvalidTransactionReferenceLength
	KindInvalidTransactionID
	KindInvalidThirdPartyReference
	KindMissingParameters
	KindParameterValidationFailed
	KindInvalidOperationType
	KindUnknownStatus
	KindInvalidInitiatorIdentifier
	KindInvalidSecurityCredential
	KindUnauthorized
	KindDirectDebitMissing
	KindDirectDebitAlreadyExists
	KindCustomerProfileProblem
	KindCustomerAccountNotActive
	KindLinkingTransactionNotFound
	KindInvalidMarket
	KindInitiatorAuthenticationError
	KindReceiverInvalid
	KindInsufficientBalance
	KindMSISDNInvalid
	KindLanguageCodeInvalid
)

var kindNames = map[Kind]string{
	KindOther:                             "Other",
	KindNetwork:                           "NetworkError",
	KindSerialization:                     "SerializationError",
	KindValidation:                        "ValidationError",
	KindSuccessful:                        "Successful",
	KindInternalError:                     "InternalError",
	KindInvalidAPIKey:                     "InvalidAPIKey",
	KindUserNotActive:                     "UserNotActive",
	KindTransactionCancelledByCustomer:    "TransactionCancelledByCustomer",
	KindTransactionFailed:                 "TransactionFailed",
	KindRequestTimeout:                    "RequestTimeout",
	KindDuplicateTransaction:              "DuplicateTransaction",
	KindInvalidShortcode:                  "InvalidShortcode",
	KindInvalidReference:                  "InvalidReference",
	KindInvalidAmount:                     "InvalidAmount",
	KindTemporaryOverload:                 "TemporaryOverload",
	KindInvalidTransactionReferenceLength: "InvalidTransactionReferenceLength",
	KindInvalidTransactionID:              "InvalidTransactionID",
	KindInvalidThirdPartyReference:        "InvalidThirdPartyReference",
	KindMissingParameters:                 "MissingParameters",
	KindParameterValidationFailed:         "ParameterValidationFailed",
	KindInvalidOperationType:              "InvalidOperationType",
	KindUnknownStatus:                     "UnknownStatus",
	KindInvalidInitiatorIdentifier:        "InvalidInitiatorIdentifier",
	KindInvalidSecurityCredential:         "InvalidSecurityCredential",
	KindUnauthorized:                      "Unauthorized",
	KindDirectDebitMissing:                "DirectDebitMissing",
	KindDirectDebitAlreadyExists:          "DirectDebitAlreadyExists",
	KindCustomerProfileProblem:            "CustomerProfileProblem",
	KindCustomerAccountNotActive:          "CustomerAccountNotActive",
	KindLinkingTransactionNotFound:        "LinkingTransactionNotFound",
	KindInvalidMarket:                     "InvalidMarket",
	KindInitiatorAuthenticationError:      "InitiatorAuthenticationError",
	KindReceiverInvalid:                   "ReceiverInvalid",
	KindInsufficientBalance:               "InsufficientBalance",
	KindMSISDNInvalid:                     "MSISDNInvalid",
	KindLanguageCodeInvalid:               "LanguageCodeInvalid",
}

// String returns the variant name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// statusRule routes one HTTP status. When byCode is nil the status alone
// decides the kind; otherwise the description is looked up in byCode and a
// miss falls through to KindOther.
type statusRule struct {
	kind   Kind
	byCode map[string]Kind
}

// classificationTable is the vendor's status/description matrix. Adding a new
// vendor code is an entry here.
var classificationTable = map[int]statusRule{
	http.StatusOK:                  {kind: KindSuccessful},
	http.StatusCreated:             {kind: KindSuccessful},
	http.StatusInternalServerError: {kind: KindInternalError},
	http.StatusUnauthorized: {byCode: map[string]Kind{
		CodeInvalidAPIKey:                  KindInvalidAPIKey,
		CodeUserNotActive:                  KindUserNotActive,
		CodeTransactionCancelledByCustomer: KindTransactionCancelledByCustomer,
		CodeTransactionFailed:              KindTransactionFailed,
		CodeUnauthorized:                   KindUnauthorized,
	}},
	http.StatusRequestTimeout: {kind: KindRequestTimeout},
	http.StatusConflict:       {kind: KindDuplicateTransaction},
	http.StatusBadRequest: {byCode: map[string]Kind{
		CodeInvalidShortcode:                  KindInvalidShortcode,
		CodeInvalidReference:                  KindInvalidReference,
		CodeInvalidAmount:                     KindInvalidAmount,
		CodeInvalidTransactionReferenceLength: KindInvalidTransactionReferenceLength,
		CodeInvalidTransactionID:              KindInvalidTransactionID,
		CodeInvalidThirdPartyReference:        KindInvalidThirdPartyReference,
		CodeMissingParameters:                 KindMissingParameters,
		CodeParameterValidationFailed:         KindParameterValidationFailed,
		CodeInvalidOperationType:              KindInvalidOperationType,
		CodeUnknownStatus:                     KindUnknownStatus,
		CodeInvalidInitiatorIdentifier:        KindInvalidInitiatorIdentifier,
		CodeInvalidSecurityCredential:         KindInvalidSecurityCredential,
		CodeDirectDebitMissing:                KindDirectDebitMissing,
		CodeDirectDebitAlreadyExists:          KindDirectDebitAlreadyExists,
		CodeCustomerProfileProblem:            KindCustomerProfileProblem,
		CodeCustomerAccountNotActive:          KindCustomerAccountNotActive,
		CodeLinkingTransactionNotFound:        KindLinkingTransactionNotFound,
		CodeInvalidMarket:                     KindInvalidMarket,
		CodeInitiatorAuthenticationError:      KindInitiatorAuthenticationError,
		CodeReceiverInvalid:                   KindReceiverInvalid,
		CodeMSISDNInvalid:                     KindMSISDNInvalid,
		CodeLanguageCodeInvalid:               KindLanguageCodeInvalid,
	}},
	http.StatusServiceUnavailable:  {kind: KindTemporaryOverload},
	http.StatusUnprocessableEntity: {kind: KindInsufficientBalance},
}

// kindCodes is the reverse of the description-keyed rules.
var kindCodes = func() map[Kind]string {
	codes := make(map[Kind]string)
	for _, rule := range classificationTable {
		for code, kind := range rule.byCode {
			codes[kind] = code
		}
	}
	return codes
}()

// Code returns the vendor response code that selects this kind, or "" when
// the kind is decided by HTTP status alone.
func (k Kind) Code() string {
	return kindCodes[k]
}

// Classify maps an HTTP status and vendor description to exactly one kind.
// It never fails: unknown pairs become KindOther carrying both values.
func Classify(statusCode int, description string) *Error {
	e := &Error{Kind: KindOther, StatusCode: statusCode, Description: description}

	rule, ok := classificationTable[statusCode]
	if !ok {
		return e
	}
	if rule.byCode == nil {
		e.Kind = rule.kind
		return e
	}
	if kind, ok := rule.byCode[description]; ok {
		e.Kind = kind
	}
	return e
}

// Error is the single error type returned by the client. Kind says which
// variant it is; StatusCode and Description are set for classified responses,
// Err for network, serialization and validation failures.
type Error struct {
	Kind        Kind
	StatusCode  int
	Description string
	Response    *PaymentResponse
	Err         error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNetwork, KindSerialization, KindValidation:
		if e.Err != nil {
			return fmt.Sprintf("mpesa: %s: %v", e.Kind, e.Err)
		}
		return "mpesa: " + e.Kind.String()
	case KindSuccessful:
		return fmt.Sprintf("mpesa: %s(%q)", e.Kind, e.Description)
	case KindOther:
		return fmt.Sprintf("mpesa: %s(%d, %q)", e.Kind, e.StatusCode, e.Description)
	default:
		return "mpesa: " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality, so errors.Is(err, ErrInvalidAPIKey) works for any
// classified InvalidAPIKey regardless of status or description.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrOther                             = &Error{Kind: KindOther}
	ErrNetwork                           = &Error{Kind: KindNetwork}
	ErrSerialization                     = &Error{Kind: KindSerialization}
	ErrValidation                        = &Error{Kind: KindValidation}
	ErrSuccessful                        = &Error{Kind: KindSuccessful}
	ErrInternalError                     = &Error{Kind: KindInternalError}
	ErrInvalidAPIKey                     = &Error{Kind: KindInvalidAPIKey}
	ErrUserNotActive                     = &Error{Kind: KindUserNotActive}
	ErrTransactionCancelledByCustomer    = &Error{Kind: KindTransactionCancelledByCustomer}
	ErrTransactionFailed                 = &Error{Kind: KindTransactionFailed}
	ErrRequestTimeout                    = &Error{Kind: KindRequestTimeout}
	ErrDuplicateTransaction              = &Error{Kind: KindDuplicateTransaction}
	ErrInvalidShortcode                  = &Error{Kind: KindInvalidShortcode}
	ErrInvalidReference                  = &Error{Kind: KindInvalidReference}
	ErrInvalidAmount                     = &Error{Kind: KindInvalidAmount}
	ErrTemporaryOverload                 = &Error{Kind: KindTemporaryOverload}
	ErrInvalidTransactionReferenceLength = &Error{Kind: KindInvalidTransactionReferenceLength}
	ErrInvalidTransactionID              = &Error{Kind: KindInvalidTransactionID}
	ErrInvalidThirdPartyReference        = &Error{Kind: KindInvalidThirdPartyReference}
	ErrMissingParameters                 = &Error{Kind: KindMissingParameters}
	ErrParameterValidationFailed         = &Error{Kind: KindParameterValidationFailed}
	ErrInvalidOperationType              = &Error{Kind: KindInvalidOperationType}
	ErrUnknownStatus                     = &Error{Kind: KindUnknownStatus}
	ErrInvalidInitiatorIdentifier        = &Error{Kind: KindInvalidInitiatorIdentifier}
	ErrInvalidSecurityCredential         = &Error{Kind: KindInvalidSecurityCredential}
	ErrUnauthorized                      = &Error{Kind: KindUnauthorized}
	ErrDirectDebitMissing                = &Error{Kind: KindDirectDebitMissing}
	ErrDirectDebitAlreadyExists          = &Error{Kind: KindDirectDebitAlreadyExists}
	ErrCustomerProfileProblem            = &Error{Kind: KindCustomerProfileProblem}
	ErrCustomerAccountNotActive          = &Error{Kind: KindCustomerAccountNotActive}
	ErrLinkingTransactionNotFound        = &Error{Kind: KindLinkingTransactionNotFound}
	ErrInvalidMarket                     = &Error{Kind: KindInvalidMarket}
	ErrInitiatorAuthenticationError      = &Error{Kind: KindInitiatorAuthenticationError}
	ErrReceiverInvalid                   = &Error{Kind: KindReceiverInvalid}
	ErrInsufficientBalance               = &Error{Kind: KindInsufficientBalance}
	ErrMSISDNInvalid                     = &Error{Kind: KindMSISDNInvalid}
	ErrLanguageCodeInvalid               = &Error{Kind: KindLanguageCodeInvalid}
)
