package mpesa

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_KnownTable(t *testing.T) {
	tests := []struct {
		status      int
		description string
		want        Kind
	}{
		{200, "Request processed successfully", KindSuccessful},
		{201, "Created", KindSuccessful},
		{500, "INS-1", KindInternalError},
		{401, "INS-2", KindInvalidAPIKey},
		{401, "INS-4", KindUserNotActive},
		{401, "INS-5", KindTransactionCancelledByCustomer},
		{401, "INS-6", KindTransactionFailed},
		{401, "INS-26", KindUnauthorized},
		{408, "INS-9", KindRequestTimeout},
		{409, "INS-10", KindDuplicateTransaction},
		{400, "INS-13", KindInvalidShortcode},
		{400, "INS-14", KindInvalidReference},
		{400, "INS-15", KindInvalidAmount},
		{400, "INS-17", KindInvalidTransactionReferenceLength},
		{400, "INS-18", KindInvalidTransactionID},
		{400, "INS-19", KindInvalidThirdPartyReference},
		{400, "INS-20", KindMissingParameters},
		{400, "INS-21", KindParameterValidationFailed},
		{400, "INS-22", KindInvalidOperationType},
		{400, "INS-23", KindUnknownStatus},
		{400, "INS-24", KindInvalidInitiatorIdentifier},
		{400, "INS-25", KindInvalidSecurityCredential},
		{400, "INS-993", KindDirectDebitMissing},
		{400, "INS-994", KindDirectDebitAlreadyExists},
		{400, "INS-995", KindCustomerProfileProblem},
		{400, "INS-996", KindCustomerAccountNotActive},
		{400, "INS-997", KindLinkingTransactionNotFound},
		{400, "INS-998", KindInvalidMarket},
		{400, "INS-2001", KindInitiatorAuthenticationError},
		{400, "INS-2002", KindReceiverInvalid},
		{400, "INS-2051", KindMSISDNInvalid},
		{400, "INS-2057", KindLanguageCodeInvalid},
		{503, "INS-16", KindTemporaryOverload},
		{422, "INS-2006", KindInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.description), func(t *testing.T) {
			got := Classify(tt.status, tt.description)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, tt.description, got.Description)
		})
	}
}

func TestClassify_SubTableSizes(t *testing.T) {
	assert.Len(t, classificationTable[400].byCode, 22)
	assert.Len(t, classificationTable[401].byCode, 5)
}

func TestClassify_Examples(t *testing.T) {
	assert.Equal(t, &Error{Kind: KindSuccessful, StatusCode: 200, Description: "x"}, Classify(200, "x"))
	assert.Equal(t, KindInvalidAPIKey, Classify(401, "INS-2").Kind)
	assert.Equal(t, KindLanguageCodeInvalid, Classify(400, "INS-2057").Kind)
	assert.Equal(t, &Error{Kind: KindOther, StatusCode: 999, Description: "Unknown Error"}, Classify(999, "Unknown Error"))
}

func TestClassify_StatusOnlyIgnoresDescription(t *testing.T) {
	for _, description := range []string{"", "INS-2", "anything at all", "INS-2057"} {
		assert.Equal(t, KindTemporaryOverload, Classify(503, description).Kind)
		assert.Equal(t, KindInsufficientBalance, Classify(422, description).Kind)
		assert.Equal(t, KindDuplicateTransaction, Classify(409, description).Kind)
		assert.Equal(t, KindRequestTimeout, Classify(408, description).Kind)
		assert.Equal(t, KindInternalError, Classify(500, description).Kind)
	}
}

func TestClassify_UnknownCodeUnderKeyedStatus(t *testing.T) {
	got := Classify(400, "INS-9999")
	assert.Equal(t, KindOther, got.Kind)
	assert.Equal(t, 400, got.StatusCode)
	assert.Equal(t, "INS-9999", got.Description)

	// Codes are not shared between the 400 and 401 sub-tables.
	assert.Equal(t, KindOther, Classify(401, "INS-13").Kind)
	assert.Equal(t, KindOther, Classify(400, "INS-2").Kind)
}

func TestClassify_Total(t *testing.T) {
	descriptions := []string{"", "INS-0", "INS-2", "INS-15", "garbage", "{\"output_ResponseCode\":\"INS-2\"}"}
	for status := 0; status < 1000; status++ {
		for _, description := range descriptions {
			got := Classify(status, description)
			require.NotNil(t, got)
			assert.Equal(t, status, got.StatusCode)
			assert.Equal(t, description, got.Description)
			assert.Equal(t, got, Classify(status, description))
		}
	}
}

func TestKind_CodeRoundTrip(t *testing.T) {
	for status, rule := range classificationTable {
		for code, kind := range rule.byCode {
			assert.Equal(t, code, kind.Code())
			assert.Equal(t, kind, Classify(status, kind.Code()).Kind)
		}
	}
	assert.Empty(t, KindTemporaryOverload.Code())
	assert.Empty(t, KindOther.Code())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "InvalidAPIKey", KindInvalidAPIKey.String())
	assert.Equal(t, "Other", KindOther.String())
	assert.Equal(t, "Kind(1000)", Kind(1000).String())
	for kind := KindOther; kind <= KindLanguageCodeInvalid; kind++ {
		assert.NotContains(t, kind.String(), "Kind(")
	}
}

func TestError_Is(t *testing.T) {
	err := error(Classify(401, "INS-2"))
	assert.True(t, errors.Is(err, ErrInvalidAPIKey))
	assert.False(t, errors.Is(err, ErrUnauthorized))

	wrapped := fmt.Errorf("payout failed: %w", Classify(422, "INS-2006"))
	assert.True(t, errors.Is(wrapped, ErrInsufficientBalance))

	var classified *Error
	require.True(t, errors.As(wrapped, &classified))
	assert.Equal(t, 422, classified.StatusCode)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := newError(KindNetwork, cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, "mpesa: NetworkError: connection refused", err.Error())
}

func TestError_Messages(t *testing.T) {
	assert.Equal(t, `mpesa: Successful("done")`, Classify(200, "done").Error())
	assert.Equal(t, `mpesa: Other(999, "Unknown Error")`, Classify(999, "Unknown Error").Error())
	assert.Equal(t, "mpesa: InvalidAPIKey", Classify(401, "INS-2").Error())
	assert.Equal(t, "mpesa: SerializationError", ErrSerialization.Error())
}
