package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer creates a test server that checks the request shape and answers
// with the given status and body
func mockServer(t *testing.T, validate func(r *http.Request, body map[string]string), status int, response string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DefaultB2CPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		if validate != nil {
			validate(r, body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
}

// newTestClient creates a client on the access-token path
func newTestClient(baseURL string) *Client {
	return NewClient(&ClientConfig{
		BaseURL:     baseURL,
		AccessToken: testAccessToken,
		Timeout:     5 * time.Second,
	})
}

func testInput() *B2CInput {
	return &B2CInput{
		TransactionReference: "T12344C",
		CustomerMSISDN:       "258843330333",
		Amount:               "10",
		ThirdPartyReference:  "11114",
		ServiceProviderCode:  "171717",
	}
}

func envelope(code, desc string) string {
	raw, _ := json.Marshal(PaymentResponse{
		ConversationID:      "d3f2a1b0c9e8",
		ResponseCode:        code,
		ResponseDesc:        desc,
		ThirdPartyReference: "11114",
		TransactionID:       "49xvm3r2sh",
	})
	return string(raw)
}

func TestB2CPayment_Success(t *testing.T) {
	server := mockServer(t, func(r *http.Request, body map[string]string) {
		assert.Equal(t, "Bearer "+testAccessToken, r.Header.Get("Authorization"))
		assert.Equal(t, map[string]string{
			"input_TransactionReference": "T12344C",
			"input_CustomerMSISDN":       "258843330333",
			"input_Amount":               "10",
			"input_ThirdPartyReference":  "11114",
			"input_ServiceProviderCode":  "171717",
		}, body)
	}, http.StatusCreated, envelope(CodeSuccess, "Request processed successfully"))
	defer server.Close()

	result, err := newTestClient(server.URL).B2CPayment(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "49xvm3r2sh", result.TransactionID)
	assert.Equal(t, "d3f2a1b0c9e8", result.ConversationID)
	assert.Equal(t, "11114", result.ThirdPartyReference)
	assert.True(t, result.IsSuccess())
}

func TestB2CPayment_RSACredential(t *testing.T) {
	key, body := testKeyPair(t)

	var auth string
	server := mockServer(t, func(r *http.Request, _ map[string]string) {
		auth = r.Header.Get("Authorization")
	}, http.StatusOK, envelope(CodeSuccess, "Request processed successfully"))
	defer server.Close()

	client := NewClient(&ClientConfig{
		BaseURL:     server.URL,
		APIKey:      testAPIKey,
		PublicKey:   body,
		AccessToken: testAccessToken,
	})
	_, err := client.B2CPayment(context.Background(), testInput())
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(auth, "Bearer "))
	assert.Equal(t, testAPIKey, decryptToken(t, key, strings.TrimPrefix(auth, "Bearer ")))
}

func TestB2CPayment_BusinessFailureOnHTTPSuccess(t *testing.T) {
	server := mockServer(t, nil, http.StatusOK, envelope(CodeInvalidAmount, "Invalid Amount Used"))
	defer server.Close()

	result, err := newTestClient(server.URL).B2CPayment(context.Background(), testInput())
	assert.Nil(t, result)
	require.Error(t, err)

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, KindSuccessful, classified.Kind)
	assert.Equal(t, http.StatusOK, classified.StatusCode)
	assert.Equal(t, "Invalid Amount Used", classified.Description)
	require.NotNil(t, classified.Response)
	assert.Equal(t, CodeInvalidAmount, classified.Response.ResponseCode)
}

func TestB2CPayment_ClassifiedFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   *Error
	}{
		{"invalid api key", http.StatusUnauthorized, envelope(CodeInvalidAPIKey, "Invalid API Key"), ErrInvalidAPIKey},
		{"unauthorized", http.StatusUnauthorized, envelope(CodeUnauthorized, "Invalid Token"), ErrUnauthorized},
		{"duplicate", http.StatusConflict, envelope(CodeDuplicateTransaction, "Duplicate Transaction"), ErrDuplicateTransaction},
		{"invalid msisdn", http.StatusBadRequest, envelope(CodeMSISDNInvalid, "MSISDN Invalid"), ErrMSISDNInvalid},
		{"insufficient balance", http.StatusUnprocessableEntity, envelope(CodeInsufficientBalance, "Not enough balance"), ErrInsufficientBalance},
		{"overload", http.StatusServiceUnavailable, "Service Unavailable", ErrTemporaryOverload},
		{"internal", http.StatusInternalServerError, "", ErrInternalError},
		{"timeout", http.StatusRequestTimeout, envelope(CodeRequestTimeout, "Request timeout"), ErrRequestTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockServer(t, nil, tt.status, tt.body)
			defer server.Close()

			_, err := newTestClient(server.URL).B2CPayment(context.Background(), testInput())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var classified *Error
			require.True(t, errors.As(err, &classified))
			assert.Equal(t, tt.status, classified.StatusCode)
		})
	}
}

func TestB2CPayment_UnknownFailureIsOther(t *testing.T) {
	server := mockServer(t, nil, http.StatusTeapot, "Unknown Error")
	defer server.Close()

	_, err := newTestClient(server.URL).B2CPayment(context.Background(), testInput())

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, KindOther, classified.Kind)
	assert.Equal(t, http.StatusTeapot, classified.StatusCode)
	assert.Equal(t, "Unknown Error", classified.Description)
	assert.Nil(t, classified.Response)
}

func TestB2CPayment_UnknownCodeUnderKnownStatus(t *testing.T) {
	server := mockServer(t, nil, http.StatusBadRequest, envelope("INS-777", "Something new"))
	defer server.Close()

	_, err := newTestClient(server.URL).B2CPayment(context.Background(), testInput())

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, KindOther, classified.Kind)
	assert.Equal(t, "INS-777", classified.Description)
	require.NotNil(t, classified.Response)
	assert.Equal(t, "Something new", classified.Response.ResponseDesc)
}

func TestB2CPayment_MalformedSuccessBody(t *testing.T) {
	server := mockServer(t, nil, http.StatusOK, "{not json")
	defer server.Close()

	_, err := newTestClient(server.URL).B2CPayment(context.Background(), testInput())
	assert.ErrorIs(t, err, ErrSerialization)

	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
}

func TestB2CPayment_NoCredential(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(&ClientConfig{BaseURL: server.URL, APIKey: testAPIKey})
	_, err := client.B2CPayment(context.Background(), testInput())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.False(t, called, "no request may be sent without a credential")
}

func TestB2CPayment_Validation(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")

	for name, mutate := range map[string]func(*B2CInput){
		"missing reference":   func(in *B2CInput) { in.TransactionReference = "" },
		"non numeric msisdn":  func(in *B2CInput) { in.CustomerMSISDN = "25884abc" },
		"zero amount":         func(in *B2CInput) { in.Amount = "0" },
		"negative amount":     func(in *B2CInput) { in.Amount = "-5" },
		"text amount":         func(in *B2CInput) { in.Amount = "ten" },
		"missing third party": func(in *B2CInput) { in.ThirdPartyReference = "" },
		"missing shortcode":   func(in *B2CInput) { in.ServiceProviderCode = "" },
	} {
		t.Run(name, func(t *testing.T) {
			input := testInput()
			mutate(input)
			_, err := client.B2CPayment(context.Background(), input)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestB2CPayment_HeadersAndParameters(t *testing.T) {
	server := mockServer(t, func(r *http.Request, body map[string]string) {
		assert.Equal(t, "developer.mpesa.vm.co.mz", r.Header.Get("Origin"))
		assert.Equal(t, "abc-123", r.Header.Get("X-Request-ID"))
		assert.Equal(t, "Payout", body["input_PurchasedItemsDesc"])
		// Mandated fields win over same-named parameters.
		assert.Equal(t, "10", body["input_Amount"])
	}, http.StatusCreated, envelope(CodeSuccess, "ok"))
	defer server.Close()

	client := NewClient(&ClientConfig{
		BaseURL:     server.URL,
		AccessToken: testAccessToken,
		Origin:      "developer.mpesa.vm.co.mz",
	})
	client.AddHeader("X-Request-ID", "abc-123")
	client.AddParameter("input_PurchasedItemsDesc", "Payout")
	client.AddParameter("input_Amount", "99999")

	_, err := client.B2CPayment(context.Background(), testInput())
	require.NoError(t, err)
}

func TestB2CPayment_KeyRotation(t *testing.T) {
	var seen []string
	server := mockServer(t, func(r *http.Request, _ map[string]string) {
		seen = append(seen, r.Header.Get("Authorization"))
	}, http.StatusCreated, envelope(CodeSuccess, "ok"))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.B2CPayment(context.Background(), testInput())
	require.NoError(t, err)

	client.Credentials().SetAccessToken("rotated-token")
	_, err = client.B2CPayment(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer " + testAccessToken, "Bearer rotated-token"}, seen)
}

func TestClient_NetworkError(t *testing.T) {
	// Use invalid URL to simulate network error
	client := NewClient(&ClientConfig{
		BaseURL:     "http://localhost:99999",
		AccessToken: testAccessToken,
		Timeout:     1 * time.Second,
	})

	_, err := client.B2CPayment(context.Background(), testInput())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server.URL).B2CPayment(ctx, testInput())
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, DefaultBaseURL, config.BaseURL)
	assert.Equal(t, DefaultB2CPath, config.B2CPath)
	assert.Equal(t, DefaultUserAgent, config.UserAgent)
	assert.Equal(t, 30*time.Second, config.Timeout)
}

func TestNewClientWithHTTPClient(t *testing.T) {
	customClient := &http.Client{
		Timeout: 60 * time.Second,
	}

	client := NewClientWithHTTPClient(&ClientConfig{AccessToken: "token"}, customClient)

	assert.Same(t, customClient, client.httpClient)
	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.Equal(t, DefaultB2CPath, client.config.B2CPath)
}

func TestNewThirdPartyReference(t *testing.T) {
	first := NewThirdPartyReference()
	second := NewThirdPartyReference()

	assert.Len(t, first, 12)
	assert.Regexp(t, `^[0-9A-F]{12}$`, first)
	assert.NotEqual(t, first, second)
}
