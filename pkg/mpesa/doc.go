// Package mpesa provides a client for the M-Pesa B2C disbursement API.
//
// A B2C (business-to-customer) disbursement pays money from a business
// shortcode into a customer's mobile wallet, identified by MSISDN.
//
// # Authentication
//
// Every request carries an Authorization bearer credential derived by the
// client's Credentials store:
//   - RSA path: the API key is encrypted with the vendor public key using
//     RSA PKCS#1 v1.5 and base64 encoded. The public key is supplied as the
//     bare base64 body; the store adds the PEM armor.
//   - Access token path: a pre-issued token is sent verbatim.
//
// The RSA path wins when both are configured. If the public key cannot be
// parsed the store silently falls back to the access token, and if there is
// none the client reports ErrNoCredential without sending anything. The
// fallback is deliberate: the key pair may be supplied in any order while a
// client is being assembled.
//
// # Basic Usage
//
//	client := mpesa.NewClient(&mpesa.ClientConfig{
//	    APIKey:    "your-api-key",
//	    PublicKey: "MIICIjANBgkqhkiG9w0BAQEFAAOCAg8AMIICCgKCAgEA...",
//	    Origin:    "developer.mpesa.vm.co.mz",
//	})
//
//	resp, err := client.B2CPayment(ctx, &mpesa.B2CInput{
//	    TransactionReference: "T12344C",
//	    CustomerMSISDN:       "258843330333",
//	    Amount:               "10",
//	    ThirdPartyReference:  mpesa.NewThirdPartyReference(),
//	    ServiceProviderCode:  "171717",
//	})
//
// # Error Handling
//
// A payment succeeds only when the HTTP status is 2xx and the vendor
// response code is INS-0. Everything else is returned as *Error with a Kind:
//
//	resp, err := client.B2CPayment(ctx, input)
//	switch {
//	case errors.Is(err, mpesa.ErrInsufficientBalance):
//	    // top up the float
//	case errors.Is(err, mpesa.ErrDuplicateTransaction):
//	    // already paid
//	case errors.Is(err, mpesa.ErrNetwork):
//	    // transport failure, inspect errors.Unwrap(err)
//	}
//
// Classify is exported for callers that receive vendor responses through
// other channels.
package mpesa
