// Package billing verifies purchase tokens against the external billing
// authority, authenticating with a signed service assertion. A timeout or any
// non-2xx answer means "verification failed", never "purchase valid".
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultAPIBase  = "https://androidpublisher.googleapis.com"
	defaultScope    = "https://www.googleapis.com/auth/androidpublisher"

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// verifyTimeout bounds the whole outbound verification exchange.
	verifyTimeout = 15 * time.Second
)

// ErrVerificationFailed covers every non-confirming outcome of the billing
// call: timeouts, transport faults, token-exchange failures, and non-2xx
// lookups. Callers must treat it as "not entitled", never retry-as-valid.
var ErrVerificationFailed = errors.New("purchase verification failed")

// PurchaseInfo is the subset of the billing authority's subscription purchase
// resource the state machine consumes. Nil pointer fields were absent.
type PurchaseInfo struct {
	PaymentState *int
	CancelReason *int
	PeriodStart  time.Time
	PeriodEnd    time.Time
	OrderID      string
}

// Client calls the billing authority's purchase-lookup API.
type Client struct {
	TokenURL    string
	APIBase     string
	Scope       string
	PackageName string
	HTTPClient  *http.Client

	account *ServiceAccount
	nowF    func() time.Time
}

// NewClient returns a billing client for the given app package, authenticating
// as the service account.
func NewClient(account *ServiceAccount, packageName string) *Client {
	return &Client{
		TokenURL:    defaultTokenURL,
		APIBase:     defaultAPIBase,
		Scope:       defaultScope,
		PackageName: packageName,
		HTTPClient:  &http.Client{},
		account:     account,
		nowF:        time.Now,
	}
}

// VerifySubscription looks up the subscription purchase for productID and
// purchaseToken. The exchange is bounded by a 15s deadline; cancellation fails
// closed. Returns ErrVerificationFailed (wrapped) for every non-confirming path.
func (c *Client) VerifySubscription(ctx context.Context, productID, purchaseToken string) (*PurchaseInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	accessToken, err := c.fetchAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	lookupURL := fmt.Sprintf("%s/androidpublisher/v3/applications/%s/purchases/subscriptions/%s/tokens/%s",
		strings.TrimRight(c.APIBase, "/"),
		url.PathEscape(c.PackageName), url.PathEscape(productID), url.PathEscape(purchaseToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup: %v", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: lookup status %d", ErrVerificationFailed, resp.StatusCode)
	}

	var body struct {
		StartTimeMillis  string `json:"startTimeMillis"`
		ExpiryTimeMillis string `json:"expiryTimeMillis"`
		PaymentState     *int   `json:"paymentState"`
		CancelReason     *int   `json:"cancelReason"`
		OrderID          string `json:"orderId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrVerificationFailed, err)
	}

	info := &PurchaseInfo{
		PaymentState: body.PaymentState,
		CancelReason: body.CancelReason,
		PeriodStart:  millisToTime(body.StartTimeMillis),
		PeriodEnd:    millisToTime(body.ExpiryTimeMillis),
		OrderID:      body.OrderID,
	}
	if info.PeriodEnd.IsZero() {
		return nil, fmt.Errorf("%w: response missing expiry", ErrVerificationFailed)
	}
	return info, nil
}

// fetchAccessToken exchanges the signed service assertion for a bearer token.
func (c *Client) fetchAccessToken(ctx context.Context) (string, error) {
	assertion, err := c.signedAssertion(c.nowF())
	if err != nil {
		return "", fmt.Errorf("%w: sign assertion: %v", ErrVerificationFailed, err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: token exchange status %d", ErrVerificationFailed, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrVerificationFailed, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrVerificationFailed)
	}
	return body.AccessToken, nil
}

// millisToTime parses the authority's string-encoded millisecond timestamps.
// Returns the zero time for absent or malformed values.
func millisToTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
