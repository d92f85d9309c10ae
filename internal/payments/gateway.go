package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ecomtools/marketplace-payments/internal/domain"
)

// Currency is the single settlement currency supported by the platform.
const Currency = "EUR"

// Amount is the provider's money representation: a fixed-point decimal
// string plus an ISO currency code.
type Amount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type paymentLinks struct {
	Checkout struct {
		Href string `json:"href"`
	} `json:"checkout"`
}

// RemotePayment is the provider's view of a payment. The local system
// holds it only as a cached copy; authoritative state must be re-fetched
// from the provider before acting on a webhook.
type RemotePayment struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Amount      Amount         `json:"amount"`
	Description string         `json:"description"`
	Method      string         `json:"method,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Links       paymentLinks   `json:"_links"`

	// Raw is the provider's response body verbatim, stored on the
	// order as payment_details.
	Raw json.RawMessage `json:"-"`
}

func (p *RemotePayment) CheckoutURL() string {
	return p.Links.Checkout.Href
}

// GatewayClient wraps the payment provider's HTTP API.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	webhookURL string
	httpClient *http.Client
}

func NewGatewayClient(baseURL, apiKey, webhookURL string, httpClient *http.Client) *GatewayClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GatewayClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

type createPaymentRequest struct {
	Amount      Amount            `json:"amount"`
	Description string            `json:"description"`
	RedirectURL string            `json:"redirectUrl"`
	WebhookURL  string            `json:"webhookUrl"`
	Metadata    map[string]string `json:"metadata"`
}

// CreatePayment opens a payment with the provider, embedding the order
// identifier as correlation metadata and registering the webhook URL
// for asynchronous status notifications.
func (c *GatewayClient) CreatePayment(ctx context.Context, amount float64, orderID, description, redirectURL string) (*RemotePayment, error) {
	body := createPaymentRequest{
		Amount: Amount{
			Currency: Currency,
			Value:    strconv.FormatFloat(amount, 'f', 2, 64),
		},
		Description: description,
		RedirectURL: redirectURL,
		WebhookURL:  c.webhookURL,
		Metadata:    map[string]string{"orderId": orderID},
	}

	return c.do(ctx, http.MethodPost, c.baseURL+"/v2/payments", &body, "create payment")
}

// GetPayment fetches the current authoritative state of a payment.
func (c *GatewayClient) GetPayment(ctx context.Context, paymentID string) (*RemotePayment, error) {
	return c.do(ctx, http.MethodGet, c.baseURL+"/v2/payments/"+paymentID, nil, "get payment")
}

func (c *GatewayClient) do(ctx context.Context, method, url string, body any, op string) (*RemotePayment, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.GatewayError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.GatewayError{Op: op, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.GatewayError{Op: op, Err: err}
	}

	var payment RemotePayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, &domain.GatewayError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	payment.Raw = raw

	return &payment, nil
}
