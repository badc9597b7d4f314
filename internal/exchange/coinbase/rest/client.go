package rest

import (
	"net/http"
	"sync"
	"time"

	"atlasbot/internal/exchange"
	"atlasbot/internal/logger"

	"golang.org/x/time/rate"
)

// publicRate stays under the exchange's per-IP limit for public endpoints.
const (
	publicRate  = 10
	publicBurst = 10
)

type Client struct {
	baseURL    string
	apiKey     string
	secret     string
	passphrase string
	httpClient *http.Client
	log        *logger.Logger
	limiter    *rate.Limiter

	mu       sync.Mutex
	products map[string]exchange.Product
}

// New builds a Coinbase Exchange REST client. Market data endpoints are
// public; order and fee endpoints need apiKey/secret/passphrase.
func New(baseURL, apiKey, secret, passphrase string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		secret:     secret,
		passphrase: passphrase,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(publicRate), publicBurst),
		products: map[string]exchange.Product{},
	}
}

var (
	_ exchange.MarketData  = (*Client)(nil)
	_ exchange.BookSource  = (*Client)(nil)
	_ exchange.OrderClient = (*Client)(nil)
)
