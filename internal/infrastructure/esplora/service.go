package esplora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ArkLabsHQ/deadman/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const (
	DefaultRetry   = 10
	DefaultTimeout = 100 * time.Second

	defaultBackoff  = 2 * time.Second
	defaultFeeRate  = 2.0
	feeRateTarget   = "6"
	maxErrorMsgSize = 512
)

// Config of the esplora client. Proxy is an optional socks5 url.
type Config struct {
	Url     string
	Proxy   string
	Retry   int
	Timeout time.Duration
	// Backoff between two attempts, defaults to 2 seconds.
	Backoff time.Duration
}

type service struct {
	baseUrl string
	client  *http.Client
	retry   int
	backoff time.Duration
}

// httpError is returned for non 2xx responses.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.msg)
}

func NewService(cfg Config) (ports.WalletBackend, error) {
	if _, err := url.ParseRequestURI(cfg.Url); err != nil {
		return nil, fmt.Errorf("invalid esplora url: %w", err)
	}
	if cfg.Retry < 0 {
		return nil, fmt.Errorf("invalid retry count %d", cfg.Retry)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if len(cfg.Proxy) > 0 {
		proxyUrl, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		dialer, err := proxy.FromURL(proxyUrl, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy dialer does not support context")
		}
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return contextDialer.DialContext(ctx, network, addr)
		}
	}

	return &service{
		baseUrl: strings.TrimRight(cfg.Url, "/"),
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		retry:   cfg.Retry,
		backoff: cfg.Backoff,
	}, nil
}

func (s *service) GetBlockHeight(ctx context.Context) (uint32, error) {
	body, err := s.get(ctx, "blocks", "tip", "height")
	if err != nil {
		return 0, fmt.Errorf("get height: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse height: %w", err)
	}
	return uint32(n), nil
}

func (s *service) GetAddressTxCount(ctx context.Context, address string) (int, error) {
	body, err := s.get(ctx, "address", address)
	if err != nil {
		return 0, fmt.Errorf("get address %s: %w", address, err)
	}

	var stats struct {
		ChainStats struct {
			TxCount int `json:"tx_count"`
		} `json:"chain_stats"`
		MempoolStats struct {
			TxCount int `json:"tx_count"`
		} `json:"mempool_stats"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		return 0, fmt.Errorf("parse address %s: %w", address, err)
	}
	return stats.ChainStats.TxCount + stats.MempoolStats.TxCount, nil
}

type utxo struct {
	Txid   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Amount uint64 `json:"value"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint32 `json:"block_height"`
	} `json:"status"`
}

func (s *service) GetUtxos(ctx context.Context, address string) ([]ports.Utxo, error) {
	body, err := s.get(ctx, "address", address, "utxo")
	if err != nil {
		return nil, fmt.Errorf("get utxos of %s: %w", address, err)
	}

	payload := make([]utxo, 0)
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse utxos of %s: %w", address, err)
	}

	utxos := make([]ports.Utxo, 0, len(payload))
	for _, u := range payload {
		utxos = append(utxos, ports.Utxo{
			Txid:        u.Txid,
			Vout:        u.Vout,
			Amount:      u.Amount,
			Confirmed:   u.Status.Confirmed,
			BlockHeight: u.Status.BlockHeight,
		})
	}
	return utxos, nil
}

func (s *service) GetFeeRate(ctx context.Context) (float64, error) {
	body, err := s.get(ctx, "fee-estimates")
	if err != nil {
		return 0, fmt.Errorf("get fee estimates: %w", err)
	}

	response := make(map[string]float64)
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("parse fee estimates: %w", err)
	}
	if len(response) == 0 {
		log.Debugf("empty fee-estimates response, default to %.0f sat/vbyte", defaultFeeRate)
		return defaultFeeRate, nil
	}
	if feeRate, ok := response[feeRateTarget]; ok {
		return feeRate, nil
	}
	return response["1"], nil
}

func (s *service) Broadcast(ctx context.Context, txHex string) (string, error) {
	body, err := s.do(ctx, http.MethodPost, []byte(txHex), "tx")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (s *service) get(ctx context.Context, elems ...string) ([]byte, error) {
	return s.do(ctx, http.MethodGet, nil, elems...)
}

// do sends the request, retrying on network errors and 5xx responses.
func (s *service) do(
	ctx context.Context, method string, payload []byte, elems ...string,
) ([]byte, error) {
	endpoint, err := url.JoinPath(s.baseUrl, elems...)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.retry; attempt++ {
		if attempt > 0 {
			log.WithError(lastErr).Debugf(
				"request to %s failed, retrying (%d/%d)", endpoint, attempt, s.retry,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff):
			}
		}

		body, err := s.send(ctx, method, endpoint, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if httpErr, ok := err.(*httpError); ok && httpErr.status < 500 {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (s *service) send(
	ctx context.Context, method, endpoint string, payload []byte,
) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorMsgSize {
			msg = msg[:maxErrorMsgSize]
		}
		return nil, &httpError{resp.StatusCode, msg}
	}
	return body, nil
}
