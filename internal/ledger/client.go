package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNetworkCongestion = errors.New("network congestion")
	ErrRejected          = errors.New("submission rejected")
)

// Receipt is the ledger's acknowledgement of an accepted submission.
type Receipt struct {
	TxID   string `json:"tx_id"`
	Status string `json:"status"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Client struct {
	rest *resty.Client
	log  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{rest: rest, log: log}
}

// Submit posts one submission. Callers retry on ErrNetworkCongestion;
// ErrInsufficientFunds and ErrRejected are final for the attempt.
func (c *Client) Submit(ctx context.Context, req SubmissionRequest) (Receipt, error) {
	if !common.IsHexAddress(req.Account) {
		return Receipt{}, fmt.Errorf("account %q is not a hex address", req.Account)
	}
	if req.Checksum == "" {
		return Receipt{}, errors.New("submission has no checksum")
	}

	var receipt Receipt
	var body errorBody
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&receipt).
		SetError(&body).
		Post("/v1/submit")
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrNetworkCongestion, err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		if receipt.TxID == "" {
			return Receipt{}, fmt.Errorf("%w: ledger accepted without tx id", ErrRejected)
		}
		if c.log != nil {
			c.log.Info("ledger accepted submission",
				zap.String("decision_id", req.DecisionID),
				zap.String("tx_id", receipt.TxID),
				zap.String("status", receipt.Status))
		}
		return receipt, nil
	case status == 402:
		return Receipt{}, fmt.Errorf("%w: %s", ErrInsufficientFunds, body.Message)
	case status == 429 || status >= 500:
		return Receipt{}, fmt.Errorf("%w: status %d: %s", ErrNetworkCongestion, status, body.Message)
	default:
		return Receipt{}, fmt.Errorf("%w: status %d code %s: %s", ErrRejected, status, body.Code, body.Message)
	}
}
