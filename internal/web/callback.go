package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sweeney/scent-dispenser/internal/logic"
	"go.uber.org/zap"
)

// Production outcomes posted to a callback URL.
const (
	CallbackCompleted = "COMPLETED"
	CallbackFailed    = "FAILED"
)

const callbackTimeout = 3 * time.Second

// CallbackPayload is the body POSTed to a production's callback URL when its job ends.
type CallbackPayload struct {
	ProductionID string `json:"productionId"`
	Status       string `json:"status"`
	ErrorReason  string `json:"errorReason,omitempty"`
}

// Callbacks posts production outcomes to their callback URLs. Each post runs
// in its own goroutine so the caller never waits on the network.
type Callbacks struct {
	client *http.Client
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewCallbacks creates a Callbacks. A nil client uses http.DefaultClient.
func NewCallbacks(client *http.Client, logger *zap.Logger) *Callbacks {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Callbacks{client: client, logger: logger}
}

// Report posts COMPLETED when err is nil, FAILED with err as the reason otherwise.
func (cb *Callbacks) Report(p logic.Production, err error) {
	if p.CallbackURL == "" {
		cb.logger.Debug("no callback url", zap.String("production_id", p.ID))
		return
	}
	payload := CallbackPayload{ProductionID: p.ID, Status: CallbackCompleted}
	if err != nil {
		payload.Status = CallbackFailed
		payload.ErrorReason = err.Error()
	}

	cb.wg.Add(1)
	go func() {
		defer cb.wg.Done()
		if err := cb.post(p.CallbackURL, payload); err != nil {
			cb.logger.Warn("production callback failed",
				zap.String("production_id", p.ID),
				zap.String("url", p.CallbackURL),
				zap.Error(err),
			)
			return
		}
		cb.logger.Info("production callback sent",
			zap.String("production_id", p.ID),
			zap.String("status", payload.Status),
		)
	}()
}

func (cb *Callbacks) post(url string, payload CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cb.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %s", resp.Status)
	}
	return nil
}

// Wait blocks until in-flight callbacks have finished or ctx is done.
func (cb *Callbacks) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		cb.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
