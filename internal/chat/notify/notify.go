// Package notify delivers best-effort new-message email notifications
// through a hosted template-send endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/foundline/chat/internal/chat/domain"
)

type sendRequest struct {
	TemplateParams templateParams `json:"template_params"`
}

type templateParams struct {
	ToEmail  string `json:"to_email"`
	ToName   string `json:"to_name"`
	FromName string `json:"from_name"`
	Message  string `json:"message"`
}

// Emailer posts notification template parameters to a send endpoint.
type Emailer struct {
	endpoint string
	client   *http.Client
}

// NewEmailer creates a notifier that POSTs to the given endpoint.
func NewEmailer(endpoint string, client *http.Client) *Emailer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Emailer{endpoint: endpoint, client: client}
}

// NotifyNewMessage sends one new-message notification.
func (e *Emailer) NotifyNewMessage(ctx context.Context, notification domain.NewMessageNotification) error {
	body, err := json.Marshal(sendRequest{
		TemplateParams: templateParams{
			ToEmail:  notification.RecipientEmail,
			ToName:   notification.RecipientName,
			FromName: notification.SenderName,
			Message:  notification.Preview,
		},
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}
