package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"
)

const resendAPIURL = "https://api.resend.com/emails"

// Client is an email client using Resend
type Client struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

// NewClient creates a new email client
func NewClient(apiKey, from string) *Client {
	return &Client{
		apiKey:   apiKey,
		from:     from,
		endpoint: resendAPIURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithEndpoint points the client at another Resend compatible API
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

// Configured reports whether an API key is set
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Email represents an email to send
type Email struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// resendRequest is the request body for Resend API
type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// resendResponse is the response from Resend API
type resendResponse struct {
	ID string `json:"id"`
}

// resendError is an error response from Resend API
type resendError struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// Send sends an email and returns its Resend id
func (c *Client) Send(ctx context.Context, email Email) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("email not configured: missing RESEND_API_KEY")
	}

	jsonBody, err := json.Marshal(resendRequest{
		From:    c.from,
		To:      email.To,
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp resendError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Name != "" {
			return "", fmt.Errorf("resend error: %s - %s", errResp.Name, errResp.Message)
		}
		return "", fmt.Errorf("resend error: status %d - %s", resp.StatusCode, string(body))
	}

	var result resendResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return result.ID, nil
}

// ActionNeeded describes a phase that waits on the client
type ActionNeeded struct {
	To           string
	ClientName   string
	PhaseTitle   string
	NextFromYou  string // optional
	DashboardURL string // optional
}

var actionNeededHTML = template.Must(template.New("action").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .box { background: #f3f4f6; border-radius: 12px; padding: 24px; margin: 24px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h2>Hi {{.ClientName}}, we need something from you</h2>
        <p>Your project is waiting on you in <strong>{{.PhaseTitle}}</strong>.</p>
        {{if .NextFromYou}}<div class="box">{{.NextFromYou}}</div>{{end}}
        {{if .DashboardURL}}<p><a href="{{.DashboardURL}}">Open your build tracker</a></p>{{end}}
        <div class="footer">
            <p>Klarnow<br>This is an automated message, please do not reply.</p>
        </div>
    </div>
</body>
</html>`))

// SendActionNeeded tells a client that a phase is waiting on them
func (c *Client) SendActionNeeded(ctx context.Context, msg ActionNeeded) error {
	var html bytes.Buffer
	if err := actionNeededHTML.Execute(&html, msg); err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\nYour project is waiting on you in %s.\n", msg.ClientName, msg.PhaseTitle)
	if msg.NextFromYou != "" {
		fmt.Fprintf(&text, "\n%s\n", msg.NextFromYou)
	}
	if msg.DashboardURL != "" {
		fmt.Fprintf(&text, "\nOpen your build tracker: %s\n", msg.DashboardURL)
	}
	text.WriteString("\nKlarnow")

	_, err := c.Send(ctx, Email{
		To:      []string{msg.To},
		Subject: "Action needed: " + msg.PhaseTitle,
		HTML:    html.String(),
		Text:    text.String(),
	})
	return err
}
