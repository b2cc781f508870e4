package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/util"
)

const countryPrefix = "62"

var ErrNotConfigured = errors.New("whatsapp: not configured")

// NormalizePhone turns a local or international number into the digits-only
// form the Cloud API expects, using the Indonesian country prefix.
func NormalizePhone(phone string) string {
	p := strings.NewReplacer("+", "", "-", "", " ", "").Replace(strings.TrimSpace(phone))
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "0"):
		return countryPrefix + p[1:]
	case strings.HasPrefix(p, countryPrefix):
		return p
	default:
		return countryPrefix + p
	}
}

type Client struct {
	baseURL string
	token   string
	phoneID string
	http    *http.Client
}

func NewClient(baseURL, token, phoneID string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		phoneID: phoneID,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.token != "" && c.phoneID != ""
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// SendText delivers a text message to the given number.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	phone := NormalizePhone(to)
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp: status %d: %s", resp.StatusCode, string(body))
	}

	log.Info().Str("to", util.MaskPhone(phone)).Msg("whatsapp message sent")
	return nil
}
