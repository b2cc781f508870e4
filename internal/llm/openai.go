package llm

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
)

const (
	maxReplyTokens     = 500
	replyTemperature   = 0.8
	maxDocumentContext = 10000
)

var (
	ErrNotConfigured = errors.New("llm: not configured")
	ErrEmptyReply    = errors.New("llm: empty reply")
)

// FallbackReply is sent to the customer when no reply could be generated.
const FallbackReply = "Maaf, saya sedang mengalami gangguan. Silakan coba lagi nanti."

const chatSystemPrompt = `Anda adalah Interactive Call Agent AI untuk Warteg OPET yang berkomunikasi melalui WhatsApp.
Selalu merespons dalam bahasa Indonesia dengan ramah dan informatif.

FITUR PEMESANAN MAKANAN:
Jika pelanggan ingin memesan makanan, bantu mereka dengan menanyakan:
1. Nama lengkap
2. Email
3. Nomor telepon (sudah ada dari WhatsApp)
4. Item yang dipesan (nama, jumlah, harga)
5. Waktu pengiriman yang diinginkan
6. Alamat pengiriman
7. Catatan khusus

KONFIRMASI PESANAN: Setelah semua informasi lengkap, katakan 'ORDER_CONFIRMED' diikuti detail dalam format: NAMA|TELEPON|EMAIL|ALAMAT|ITEM1,ITEM2|TOTAL|CATATAN

HUMAN TAKEOVER: Katakan 'TRANSFER_TO_HUMAN' untuk transfer ke staff.`

// SystemPrompt builds the chat instructions, grounded on the menu text when
// one is selected.
func SystemPrompt(document string) string {
	if document == "" {
		return chatSystemPrompt
	}
	if len(document) > maxDocumentContext {
		document = document[:maxDocumentContext]
	}
	return chatSystemPrompt +
		"\n\nSumber data dari PDF (MENU MAKANAN):\n" + document +
		"\n\nGunakan informasi menu ini untuk membantu pelanggan memilih makanan dan menghitung total harga pesanan."
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Responder generates chat replies through the OpenAI chat completions API.
type Responder struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewResponder(baseURL, apiKey, model string, timeout time.Duration) *Responder {
	return &Responder{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *Responder) Configured() bool {
	return r != nil && r.apiKey != ""
}

// Reply answers one customer message. document is the current menu text and
// may be empty.
func (r *Responder) Reply(ctx context.Context, userMessage, document string) (string, error) {
	if !r.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(document)},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   maxReplyTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyReply
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
