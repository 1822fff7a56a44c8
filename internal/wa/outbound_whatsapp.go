package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// One friendly line per error class. The orchestrator only supplies the
// class; wording is an outbound concern so operators can tune it
// without touching the pipeline.
var errorNotices = map[ErrorClass]string{
	ClassRateLimited:       "I'm getting a lot of messages right now. Give me a minute and try again.",
	ClassConfigInvalid:     "Something is misconfigured on our side. The team has been notified.",
	ClassTimeout:           "That took longer than expected. Please send your message again.",
	ClassConflictExhausted: "I couldn't finish processing that. Please try again in a moment.",
	ClassToolLoopExhausted: "I got stuck working on that request. Please rephrase and try again.",
	ClassRemoteFailed:      "Something went wrong on my end. Please try again shortly.",
}

type MetaOutbound struct {
	baseURL string
	token   string
	phoneID string
	client  *http.Client
}

func NewMetaOutbound() *MetaOutbound {
	token := strings.TrimSpace(os.Getenv("WHATSAPP_TOKEN"))
	if token == "" {
		panic("WHATSAPP_TOKEN not set")
	}

	phoneID := strings.TrimSpace(os.Getenv("WHATSAPP_PHONE_ID"))
	if phoneID == "" {
		panic("WHATSAPP_PHONE_ID not set")
	}

	return &MetaOutbound{
		baseURL: "https://graph.facebook.com/v19.0",
		token:   token,
		phoneID: phoneID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendText delivers one reply. An empty reply is a completed turn where
// the assistant had nothing to say; the Graph API rejects empty bodies,
// so it is logged and skipped here.
func (c *MetaOutbound) SendText(ctx context.Context, userID string, text string) error {
	if strings.TrimSpace(text) == "" {
		log.Printf("[wa] user=%s empty reply, nothing to deliver", userID)
		return nil
	}

	return c.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                userID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
}

func (c *MetaOutbound) SendErrorNotice(ctx context.Context, userID string, class ErrorClass) error {
	notice, ok := errorNotices[class]
	if !ok {
		notice = errorNotices[ClassRemoteFailed]
	}
	return c.SendText(ctx, userID, notice)
}

func (c *MetaOutbound) send(ctx context.Context, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/"+c.phoneID+"/messages",
		bytes.NewReader(b),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.New(
			"graph api error: " +
				resp.Status +
				" body=" + string(respBody),
		)
	}

	return nil
}
