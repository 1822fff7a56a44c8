package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements SessionProvider on the Assistants API:
// a session is a thread, a unit is a run.
type OpenAIClient struct {
	client      *openai.Client
	assistantID string
}

func NewOpenAIClient() *OpenAIClient {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY not set")
	}

	assistantID := os.Getenv("OPENAI_ASSISTANT_ID")
	if assistantID == "" {
		log.Fatal("OPENAI_ASSISTANT_ID not set")
	}

	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		assistantID: assistantID,
	}
}

func (c *OpenAIClient) CreateSession(ctx context.Context, metadata map[string]string) (string, error) {
	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{
		Metadata: toAnyMap(metadata),
	})
	if err != nil {
		return "", wrapErr("create thread", err)
	}

	log.Printf("[ai] thread created id=%s", thread.ID)
	return thread.ID, nil
}

func (c *OpenAIClient) ListUnits(ctx context.Context, sessionID string) ([]Unit, error) {
	limit := 20
	runs, err := c.client.ListRuns(ctx, sessionID, openai.Pagination{Limit: &limit})
	if err != nil {
		return nil, wrapErr("list runs", err)
	}

	out := make([]Unit, 0, len(runs.Runs))
	for _, r := range runs.Runs {
		out = append(out, toUnit(r))
	}
	return out, nil
}

func (c *OpenAIClient) CancelUnit(ctx context.Context, sessionID, unitID string) error {
	_, err := c.client.CancelRun(ctx, sessionID, unitID)
	if err != nil {
		return wrapErr("cancel run", err)
	}
	return nil
}

func (c *OpenAIClient) AppendEntry(ctx context.Context, sessionID, text string, metadata map[string]string) error {
	_, err := c.client.CreateMessage(ctx, sessionID, openai.MessageRequest{
		Role:     openai.ChatMessageRoleUser,
		Content:  text,
		Metadata: toAnyMap(metadata),
	})
	if err != nil {
		return wrapErr("create message", err)
	}
	return nil
}

func (c *OpenAIClient) CreateUnit(ctx context.Context, sessionID, userID string) (string, error) {
	run, err := c.client.CreateRun(ctx, sessionID, openai.RunRequest{
		AssistantID:            c.assistantID,
		AdditionalInstructions: "The user's WhatsApp number is " + userID + ". Do not ask for it again.",
		Metadata:               map[string]any{"user_id": userID},
	})
	if err != nil {
		return "", wrapErr("create run", err)
	}

	log.Printf("[ai] run created id=%s thread=%s", run.ID, sessionID)
	return run.ID, nil
}

func (c *OpenAIClient) GetUnit(ctx context.Context, sessionID, unitID string) (Unit, error) {
	run, err := c.client.RetrieveRun(ctx, sessionID, unitID)
	if err != nil {
		return Unit{}, wrapErr("retrieve run", err)
	}
	return toUnit(run), nil
}

func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, sessionID, unitID string, outputs []ToolOutput) error {
	req := openai.SubmitToolOutputsRequest{
		ToolOutputs: make([]openai.ToolOutput, 0, len(outputs)),
	}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{
			ToolCallID: o.CallID,
			Output:     o.Output,
		})
	}

	_, err := c.client.SubmitToolOutputs(ctx, sessionID, unitID, req)
	if err != nil {
		return wrapErr("submit tool outputs", err)
	}
	return nil
}

func (c *OpenAIClient) ListEntries(ctx context.Context, sessionID string, limit int, order string) ([]Entry, error) {
	list, err := c.client.ListMessage(ctx, sessionID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}

	out := make([]Entry, 0, len(list.Messages))
	for _, m := range list.Messages {
		e := Entry{
			ID:        m.ID,
			Role:      m.Role,
			Text:      firstText(m),
			CreatedAt: int64(m.CreatedAt),
		}
		if m.RunID != nil {
			e.UnitID = *m.RunID
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *OpenAIClient) DeleteEntry(ctx context.Context, sessionID, entryID string) error {
	_, err := c.client.DeleteMessage(ctx, sessionID, entryID)
	if err != nil {
		return wrapErr("delete message", err)
	}
	return nil
}

// ------------------------------------------------------------

func toUnit(r openai.Run) Unit {
	u := Unit{
		ID:     r.ID,
		Status: UnitStatus(r.Status),
	}

	if r.RequiredAction != nil && r.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			u.ToolCalls = append(u.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	if r.LastError != nil {
		u.ErrCode = string(r.LastError.Code)
		u.ErrMessage = r.LastError.Message
	}

	return u
}

func firstText(m openai.Message) string {
	for _, c := range m.Content {
		if c.Text != nil {
			return c.Text.Value
		}
	}
	return ""
}

func toAnyMap(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// wrapErr maps provider failures onto the package sentinels so the
// orchestrator can classify without importing openai.
func wrapErr(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case isActiveRunMessage(apiErr.Message):
			return fmt.Errorf("%s: %w: %s", op, ErrActiveUnit, apiErr.Message)
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%s: %w: %s", op, ErrRateLimited, apiErr.Message)
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return fmt.Errorf("%s: %w: %s", op, ErrInvalidConfig, apiErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// OpenAI rejects thread mutations with a 400 whose message reads
// "Can't add messages to thread_X while a run run_Y is active."
func isActiveRunMessage(msg string) bool {
	return strings.Contains(msg, "while a run") && strings.Contains(msg, "is active")
}
