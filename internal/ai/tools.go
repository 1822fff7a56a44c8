package ai

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// ToolFunc computes one tool output. args is the raw JSON arguments
// string the assistant supplied.
type ToolFunc func(ctx context.Context, args string) (string, error)

// ToolSet resolves the assistant's tool calls. Unknown tools produce an
// error-string output instead of failing the round, so a hallucinated
// tool name cannot stall the run.
type ToolSet struct {
	funcs map[string]ToolFunc
}

func NewToolSet() *ToolSet {
	ts := &ToolSet{funcs: make(map[string]ToolFunc)}
	ts.Register("current_time", currentTimeTool)
	return ts
}

func (t *ToolSet) Register(name string, fn ToolFunc) {
	t.funcs[name] = fn
}

// Run services pending tool calls and returns one output per call,
// in the same order.
func (t *ToolSet) Run(ctx context.Context, calls []ToolCall) []ToolOutput {
	outputs := make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, ToolOutput{
			CallID: call.ID,
			Output: t.runOne(ctx, call),
		})
	}
	return outputs
}

func (t *ToolSet) runOne(ctx context.Context, call ToolCall) string {
	fn, ok := t.funcs[call.Name]
	if !ok {
		log.Printf("[ai] unknown tool requested name=%s", call.Name)
		return `{"error":"unknown tool: ` + call.Name + `"}`
	}

	out, err := fn(ctx, call.Arguments)
	if err != nil {
		log.Printf("[ai] tool %s error: %v", call.Name, err)
		return `{"error":"tool failed"}`
	}
	return out
}

func currentTimeTool(_ context.Context, args string) (string, error) {
	var req struct {
		Timezone string `json:"timezone"`
	}
	_ = json.Unmarshal([]byte(args), &req)

	loc := time.UTC
	if req.Timezone != "" {
		if l, err := time.LoadLocation(req.Timezone); err == nil {
			loc = l
		}
	}

	b, err := json.Marshal(map[string]string{
		"now": time.Now().In(loc).Format(time.RFC3339),
	})
	return string(b), err
}
