package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/signals"
)

// PartialOutputError carries text the provider streamed before failing,
// so the retry turn can ask the model to continue instead of restart.
type PartialOutputError struct {
	Cause       error
	PartialText string
}

func (e *PartialOutputError) Error() string {
	return fmt.Sprintf("stream failed after partial output: %v", e.Cause)
}

func (e *PartialOutputError) Unwrap() error { return e.Cause }

// collectResponse drains one Generate stream into an LLMResponse.
// Text deltas are forwarded to onText as they arrive. An error chunk
// aborts collection; any text already streamed rides the error.
func collectResponse(ctx context.Context, llm agent.LLMClient, input *agent.GenerateInput, onText func(string)) (*agent.LLMResponse, error) {
	stream, err := llm.Generate(ctx, input)
	if err != nil {
		return nil, err
	}

	resp := &agent.LLMResponse{}
	var text strings.Builder
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				resp.Text = text.String()
				return resp, nil
			}
			switch c := chunk.(type) {
			case *agent.TextChunk:
				text.WriteString(c.Content)
				if onText != nil {
					onText(c.Content)
				}
			case *agent.ToolCallChunk:
				callID := c.CallID
				if callID == "" {
					callID = uuid.New().String()
				}
				resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
					ID:        callID,
					Name:      c.Name,
					Arguments: c.Arguments,
				})
			case *agent.UsageChunk:
				resp.Usage = &agent.TokenUsage{
					InputTokens:  c.InputTokens,
					OutputTokens: c.OutputTokens,
					TotalTokens:  c.TotalTokens,
				}
			case *agent.ErrorChunk:
				cause := errors.New(c.Message)
				if partial := text.String(); partial != "" {
					return nil, &PartialOutputError{Cause: cause, PartialText: partial}
				}
				return nil, cause
			}
		case <-ctx.Done():
			if partial := text.String(); partial != "" {
				return nil, &PartialOutputError{Cause: ctx.Err(), PartialText: partial}
			}
			return nil, ctx.Err()
		}
	}
}

// withAbort derives a context cancelled when the abort token fires. The
// returned stop func releases the watcher goroutine.
func withAbort(ctx context.Context, token *signals.Token) (context.Context, context.CancelFunc) {
	if token == nil {
		return context.WithCancel(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	if token.Cancelled() {
		cancel()
		return ctx, cancel
	}
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// isTimeoutError matches errors that wrap context.DeadlineExceeded.
// String matching is avoided; callers propagate the original chain.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// buildRetryMessage crafts the error-context turn fed back to the LLM.
// Partial stream output is included so the model can continue from it.
func buildRetryMessage(err error) string {
	var poe *PartialOutputError
	if !errors.As(err, &poe) {
		return fmt.Sprintf("Error from previous attempt: %s. Please try again.", err.Error())
	}

	partial := poe.PartialText
	const maxPartialLen = 2000
	if len(partial) > maxPartialLen {
		partial = partial[:maxPartialLen] + "..."
	}
	return fmt.Sprintf(
		"Error from previous attempt: %s\n\nYour partial response before the error:\n---\n%s\n---\n\n"+
			"Please continue from where you left off or provide a complete response.",
		poe.Cause.Error(), partial,
	)
}
