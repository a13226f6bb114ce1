package llm

import (
	"context"
	"strings"
)

type ScriptedReply struct {
	Match string
	Reply string
}

// ScriptedCompleter answers with the first reply whose Match occurs in the
// prompt. It backs the offline demo mode (USE_MOCK_LLM=true).
type ScriptedCompleter struct {
	Replies  []ScriptedReply
	Fallback string
}

func (s *ScriptedCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, r := range s.Replies {
		if strings.Contains(req.Prompt, r.Match) {
			return r.Reply, nil
		}
	}
	return s.Fallback, nil
}
