package extractor

import (
	"fmt"

	"call-insights-go/internal/llm"
	"call-insights-go/internal/types"
)

const promptPreamble = `You are a conversation analyzer and you follow rules. You are analyzing a call
between an agent and a customer.
`

const sentimentTemplate = promptPreamble + `Analyze the following conversation and answer these specific questions:
1. Is the overall sentiment positive or negative? Answer with only one word: 'positive' or 'negative'
2. Pick max one quote of maximum 15 words that demonstrates this sentiment. Make sure this is a direct quote, do not change the words.

Respond only with the one word, and on the next line the quote.
Do not include any other text or comments.

Here is the conversation:
%s`

const flagTemplate = promptPreamble + `Analyze this conversation and answer these questions in order:
1. Should this conversation be flagged for attention? Answer only 'yes' or 'no'
2. If yes, what is the main reason for flagging? One brief sentence.
3. If yes, what is the severity? Answer with only: 'high', 'medium', or 'low'
4. If yes, what type of issue is it? Answer with only: 'technical', 'fraud', or 'urgent'
5. If yes, pick max one quote of maximum 15 words that demonstrates the issue. Make sure this is a direct quote, do not change the words.

Respond only with the answers in order, one per line.
Do not include any other text or comments.

Here is the conversation:
%s`

const feedbackTemplate = promptPreamble + `Analyze this conversation and answer these questions in order:
1. Does this conversation contain any feedback or suggestions? Answer only 'yes' or 'no'
2. If yes, what type of feedback is it? Answer with only: 'suggestion' or 'pain_point'
3. If yes, rate the impact as: 'high', 'medium', or 'low'
4. If yes, pick max one quote of maximum 15 words that demonstrates the feedback. Make sure this is a direct quote, do not change the words.

Respond only with the answers in order, one per line.
Do not include any other text or comments.

Here is the conversation:
%s`

// BuildPrompt substitutes the conversation text into the analysis template.
func BuildPrompt(a types.Analysis, conversationText string) string {
	switch a {
	case types.AnalysisFlag:
		return fmt.Sprintf(flagTemplate, conversationText)
	case types.AnalysisFeedback:
		return fmt.Sprintf(feedbackTemplate, conversationText)
	default:
		return fmt.Sprintf(sentimentTemplate, conversationText)
	}
}

// DemoReplies are the deterministic answers served when USE_MOCK_LLM=true.
func DemoReplies() *llm.ScriptedCompleter {
	return &llm.ScriptedCompleter{
		Replies: []llm.ScriptedReply{
			{Match: "flagged for attention", Reply: "1. yes\n2. Customer reports an unrecognised charge on the account.\n3. high\n4. fraud\n5. \"I never made this payment\""},
			{Match: "feedback or suggestions", Reply: "1. yes\n2. pain_point\n3. medium\n4. \"the app keeps logging me out\""},
		},
		Fallback: "negative\nI never made this payment",
	}
}
