package inference

import "github.com/ak42/llamacpu/internal/tokenizer"

// Special token ids for the Llama-3 chat template. These are fixed by the
// vocabulary the checkpoint was trained with, not derived from the
// tokenizer file.
const (
	tokBeginOfText   = 128000
	tokEndOfText     = 128001
	tokStartHeaderID = 128006
	tokEndHeaderID   = 128007
	tokEndOfTurn     = 128009
	tokSystem        = 9125
	tokUser          = 882
	tokAssistant     = 78191
	tokDoubleNewline = 271
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

func roleToken(role string) int {
	switch role {
	case "system":
		return tokSystem
	case "assistant":
		return tokAssistant
	default:
		return tokUser
	}
}

// BuildChatPrompt renders messages into the Llama-3 chat template,
// appending the header that opens the assistant's reply so the model can
// continue generating from there.
func BuildChatPrompt(tok *tokenizer.Tokenizer, messages []Message) []int {
	ids := []int{tokBeginOfText}
	for _, m := range messages {
		ids = append(ids, tokStartHeaderID, roleToken(m.Role), tokEndHeaderID, tokDoubleNewline)
		ids = append(ids, tok.Encode(m.Content, false, false).Slice()...)
		ids = append(ids, tokEndOfTurn)
	}
	ids = append(ids, tokStartHeaderID, tokAssistant, tokEndHeaderID, tokDoubleNewline)
	return ids
}
