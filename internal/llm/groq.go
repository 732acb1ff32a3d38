package llm

const groqDefaultBaseURL = "https://api.groq.com/openai/v1"

// NewGroq constructs the Groq provider. Groq serves the same
// chat-completions dialect as OpenAI under its own base URL.
func NewGroq(opts Options) *OpenAI {
	return newChatCompletions("groq", groqDefaultBaseURL, opts)
}
