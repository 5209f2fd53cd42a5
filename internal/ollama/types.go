package ollama

// ChatRequest represents a chat request to Ollama
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"` // "json" for structured replies
}

// Message represents a chat message
type Message struct {
	Role     string   `json:"role"` // "user", "assistant", or "system"
	Content  string   `json:"content"`
	Images   []string `json:"images,omitempty"`   // base64 payloads, no data: prefix
	Thinking string   `json:"thinking,omitempty"` // For reasoning models like deepseek-r1
}

// ChatResponse represents a streaming response chunk from Ollama
type ChatResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
	Error     string  `json:"error,omitempty"`
}
