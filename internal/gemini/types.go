package gemini

// Part is one piece of content: text or inline binary data
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData carries a base64 payload
type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Content is a role-tagged list of parts
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Tool enables a server-side capability
type Tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

// GenerationConfig tunes a single request
type GenerationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

// GenerateRequest is the body of generateContent and streamGenerateContent
type GenerateRequest struct {
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Contents          []Content         `json:"contents"`
	Tools             []Tool            `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerateResponse is a full response or one streamed event
type GenerateResponse struct {
	Candidates []Candidate `json:"candidates"`
	Error      *APIError   `json:"error,omitempty"`
}

// Candidate is one generated answer
type Candidate struct {
	Content           Content            `json:"content"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// GroundingMetadata lists the web pages an answer was grounded on
type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks"`
}

// GroundingChunk is one grounding source
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// WebSource is a grounding web page
type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// APIError is the error envelope returned by the API
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Text concatenates the text parts of the first candidate
func (r GenerateResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var s string
	for _, p := range r.Candidates[0].Content.Parts {
		s += p.Text
	}
	return s
}
