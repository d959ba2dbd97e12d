// Package domain holds the wire and persistence types shared across the server.
package domain

// ChatMessage is one turn of caller-supplied conversation history.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// DocumentAttachment is an uploaded document carried with a chat request.
// Content is base64-encoded raw bytes.
type DocumentAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Hotline is one crisis-resource entry in the fixed crisis payload.
type Hotline struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Desc   string `json:"desc"`
}

// CrisisPayload is the terminal payload emitted when a turn resolves to crisis.
type CrisisPayload struct {
	Message  string    `json:"message"`
	Hotlines []Hotline `json:"hotlines"`
	FollowUp string    `json:"follow_up"`
}
