package domain

// ParticipantID identifies the author of a transcript message.
type ParticipantID string

const (
	// User is the source of the seed task (the human's question).
	User ParticipantID = "User"
	// Reasoner proposes analysis code and the final answer.
	Reasoner ParticipantID = "Reasoner"
	// Executor runs proposed code in the sandbox and reports observations.
	Executor ParticipantID = "Executor"
)

// Role is the chat role a message takes when sent to a reasoning backend.
type Role string

const (
	// RoleUser indicates a message from the user (or any non-model participant).
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
	// RoleSystem indicates system instructions.
	RoleSystem Role = "system"
)
