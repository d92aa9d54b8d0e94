package model

// Persona is the read-only replica configuration that parameterizes a chat.
type Persona struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description,omitempty" yaml:"description"`
	Instruction   string `json:"instruction,omitempty" yaml:"instruction"`
	KnowledgeText string `json:"knowledge,omitempty" yaml:"knowledge"`
	ModelID       string `json:"model" yaml:"model"`
}
