package persona

import "context"

// Persona is a named AI character. FullName is the unique key; aliases
// are case-insensitive text handles unique across all personas.
type Persona struct {
	FullName    string   `json:"full_name" yaml:"full_name"`
	DisplayName string   `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	AddedBy     string   `json:"added_by,omitempty" yaml:"added_by,omitempty"`
	ModelPath   string   `json:"model_path,omitempty" yaml:"model_path,omitempty"`
}

// Directory is a read-only lookup of persona metadata by canonical
// name. The alias index only stores the mapping to a name; callers
// needing display names or model paths go through the directory.
type Directory interface {
	GetPersona(ctx context.Context, fullName string) (*Persona, error)
	ListPersonas(ctx context.Context) ([]*Persona, error)
}
