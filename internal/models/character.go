package models

// Character represents a persona users can chat with. The persona and greeting
// texts are markdown authored by the character's creator.
type Character struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tagline   string `json:"tagline"`
	Greeting  string `json:"greeting"`
	Persona   string `json:"persona"`
	AvatarURL string `json:"avatarUrl"`
}
