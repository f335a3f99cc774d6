package chat

// Response kinds a completed backend result can declare.
const (
	KindChat     = "chat"
	KindDocument = "document"
	KindError    = "error"
)

// Source is one retrieval reference attached to a non-streaming answer.
type Source struct {
	Title          string `json:"title"`
	CaseID         string `json:"case_id"`
	Dept           string `json:"dept"`
	ContentPreview string `json:"content_preview"`
}

// Envelope is the normalized result of a completed turn, produced by the
// classifier from whatever raw shape the backend returned.
type Envelope struct {
	Kind          string   `json:"kind"`
	Text          string   `json:"text"`
	AuxiliaryText string   `json:"auxiliaryText,omitempty"`
	Sources       []Source `json:"sources,omitempty"`
}
