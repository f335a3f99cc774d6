package prompt

// QuickPrompt is a one-tap starter question shown on an empty conversation.
type QuickPrompt struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Seed returns the built-in starter prompts.
func Seed() []QuickPrompt {
	return []QuickPrompt{
		{
			ID:    "symptom-check",
			Label: "증상 상담",
			Text:  "이 증상, 의료사고일 수 있나요?",
		},
		{
			ID:    "consent-form",
			Label: "동의서",
			Text:  "수술 동의서에 서명했는데 문제 삼을 수 있나요?",
		},
		{
			ID:    "compensation",
			Label: "보상 절차",
			Text:  "의료사고 보상 절차가 어떻게 되나요?",
		},
		{
			ID:    "opinion-letter",
			Label: "의견서",
			Text:  "상담 내용으로 의견서를 작성해주세요.",
		},
	}
}
