package model

// Question is a single multiple-choice question with four options.
type Question struct {
	ID            int    `json:"id"`
	Text          string `json:"text"`
	OptionA       string `json:"option_a"`
	OptionB       string `json:"option_b"`
	OptionC       string `json:"option_c"`
	OptionD       string `json:"option_d"`
	CorrectAnswer string `json:"correct_answer"`
}

// QuestionForCandidate is a question without the correct answer.
type QuestionForCandidate struct {
	ID      int    `json:"id"`
	Text    string `json:"text"`
	OptionA string `json:"option_a"`
	OptionB string `json:"option_b"`
	OptionC string `json:"option_c"`
	OptionD string `json:"option_d"`
}

// ForCandidate drops the correct answer.
func (q Question) ForCandidate() QuestionForCandidate {
	return QuestionForCandidate{
		ID:      q.ID,
		Text:    q.Text,
		OptionA: q.OptionA,
		OptionB: q.OptionB,
		OptionC: q.OptionC,
		OptionD: q.OptionD,
	}
}
