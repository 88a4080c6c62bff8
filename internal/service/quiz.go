package service

import "fmt"

const (
	MinOptions = 2
	MaxOptions = 10
)

// QuizQuestion - неизменяемый вопрос банка с вариантами ответа.
type QuizQuestion struct {
	ID       int
	Question string
	Options  []string
	Correct  int
}

// Validate проверяет, что вопрос можно отправить как викторину.
func (q QuizQuestion) Validate() error {
	if q.Question == "" {
		return fmt.Errorf("question text is empty")
	}
	if n := len(q.Options); n < MinOptions || n > MaxOptions {
		return fmt.Errorf("question has %d options, want %d..%d", n, MinOptions, MaxOptions)
	}
	if q.Correct < 0 || q.Correct >= len(q.Options) {
		return fmt.Errorf("correct index %d out of range [0, %d)", q.Correct, len(q.Options))
	}
	return nil
}

// QuestionBank - вопросы, загруженные при старте, только для чтения.
type QuestionBank struct {
	questions []QuizQuestion
}

func NewQuestionBank(questions []QuizQuestion) *QuestionBank {
	qs := make([]QuizQuestion, len(questions))
	copy(qs, questions)
	return &QuestionBank{questions: qs}
}

func (b *QuestionBank) Len() int {
	return len(b.questions)
}

// At возвращает вопрос по индексу с 0.
func (b *QuestionBank) At(i int) QuizQuestion {
	return b.questions[i]
}
