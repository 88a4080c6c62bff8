package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyBank - в файле нет ни одного корректного вопроса.
var ErrEmptyBank = errors.New("no valid questions found")

// rawQuestion - запись файла вопросов. Solution считается с 1.
type rawQuestion struct {
	Question string   `json:"question" yaml:"question"`
	Options  []string `json:"options" yaml:"options"`
	Solution int      `json:"solution" yaml:"solution"`
}

type rawBank struct {
	Questions []json.RawMessage `json:"questions"`
}

type rawYAMLBank struct {
	Questions []yaml.Node `yaml:"questions"`
}

// ParseQuizQuestions парсит файл вопросов. Формат по расширению: .yaml/.yml -
// YAML, остальное - JSON. Некорректные записи пропускаются и логируются.
func ParseQuizQuestions(filename string, log *slog.Logger) ([]QuizQuestion, error) {
	data, err := os.ReadFile(filename) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("service: read questions: %w", err)
	}

	var raws []rawQuestion
	var dropped int
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		raws, dropped, err = decodeYAML(data)
	default:
		raws, dropped, err = decodeJSON(data)
	}
	if err != nil {
		return nil, err
	}

	questions := make([]QuizQuestion, 0, len(raws))
	for i, r := range raws {
		q := r.toQuestion(len(questions) + 1)
		if err := q.Validate(); err != nil {
			dropped++
			if log != nil {
				log.Warn("dropping question", "entry", i+1, "err", err)
			}
			continue
		}
		questions = append(questions, q)
	}

	if log != nil && dropped > 0 {
		log.Warn("questions dropped during load", "dropped", dropped, "kept", len(questions))
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("service: %s: %w", filename, ErrEmptyBank)
	}
	return questions, nil
}

func decodeJSON(data []byte) ([]rawQuestion, int, error) {
	var bank rawBank
	if err := json.Unmarshal(data, &bank); err != nil {
		return nil, 0, fmt.Errorf("service: parse questions: %w", err)
	}
	raws := make([]rawQuestion, 0, len(bank.Questions))
	dropped := 0
	for _, msg := range bank.Questions {
		var r rawQuestion
		if err := json.Unmarshal(msg, &r); err != nil {
			dropped++
			continue
		}
		raws = append(raws, r)
	}
	return raws, dropped, nil
}

func decodeYAML(data []byte) ([]rawQuestion, int, error) {
	var bank rawYAMLBank
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return nil, 0, fmt.Errorf("service: parse questions: %w", err)
	}
	raws := make([]rawQuestion, 0, len(bank.Questions))
	dropped := 0
	for i := range bank.Questions {
		var r rawQuestion
		if err := bank.Questions[i].Decode(&r); err != nil {
			dropped++
			continue
		}
		raws = append(raws, r)
	}
	return raws, dropped, nil
}

func (r rawQuestion) toQuestion(id int) QuizQuestion {
	options := make([]string, len(r.Options))
	for i, opt := range r.Options {
		options[i] = strings.TrimSpace(opt)
	}
	return QuizQuestion{
		ID:       id,
		Question: strings.TrimSpace(r.Question),
		Options:  options,
		Correct:  r.Solution - 1,
	}
}

// LoadQuestionBank загружает и проверяет банк. Пустой банк - фатальная ошибка
// для вызывающего.
func LoadQuestionBank(filename string, log *slog.Logger) (*QuestionBank, error) {
	questions, err := ParseQuizQuestions(filename, log)
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.Info("questions loaded", "file", filename, "count", len(questions))
	}
	return NewQuestionBank(questions), nil
}
