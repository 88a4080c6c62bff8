package service

import (
	"math/rand/v2"
	"strconv"
)

// Shuffler перемешивает индексы. При nil *rand.Rand используется глобальный
// генератор.
type Shuffler struct {
	r *rand.Rand
}

func NewShuffler(r *rand.Rand) *Shuffler {
	return &Shuffler{r: r}
}

func (s *Shuffler) intN(n int) int {
	if s == nil || s.r == nil {
		return rand.IntN(n)
	}
	return s.r.IntN(n)
}

// ShuffleIndices перемешивает indices на месте алгоритмом Фишера-Йейтса.
func (s *Shuffler) ShuffleIndices(indices []int) {
	for i := len(indices) - 1; i > 0; i-- {
		j := s.intN(i + 1)
		indices[i], indices[j] = indices[j], indices[i]
	}
}

// RangeIndices возвращает индексы банка (с 0) для диапазона [start, end]
// (с 1, включительно), обрезанного по размеру банка n.
func RangeIndices(start, end, n int) []int {
	lo := max(start-1, 0)
	hi := min(end-1, n-1)
	if lo > hi {
		return nil
	}
	indices := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		indices = append(indices, i)
	}
	return indices
}

// SelectQuestions выбирает вопросы [start, end] в случайном порядке. Порядок
// вариантов внутри вопроса не меняется. Возвращает и перемешанные индексы банка.
func (s *Shuffler) SelectQuestions(bank *QuestionBank, start, end int) ([]QuizQuestion, []int) {
	indices := RangeIndices(start, end, bank.Len())
	if len(indices) == 0 {
		return nil, nil
	}
	s.ShuffleIndices(indices)

	selected := make([]QuizQuestion, len(indices))
	for i, idx := range indices {
		selected[i] = bank.At(idx)
	}
	return selected, indices
}

// QuestionRange - диапазон для выбора в меню, с 1, включительно.
type QuestionRange struct {
	Start int
	End   int
	Last  bool
}

func (r QuestionRange) Label() string {
	return RangeLabel(r.Start, r.End)
}

// RangeLabel форматирует диапазон как "start–end".
func RangeLabel(start, end int) string {
	return strconv.Itoa(start) + "–" + strconv.Itoa(end)
}

// SplitRanges режет банк из total вопросов на подряд идущие диапазоны по
// count. При count <= 0 или больше банка получается один диапазон.
func SplitRanges(total, count int) []QuestionRange {
	if total <= 0 {
		return nil
	}
	if count <= 0 || count > total {
		count = total
	}
	var ranges []QuestionRange
	for start := 1; start <= total; start += count {
		end := min(start+count-1, total)
		ranges = append(ranges, QuestionRange{Start: start, End: end, Last: end == total})
	}
	return ranges
}
