package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PoluyanbIch/quizbot/internal/service"
)

const (
	menuButtonText = "Savollar"

	callbackCountPrefix = "count_"
	callbackRangePrefix = "range_"
	callbackCountAll    = "all"
	callbackStopQuiz    = "stop_quiz"
	callbackShowRange   = "show_range"
	callbackRestart     = "restart"
	callbackLeaderboard = "leaderboard"
)

func replyMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuButtonText)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func countKeyboard(counts []int) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(counts)+1)
	for _, n := range counts {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d ta", n), callbackCountPrefix+strconv.Itoa(n)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Barchasi", callbackCountPrefix+callbackCountAll),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func rangeKeyboard(total, count int) tgbotapi.InlineKeyboardMarkup {
	ranges := service.SplitRanges(total, count)
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(ranges))
	for _, r := range ranges {
		text := r.Label()
		if r.Last {
			text += " (oxirgi)"
		}
		data := fmt.Sprintf("%s%d_%d", callbackRangePrefix, r.Start, r.End)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(text, data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func quizKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Testni to‘xtatish", callbackStopQuiz),
		),
	)
}

func resultKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yana boshlash", callbackRestart),
			tgbotapi.NewInlineKeyboardButtonData("🏆 Reyting", callbackLeaderboard),
		),
	)
}

func emptyKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
}

// parseCount разбирает "count_N" или "count_all" (все вопросы).
func parseCount(data string, total int) (int, bool) {
	raw, ok := strings.CutPrefix(data, callbackCountPrefix)
	if !ok {
		return 0, false
	}
	if raw == callbackCountAll {
		return total, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// parseRange разбирает "range_S_E".
func parseRange(data string) (int, int, bool) {
	raw, ok := strings.CutPrefix(data, callbackRangePrefix)
	if !ok {
		return 0, 0, false
	}
	parts := strings.Split(raw, "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}
