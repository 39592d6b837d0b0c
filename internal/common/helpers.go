// Package common содержит мелкие утилиты, общие для движка:
// виды ошибок, результаты проходов, часы и форматирование кредитов.
package common

import (
	"fmt"
	"time"
)

// Clock возвращает текущее время. Компоненты получают Clock, чтобы сроки,
// сохранённые в базе, в тестах сравнивались с управляемым "сейчас".
type Clock func() time.Time

// SystemClock возвращает time.Now в UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// OrSystem возвращает c или SystemClock, если c равен nil.
func (c Clock) OrSystem() Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// BatchResult возвращает каждый проход. Ошибка на элементе не прерывает пачку.
type BatchResult struct {
	ProcessedCount int      `json:"processedCount"`
	FailedCount    int      `json:"failedCount"`
	Errors         []string `json:"errors"`
}

// Fail учитывает упавший элемент.
func (r *BatchResult) Fail(item string, err error) {
	r.FailedCount++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", item, err))
}

// FormatCredits форматирует сумму кредитов для логов и сообщений в чат.
// Пример: FormatCredits(1) → "1 credit", FormatCredits(120) → "120 credits"
func FormatCredits(n int64) string {
	if n == 1 || n == -1 {
		return fmt.Sprintf("%d credit", n)
	}
	return fmt.Sprintf("%d credits", n)
}
