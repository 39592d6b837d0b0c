// Package common — errors.go определяет виды ошибок, общие для всех компонентов движка.
// Обработчики выбирают код ответа и сообщение по виду ошибки.
package common

import (
	"errors"
	"fmt"
)

// Kind — вид ошибки движка.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Ошибки ставок и бюджета. Всегда возвращаются обёрнутыми в ValidationError,
// так что работают и errors.Is, и IsValidation.
var (
	// ErrInsufficientFunds — блокировка подняла бы locked выше бюджета
	ErrInsufficientFunds = errors.New("insufficient available credits")
	// ErrBidTooLow — сумма меньше текущей ставки плюс шаг лиги
	ErrBidTooLow = errors.New("bid below minimum")
	// ErrAuctionClosed — срок аукциона прошёл или аукцион завершён
	ErrAuctionClosed = errors.New("auction has ended")
	// ErrCooldownActive — пользователь недавно отказался от этого аукциона
	ErrCooldownActive = errors.New("abandon cooldown active")
	// ErrAlreadyLeading — лидер может только поднять потолок автоставки
	ErrAlreadyLeading = errors.New("already the highest bidder")
	// ErrRoleClosed — роль игрока закрыта для ставок в этой фазе
	ErrRoleClosed = errors.New("role not open for bidding")
	// ErrInvalidAmount — нулевая или отрицательная сумма
	ErrInvalidAmount = errors.New("amount must be positive")
)

// ValidationError — синхронный отказ: плохой ввод, нехватка кредитов,
// ставка ниже минимума или аукцион не в том состоянии. Ничего не записано.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError — параллельная запись сдвинула состояние, на которое рассчитывал вызывающий.
// Вызывающий должен перечитать состояние; сам движок не повторяет.
type ConflictError struct {
	Msg string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// NotFoundError — неизвестный аукцион, лига, игрок или участник.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// InternalError оборачивает сбой хранилища.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string { return "internal error: " + e.Err.Error() }

func (e *InternalError) Unwrap() error { return e.Err }

// Validation собирает ValidationError из sentinel-ошибки и подробностей.
func Validation(err error, format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// Invalid собирает ValidationError без sentinel-ошибки.
func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Conflict собирает ConflictError.
func Conflict(err error, format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound собирает NotFoundError.
func NotFound(format string, args ...any) error {
	return &NotFoundError{What: fmt.Sprintf(format, args...)}
}

// Internal оборачивает err, если у неё ещё нет вида.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &InternalError{Err: err}
}

// KindOf возвращает вид err. Неклассифицированные ошибки считаются внутренними.
func KindOf(err error) Kind {
	var (
		ve *ValidationError
		ce *ConflictError
		ne *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return KindConflict
	case errors.As(err, &ne):
		return KindNotFound
	default:
		return KindInternal
	}
}

func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }
func IsConflict(err error) bool   { return err != nil && KindOf(err) == KindConflict }
func IsNotFound(err error) bool   { return err != nil && KindOf(err) == KindNotFound }
