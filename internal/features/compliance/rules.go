// Package compliance — rules.go содержит чистые функции движка штрафов:
// ключ фазы, легальность состава и расписание штрафов.
package compliance

import (
	"sort"
	"strings"
	"time"
)

// Requirements отдаёт требуемое число слотов по ролям для лиги.
type Requirements interface {
	SlotsFor(leagueID int64) map[string]int
}

// PhaseIdentifier привязывает таймер к стадии лиги и набору открытых ролей.
// Порядок ролей не важен.
// Пример: PhaseIdentifier("repair", []string{"D", "A"}) → "repair:A,D"
func PhaseIdentifier(stage string, roles []string) string {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return stage + ":" + strings.Join(sorted, ",")
}

// IsCompliant сообщает, заполнены ли слоты всех активных ролей.
func IsCompliant(counts, slots map[string]int, activeRoles []string) bool {
	for _, role := range activeRoles {
		if counts[role] < slots[role] {
			return false
		}
	}
	return true
}

// Missing возвращает отсортированный список активных ролей с нехваткой игроков.
func Missing(counts, slots map[string]int, activeRoles []string) []string {
	var out []string
	for _, role := range activeRoles {
		if counts[role] < slots[role] {
			out = append(out, role)
		}
	}
	sort.Strings(out)
	return out
}

// PenaltiesDue — число штрафов для таймера, начатого в start: ни одного до
// start+grace, затем один в start+grace и ещё по одному на каждой следующей
// границе interval.
func PenaltiesDue(start, now time.Time, grace, interval time.Duration) int {
	graceEnd := start.Add(grace)
	if now.Before(graceEnd) {
		return 0
	}
	if interval <= 0 {
		return 1
	}
	return 1 + int(now.Sub(graceEnd)/interval)
}
