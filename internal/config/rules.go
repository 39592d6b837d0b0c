// Package config — rules.go загружает требования к составу.
//
// Файл правил в формате YAML:
//
//	default:
//	  P: 3
//	  D: 8
//	  C: 8
//	  A: 6
//	leagues:
//	  42:
//	    P: 2
//	    A: 4
//
// Запись лиги заменяет перечисленные роли, остальные наследуются.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSlots — классический состав из 25 игроков.
var DefaultSlots = map[string]int{"P": 3, "D": 8, "C": 8, "A": 6}

// Rules хранит требования к слотам состава.
type Rules struct {
	Default map[string]int           `yaml:"default"`
	Leagues map[int64]map[string]int `yaml:"leagues"`
}

// DefaultRules возвращает правила с DefaultSlots без переопределений.
func DefaultRules() *Rules {
	return &Rules{Default: copySlots(DefaultSlots)}
}

// LoadRules читает path. Пустой путь даёт DefaultRules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules разбирает документ правил и проверяет его.
func ParseRules(raw []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(r.Default) == 0 {
		r.Default = copySlots(DefaultSlots)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) validate() error {
	check := func(where string, slots map[string]int) error {
		for role, n := range slots {
			if role == "" {
				return fmt.Errorf("%s: empty role name", where)
			}
			if n < 0 {
				return fmt.Errorf("%s: role %s needs %d slots", where, role, n)
			}
		}
		return nil
	}
	if err := check("default", r.Default); err != nil {
		return err
	}
	for id, slots := range r.Leagues {
		if err := check(fmt.Sprintf("league %d", id), slots); err != nil {
			return err
		}
	}
	return nil
}

// SlotsFor возвращает требуемые слоты по ролям для лиги.
func (r *Rules) SlotsFor(leagueID int64) map[string]int {
	out := copySlots(r.Default)
	for role, n := range r.Leagues[leagueID] {
		out[role] = n
	}
	return out
}

func copySlots(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
