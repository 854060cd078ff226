package filter

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"tg-collector/internal/domain"
)

// Stats статистика отсева.
type Stats struct {
	Total        int
	TooShort     int
	PatternMatch int
	NoText       int
}

// Rejected возвращает общее число отброшенных сообщений.
func (s Stats) Rejected() int {
	return s.TooShort + s.PatternMatch + s.NoText
}

// Filter скомпилированный фильтр шума.
type Filter struct {
	minLength int
	patterns  []*regexp.Regexp
}

// Compile готовит фильтр. Некорректные выражения пропускаются с предупреждением.
func Compile(cfg domain.FilterConfig, log zerolog.Logger) *Filter {
	f := &Filter{minLength: cfg.MinLength}
	for _, raw := range cfg.ExcludePatterns {
		// Совпадение проверяется только с начала текста.
		re, err := regexp.Compile(`^(?:` + raw + `)`)
		if err != nil {
			log.Warn().Err(err).Str("pattern", raw).Msg("filter: некорректное регулярное выражение пропущено")
			continue
		}
		f.patterns = append(f.patterns, re)
	}
	return f
}

// Apply отбирает сообщения, сохраняя исходный порядок.
func (f *Filter) Apply(messages []domain.RawMessage) ([]domain.RawMessage, Stats) {
	stats := Stats{Total: len(messages)}
	admitted := make([]domain.RawMessage, 0, len(messages))
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			stats.NoText++
			continue
		}
		if utf8.RuneCountInString(text) < f.minLength {
			stats.TooShort++
			continue
		}
		if f.excluded(text) {
			stats.PatternMatch++
			continue
		}
		admitted = append(admitted, msg)
	}
	return admitted, stats
}

func (f *Filter) excluded(text string) bool {
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Apply компилирует конфигурацию и применяет её к сообщениям.
func Apply(messages []domain.RawMessage, cfg domain.FilterConfig, log zerolog.Logger) ([]domain.RawMessage, Stats) {
	return Compile(cfg, log).Apply(messages)
}
