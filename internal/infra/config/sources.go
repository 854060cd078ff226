package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"tg-collector/internal/domain"
)

// DefaultMinMessageLength минимальная длина сообщения, если в файле не задана.
const DefaultMinMessageLength = 10

// SourcesFile содержимое файла источников.
type SourcesFile struct {
	TargetChats []ChatEntry  `yaml:"target_chats"`
	Filters     FilterConfig `yaml:"filters"`
}

// ChatEntry один источник. chat_id может быть числом или @username.
type ChatEntry struct {
	ChatID  ChatID `yaml:"chat_id"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// FilterConfig секция фильтров.
type FilterConfig struct {
	MinMessageLength *int     `yaml:"min_message_length" toml:"min_message_length"`
	ExcludePatterns  []string `yaml:"exclude_patterns" toml:"exclude_patterns"`
}

// ChatID идентификатор чата в виде строки.
type ChatID string

// UnmarshalYAML принимает и числа, и строки.
func (c *ChatID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("chat_id: ожидали скаляр, строка %d", node.Line)
	}
	*c = ChatID(strings.TrimSpace(node.Value))
	return nil
}

// tomlFile промежуточная форма для TOML, где chat_id бывает числом.
type tomlFile struct {
	TargetChats []struct {
		ChatID  any    `toml:"chat_id"`
		Name    string `toml:"name"`
		Enabled bool   `toml:"enabled"`
	} `toml:"target_chats"`
	Filters FilterConfig `toml:"filters"`
}

func (t tomlFile) convert() (SourcesFile, error) {
	file := SourcesFile{Filters: t.Filters}
	for i, chat := range t.TargetChats {
		var id string
		switch x := chat.ChatID.(type) {
		case nil:
		case string:
			id = strings.TrimSpace(x)
		case int64:
			id = strconv.FormatInt(x, 10)
		default:
			return SourcesFile{}, fmt.Errorf("target_chats[%d]: неподдерживаемый тип chat_id %T", i, chat.ChatID)
		}
		file.TargetChats = append(file.TargetChats, ChatEntry{ChatID: ChatID(id), Name: chat.Name, Enabled: chat.Enabled})
	}
	return file, nil
}

// LoadSources читает файл источников. Формат определяется по расширению.
func LoadSources(path string) (SourcesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourcesFile{}, fmt.Errorf("%w: файл источников: %v", domain.ErrConfig, err)
	}
	var file SourcesFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var raw tomlFile
		if err = toml.Unmarshal(data, &raw); err == nil {
			file, err = raw.convert()
		}
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return SourcesFile{}, fmt.Errorf("%w: разбор %s: %v", domain.ErrConfig, path, err)
	}
	for i, chat := range file.TargetChats {
		if chat.ChatID == "" {
			return SourcesFile{}, fmt.Errorf("%w: target_chats[%d]: пустой chat_id", domain.ErrConfig, i)
		}
	}
	return file, nil
}

// Sources возвращает все источники в порядке файла.
func (f SourcesFile) Sources() []domain.Source {
	out := make([]domain.Source, 0, len(f.TargetChats))
	for _, chat := range f.TargetChats {
		out = append(out, domain.Source{ID: string(chat.ChatID), Name: chat.Name, Enabled: chat.Enabled})
	}
	return out
}

// Enabled возвращает только включённые источники.
func (f SourcesFile) Enabled() []domain.Source {
	var out []domain.Source
	for _, src := range f.Sources() {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// Filter возвращает настройки фильтра с учётом значений по умолчанию.
func (f SourcesFile) Filter() domain.FilterConfig {
	minLength := DefaultMinMessageLength
	if f.Filters.MinMessageLength != nil {
		minLength = *f.Filters.MinMessageLength
	}
	return domain.FilterConfig{MinLength: minLength, ExcludePatterns: f.Filters.ExcludePatterns}
}
