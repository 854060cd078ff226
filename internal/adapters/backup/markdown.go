package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-collector/internal/domain"
)

const filePrefix = "telegram_messages_"

// Writer сохраняет документы в каталог и чистит старые копии.
type Writer struct {
	dir       string
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

var _ domain.BackupWriter = (*Writer)(nil)

// NewWriter создаёт каталог копий. retentionDays <= 0 отключает очистку.
func NewWriter(dir string, retentionDays int, log zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: создание каталога %s: %w", dir, err)
	}
	w := &Writer{dir: dir, log: log, now: time.Now}
	if retentionDays > 0 {
		w.retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	return w, nil
}

// Save записывает текст и возвращает путь к файлу. Пустое имя заменяется штампом времени.
func (w *Writer) Save(text, filename string) (string, error) {
	if filename == "" {
		filename = filePrefix + w.now().Format("20060102_150405") + ".md"
	}
	path := filepath.Join(w.dir, filepath.Base(filename))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("backup: запись %s: %w", path, err)
	}
	if removed, err := w.Sweep(); err != nil {
		w.log.Warn().Err(err).Msg("backup: очистка старых копий не удалась")
	} else if removed > 0 {
		w.log.Info().Int("removed", removed).Msg("backup: удалены старые копии")
	}
	return path, nil
}

// Sweep удаляет копии старше срока хранения.
func (w *Writer) Sweep() (int, error) {
	if w.retention <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	cutoff := w.now().Add(-w.retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isBackup(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Recent возвращает пути последних копий, от новых к старым.
func (w *Writer) Recent(limit int) ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	type file struct {
		path string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !isBackup(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{path: filepath.Join(w.dir, e.Name()), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.path)
	}
	return out, nil
}

func isBackup(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, ".md")
}
