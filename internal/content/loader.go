// Package content serves the static question bank and chapter list.
package content

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/edutara/edutara/internal/learning"
)

// Loader loads and caches content from the filesystem.
type Loader struct {
	rootDir   string
	questions map[level][]learning.QuestionRecord
	byID      map[string]learning.QuestionRecord
	chapters  map[level][]Chapter
	chapterID map[string]Chapter
	mu        sync.RWMutex
}

// NewLoader creates a content loader and loads every YAML file under rootDir.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:   rootDir,
		questions: make(map[level][]learning.QuestionRecord),
		byID:      make(map[string]learning.QuestionRecord),
		chapters:  make(map[level][]Chapter),
		chapterID: make(map[string]Chapter),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading content: %w", err)
	}

	slog.Info("content loaded", "questions", len(l.byID), "chapters", len(l.chapterID))
	return l, nil
}

// GetQuestions returns the questions for a subject and grade in file order.
// The result is a copy.
func (l *Loader) GetQuestions(subject learning.Subject, grade int) []learning.QuestionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	qs := l.questions[level{subject, grade}]
	out := make([]learning.QuestionRecord, len(qs))
	copy(out, qs)
	return out
}

// GetQuestion returns a question by ID.
func (l *Loader) GetQuestion(id string) (learning.QuestionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	q, ok := l.byID[id]
	return q, ok
}

// Catalog returns every question for a subject across all grades, lowest
// grade first. An empty subject returns the whole bank.
func (l *Loader) Catalog(subject learning.Subject) []learning.QuestionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []learning.QuestionRecord
	for _, s := range learning.Subjects {
		if subject != "" && s != subject {
			continue
		}
		for g := learning.MinGrade; g <= learning.MaxGrade; g++ {
			out = append(out, l.questions[level{s, g}]...)
		}
	}
	return out
}

// AllQuestions returns all loaded questions.
func (l *Loader) AllQuestions() []learning.QuestionRecord {
	return l.Catalog("")
}

// GetChapters returns the chapters for a subject and grade.
func (l *Loader) GetChapters(subject learning.Subject, grade int) []Chapter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cs := l.chapters[level{subject, grade}]
	out := make([]Chapter, len(cs))
	copy(out, cs)
	return out
}

// GetChapter returns a chapter by ID.
func (l *Loader) GetChapter(id string) (Chapter, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.chapterID[id]
	return c, ok
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadFile(path)
		}
		return nil
	})
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		slog.Warn("skipping invalid content YAML", "path", path, "error", err)
		return nil
	}

	if f.Subject == "" {
		return nil // Not a content file
	}
	if !f.Subject.Valid() || f.Grade < learning.MinGrade || f.Grade > learning.MaxGrade {
		slog.Warn("skipping content file with unknown level", "path", path, "subject", f.Subject, "grade", f.Grade)
		return nil
	}

	key := level{f.Subject, f.Grade}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, q := range f.Questions {
		q.Subject = f.Subject
		q.Grade = f.Grade
		if err := checkQuestion(q); err != nil {
			slog.Warn("skipping question", "path", path, "id", q.ID, "error", err)
			continue
		}
		if _, dup := l.byID[q.ID]; dup {
			slog.Warn("skipping duplicate question", "path", path, "id", q.ID)
			continue
		}
		l.byID[q.ID] = q
		l.questions[key] = append(l.questions[key], q)
	}

	for _, c := range f.Chapters {
		c.Subject = f.Subject
		c.Grade = f.Grade
		if c.ID == "" || c.Title == "" {
			slog.Warn("skipping chapter without id or title", "path", path)
			continue
		}
		if _, dup := l.chapterID[c.ID]; dup {
			slog.Warn("skipping duplicate chapter", "path", path, "id", c.ID)
			continue
		}
		l.chapterID[c.ID] = c
		l.chapters[key] = append(l.chapters[key], c)
	}

	return nil
}

func checkQuestion(q learning.QuestionRecord) error {
	switch {
	case q.ID == "":
		return fmt.Errorf("missing id")
	case q.Topic == "":
		return fmt.Errorf("missing topic")
	case !q.Difficulty.Valid():
		return fmt.Errorf("unknown difficulty %q", q.Difficulty)
	case len(q.Options) < 2:
		return fmt.Errorf("need at least 2 options, got %d", len(q.Options))
	case q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options):
		return fmt.Errorf("correct answer %d out of range", q.CorrectAnswer)
	}
	return nil
}
