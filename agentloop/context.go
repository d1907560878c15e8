package agentloop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/martinemde/puding/conversation"
	"github.com/martinemde/puding/sandbox"
	"github.com/martinemde/puding/tools"
)

// ContextReport summarizes an AddToContext call.
type ContextReport struct {
	Added   []string `json:"added"`   // paths relative to the sandbox root
	Skipped int      `json:"skipped"` // excluded, non-text or unreadable files
}

// AddToContext injects a file, or every eligible file below a directory, as
// user messages. Paths resolve through the sandbox; excluded and non-text
// files are skipped and counted.
func (s *Session) AddToContext(raw string) (ContextReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ContextReport
	if s.closed {
		return report, ErrClosed
	}
	env := s.registry.Environment()
	if env == nil {
		return report, errors.New("registry has no environment")
	}
	sb := env.Sandbox()

	root, err := sb.Resolve(raw)
	if err != nil {
		return report, err
	}
	info, err := os.Stat(root.String())
	if err != nil {
		return report, fmt.Errorf("add %s to context: %w", raw, err)
	}

	if !info.IsDir() {
		rel := sb.Rel(root)
		if err := s.addFile(env, rel); err != nil {
			return report, err
		}
		report.Added = append(report.Added, rel)
		s.emitContextAdded(raw, report)
		return report, nil
	}

	err = filepath.WalkDir(root.String(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root.String() {
				return err
			}
			report.Skipped++
			return nil
		}
		if path == root.String() {
			return nil
		}
		rel := sb.Rel(sandbox.Path(path))
		if sandbox.IsExcluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			report.Skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() || !sandbox.IsTextLike(path) {
			report.Skipped++
			return nil
		}
		if err := s.addFile(env, rel); err != nil {
			s.logger.Debug("skipping file", "path", rel, "error", err)
			report.Skipped++
			return nil
		}
		report.Added = append(report.Added, rel)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("add %s to context: %w", raw, err)
	}
	s.emitContextAdded(raw, report)
	return report, nil
}

func (s *Session) addFile(env *tools.Environment, rel string) error {
	fc, err := env.ReadFile(rel)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("File: %s\n```\n%s\n```", rel, fc.Content)
	return s.store.Append(conversation.UserMessage(content))
}

func (s *Session) emitContextAdded(path string, report ContextReport) {
	s.logger.Info("context added", "path", path, "files", len(report.Added), "skipped", report.Skipped)
	s.emitter.Emit(EventContextAdded, map[string]any{
		"path":    path,
		"files":   report.Added,
		"skipped": report.Skipped,
	})
}
