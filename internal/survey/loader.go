// Package survey loads, validates, and caches survey definitions.
//
// Definitions are hand-edited YAML documents and are treated as untrusted
// input: a strict decode rejects unknown fields, schema validation checks
// every declared payload, and a graph validator rejects cyclic flows before
// a definition can serve traffic.
package survey

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// Error variables for loader failure modes
var (
	// ErrSurveyNotFound indicates no definition file exists for the requested id.
	ErrSurveyNotFound = errors.New("survey not found")
)

// Loader reads survey definitions from a directory and caches validated
// results by id. The cache is an explicit registry: populate-on-load,
// invalidate-on-demand. A failed reload never evicts a previously cached
// good definition.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*models.Survey
}

// NewLoader creates a Loader reading definitions from dir.
func NewLoader(dir string) *Loader {
	slog.Debug("Creating survey loader", "dir", dir)
	return &Loader{
		dir:   dir,
		cache: make(map[string]*models.Survey),
	}
}

// Load returns the validated definition for the given survey id, reading and
// validating the YAML document on first use. Subsequent lookups are served
// from the cache.
func (l *Loader) Load(surveyID string) (*models.Survey, error) {
	l.mu.RLock()
	cached, ok := l.cache[surveyID]
	l.mu.RUnlock()
	if ok {
		slog.Debug("Survey loaded from cache", "survey_id", surveyID)
		return cached, nil
	}

	survey, err := l.loadFromDisk(surveyID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[surveyID] = survey
	l.mu.Unlock()
	slog.Info("Survey loaded and cached", "survey_id", surveyID, "version", survey.Metadata.Version, "steps", len(survey.Steps))
	return survey, nil
}

// Reload re-reads and re-validates a definition, replacing the cached copy
// only on success. The previous valid definition keeps serving traffic when
// the new document is broken.
func (l *Loader) Reload(surveyID string) (*models.Survey, error) {
	survey, err := l.loadFromDisk(surveyID)
	if err != nil {
		slog.Error("Survey reload failed; keeping cached definition", "survey_id", surveyID, "error", err)
		return nil, err
	}
	l.mu.Lock()
	l.cache[surveyID] = survey
	l.mu.Unlock()
	slog.Info("Survey reloaded", "survey_id", surveyID, "version", survey.Metadata.Version)
	return survey, nil
}

// Invalidate removes a cached definition, forcing a re-read on next Load.
func (l *Loader) Invalidate(surveyID string) {
	l.mu.Lock()
	delete(l.cache, surveyID)
	l.mu.Unlock()
	slog.Debug("Survey cache entry invalidated", "survey_id", surveyID)
}

// InvalidateAll clears the entire definition cache.
func (l *Loader) InvalidateAll() {
	l.mu.Lock()
	l.cache = make(map[string]*models.Survey)
	l.mu.Unlock()
	slog.Debug("Survey cache cleared")
}

// ListSurveys returns the ids of all definition files in the directory.
func (l *Loader) ListSurveys() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read surveys directory %s: %w", l.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") {
			ids = append(ids, strings.TrimSuffix(name, ".yaml"))
		}
	}
	sort.Strings(ids)
	slog.Debug("Listed surveys", "count", len(ids))
	return ids, nil
}

// FindByStartWord returns the first survey whose start words match the given
// message body, or "" if none match.
func (l *Loader) FindByStartWord(body string) (string, error) {
	ids, err := l.ListSurveys()
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		survey, err := l.Load(id)
		if err != nil {
			slog.Warn("Skipping unloadable survey during start word lookup", "survey_id", id, "error", err)
			continue
		}
		if survey.Metadata.MatchesStartWord(body) {
			return id, nil
		}
	}
	return "", nil
}

// loadFromDisk reads, decodes, and fully validates a definition document.
func (l *Loader) loadFromDisk(surveyID string) (*models.Survey, error) {
	path := filepath.Join(l.dir, surveyID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("Survey file not found", "survey_id", surveyID, "path", path)
			return nil, fmt.Errorf("survey %q at %s: %w", surveyID, path, ErrSurveyNotFound)
		}
		return nil, fmt.Errorf("failed to read survey %q: %w", surveyID, err)
	}

	var survey models.Survey
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	// Unknown fields in a hand-edited document are authoring mistakes, not
	// data to ignore.
	dec.KnownFields(true)
	if err := dec.Decode(&survey); err != nil {
		slog.Error("Survey YAML decode failed", "survey_id", surveyID, "error", err)
		return nil, &models.DefinitionError{SurveyID: surveyID, Path: "", Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	if survey.Metadata.ID != "" && survey.Metadata.ID != surveyID {
		return nil, &models.DefinitionError{SurveyID: surveyID, Path: "metadata.id",
			Message: fmt.Sprintf("id %q does not match filename %q", survey.Metadata.ID, surveyID)}
	}

	if err := survey.Validate(); err != nil {
		slog.Error("Survey schema validation failed", "survey_id", surveyID, "error", err)
		return nil, err
	}
	if err := ValidateGraph(&survey); err != nil {
		slog.Error("Survey graph validation failed", "survey_id", surveyID, "error", err)
		return nil, err
	}
	return &survey, nil
}
