package phrasebank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedFile is the top-level structure of a starter-phrase YAML file.
//
// Example:
//
//	phrases:
//	  - text: "I need help"
//	    category: needs
//	  - text: "I'm in pain"
//	    category: health
type SeedFile struct {
	Phrases []SeedPhrase `yaml:"phrases"`
}

// SeedPhrase is one starter phrase.
type SeedPhrase struct {
	Text     string `yaml:"text"`
	Category string `yaml:"category"`
}

// LoadSeedFile reads and parses a starter-phrase YAML file from disk.
func LoadSeedFile(path string) (*SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("phrasebank: open seed file %q: %w", path, err)
	}
	defer f.Close()

	sf, err := LoadSeedFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("phrasebank: parse seed file %q: %w", path, err)
	}
	return sf, nil
}

// LoadSeedFromReader parses starter-phrase YAML from an [io.Reader]. The
// reader is consumed entirely; the caller is responsible for closing it.
func LoadSeedFromReader(r io.Reader) (*SeedFile, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("phrasebank: decode seed yaml: %w", err)
	}
	return &sf, nil
}

// Validate checks a [SeedFile] for usable entries.
//
// Rules:
//   - Every phrase must have non-empty text.
//   - No two phrases may share the same text (case-insensitive).
func (sf *SeedFile) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(sf.Phrases))
	for i, p := range sf.Phrases {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			errs = append(errs, fmt.Errorf("phrase[%d]: text must not be empty", i))
			continue
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("phrase[%d]: duplicate text %q", i, text))
		}
		seen[key] = struct{}{}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Seed imports starter phrases for a user, skipping any whose text the user
// already has. Returns the number of phrases added. A store error aborts the
// import and returns the count so far.
func (s *Service) Seed(ctx context.Context, userID string, sf *SeedFile) (int, error) {
	if sf == nil || len(sf.Phrases) == 0 {
		return 0, nil
	}

	existing, err := s.phrases.List(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("phrasebank: seed: list existing: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		have[strings.ToLower(strings.TrimSpace(p.Text))] = struct{}{}
	}

	added := 0
	for _, sp := range sf.Phrases {
		text := strings.TrimSpace(sp.Text)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, dup := have[key]; dup {
			continue
		}
		if _, err := s.Add(ctx, userID, text, sp.Category); err != nil {
			return added, fmt.Errorf("phrasebank: seed: %w", err)
		}
		have[key] = struct{}{}
		added++
	}

	if added > 0 {
		slog.Info("phrase bank seeded",
			slog.String("user_id", userID),
			slog.Int("added", added))
	}
	return added, nil
}
