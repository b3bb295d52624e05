package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/graph"
)

// ErrCorrupt is returned by Load when the file exists but is not a state
// document.
var ErrCorrupt = errors.New("state: corrupt state file")

var (
	treePath        = jp.C("tree")
	connectionsPath = jp.C("connections").W()
)

// Document is everything the mixer persists: the tree snapshot and the
// graph routing.
type Document struct {
	Tree        any
	Connections []graph.Connection
}

// Store reads and writes one state file.
type Store struct {
	path string
}

// NewStore creates a store for path. The file is not touched until Load
// or Save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string { return s.path }

// Load reads the state file. A missing file yields an empty document and
// no error. A file that does not parse yields an empty document and an
// error wrapping ErrCorrupt, so callers can log it and start from
// defaults.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "Store.Load",
			"path":     s.path,
		}).Info("No state file, starting from defaults")
		return &Document{}, nil
	}
	if err != nil {
		return &Document{}, fmt.Errorf("state: read %s: %w", s.path, err)
	}
	doc, err := Decode(string(data))
	if err != nil {
		return &Document{}, fmt.Errorf("%s: %w", s.path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Store.Load",
		"path":        s.path,
		"connections": len(doc.Connections),
	}).Info("Loaded state file")
	return doc, nil
}

// Save writes doc atomically: the document goes to a temporary file in the
// same directory which then replaces the state file.
func (s *Store) Save(doc *Document) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(Encode(doc)); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("state: replace %s: %w", s.path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Store.Save",
		"path":     s.path,
	}).Debug("Saved state file")
	return nil
}

// Encode renders doc as indented JSON with sorted keys.
func Encode(doc *Document) string {
	connections := make([]any, len(doc.Connections))
	for i, c := range doc.Connections {
		connections[i] = map[string]any{"source": c.Source, "destination": c.Destination}
	}
	out := map[string]any{"connections": connections}
	if doc.Tree != nil {
		out["tree"] = doc.Tree
	}
	return oj.JSON(out, &oj.Options{Indent: 2, Sort: true})
}

// Decode parses a state document. Connection entries missing either port
// are skipped.
func Decode(text string) (*Document, error) {
	data, err := oj.ParseString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, ok := data.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: top level is %T, not an object", ErrCorrupt, data)
	}

	doc := &Document{}
	if found := treePath.Get(data); len(found) > 0 {
		doc.Tree = found[0]
	}
	for _, entry := range connectionsPath.Get(data) {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		source, _ := fields["source"].(string)
		destination, _ := fields["destination"].(string)
		if source == "" || destination == "" {
			logrus.WithFields(logrus.Fields{
				"function": "Decode",
				"entry":    oj.JSON(entry),
			}).Warn("Skipping incomplete connection")
			continue
		}
		doc.Connections = append(doc.Connections, graph.Connection{Source: source, Destination: destination})
	}
	return doc, nil
}
