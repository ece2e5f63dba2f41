// Package curriculum loads lesson plans from YAML. The reference plan is
// embedded; deployments can point CURRICULUM_FILE at their own.
package curriculum

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
)

//go:embed default.yaml
var defaultFS embed.FS

const defaultFile = "default.yaml"

// supportedVersion is the only file format version understood.
const supportedVersion = 1

// ErrInvalidFile is returned for files that do not parse or describe an
// unusable curriculum.
var ErrInvalidFile = errors.New("curriculum: invalid file")

type yamlCurriculum struct {
	Version int         `yaml:"version"`
	Phases  []yamlPhase `yaml:"phases"`
}

type yamlPhase struct {
	Title   string       `yaml:"title"`
	Lessons []yamlLesson `yaml:"lessons"`
}

type yamlLesson struct {
	ID    string   `yaml:"id"`
	Title string   `yaml:"title"`
	Steps []string `yaml:"steps"`
}

// Default returns the embedded reference curriculum.
func Default() (*progression.Curriculum, error) {
	data, err := defaultFS.ReadFile(defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded curriculum: %w", err)
	}
	return Parse(data)
}

// MustDefault is Default for wiring code and tests.
func MustDefault() *progression.Curriculum {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a curriculum file. An empty path selects the embedded default.
func Load(path string) (*progression.Curriculum, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read curriculum %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML into a curriculum. Unknown fields are rejected so that
// typos in step lists do not silently produce a different lesson.
func Parse(data []byte) (*progression.Curriculum, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw yamlCurriculum
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if raw.Version != 0 && raw.Version != supportedVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFile, raw.Version)
	}

	defs, err := raw.definitions()
	if err != nil {
		return nil, err
	}
	return progression.NewCurriculum(defs)
}

func (y yamlCurriculum) definitions() ([]progression.PhaseDefinition, error) {
	defs := make([]progression.PhaseDefinition, 0, len(y.Phases))
	for pi, p := range y.Phases {
		pd := progression.PhaseDefinition{Title: p.Title}
		for _, l := range p.Lessons {
			steps := make([]performance.Kind, 0, len(l.Steps))
			for _, s := range l.Steps {
				kind, err := performance.ParseKind(s)
				if err != nil {
					return nil, fmt.Errorf("%w: phase %d lesson %q: %v", ErrInvalidFile, pi+1, l.ID, err)
				}
				steps = append(steps, kind)
			}
			pd.Lessons = append(pd.Lessons, progression.LessonDefinition{
				ID:    l.ID,
				Title: l.Title,
				Steps: steps,
			})
		}
		defs = append(defs, pd)
	}
	return defs, nil
}

// Marshal renders a curriculum back to the file format.
func Marshal(c *progression.Curriculum) ([]byte, error) {
	out := yamlCurriculum{Version: supportedVersion}
	lessons := c.Lessons()
	for _, p := range c.Phases() {
		yp := yamlPhase{Title: p.Title}
		for _, l := range lessons[p.Start:p.End] {
			steps := make([]string, len(l.Steps))
			for i, k := range l.Steps {
				steps[i] = k.String()
			}
			yp.Lessons = append(yp.Lessons, yamlLesson{ID: l.ID, Title: l.Title, Steps: steps})
		}
		out.Phases = append(out.Phases, yp)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode curriculum: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode curriculum: %w", err)
	}
	return buf.Bytes(), nil
}
