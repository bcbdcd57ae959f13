package tccat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/quietbit/arena/pkg/wire"
)

//go:embed controls.yaml
var defaultFiles embed.FS

var (
	ErrUnknownControl = errors.New("unknown time control")
	ErrOutOfRange     = errors.New("time control outside configured range")
)

// Limits bound which time controls the server accepts at queue join.
type Limits struct {
	MinBaseSeconds      uint32 `yaml:"min_base_seconds"`
	MaxBaseSeconds      uint32 `yaml:"max_base_seconds"`
	MaxIncrementSeconds uint32 `yaml:"max_increment_seconds"`
}

type fileFormat struct {
	Limits  *Limits           `yaml:"limits"`
	Presets map[string]string `yaml:"presets"`
}

// Catalog resolves time-control strings, either preset names or raw
// "minutes+increment" forms, against embedded defaults plus an
// optional override directory.
type Catalog struct {
	mu      sync.RWMutex
	limits  Limits
	presets map[string]wire.TimeControl
}

// New loads the embedded catalog and then applies overrides from dir
// if provided. Override files are applied in name order and may not
// redefine a preset another override file already set.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{presets: make(map[string]wire.TimeControl)}
	raw, err := fs.ReadFile(defaultFiles, "controls.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded controls: %w", err)
	}
	if err := c.applyYAML(raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read override dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	seen := make(map[string]string) // preset -> filename
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		var f fileFormat
		if err := yaml.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range f.Presets {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate override preset %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		if err := c.apply(f); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) applyYAML(raw []byte) error {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse controls yaml: %w", err)
	}
	return c.apply(f)
}

func (c *Catalog) apply(f fileFormat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.Limits != nil {
		if f.Limits.MinBaseSeconds == 0 || f.Limits.MaxBaseSeconds < f.Limits.MinBaseSeconds {
			return fmt.Errorf("invalid limits: %+v", *f.Limits)
		}
		c.limits = *f.Limits
	}
	for name, spec := range f.Presets {
		tc, err := Parse(spec)
		if err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
		c.presets[strings.ToLower(strings.TrimSpace(name))] = tc
	}
	return nil
}

// Limits returns the configured acceptance bounds.
func (c *Catalog) Limits() Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits
}

// Resolve maps a queue-join string to a validated time control. It
// accepts preset names ("blitz") and raw forms ("5+3").
func (c *Catalog) Resolve(s string) (wire.TimeControl, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return wire.TimeControl{}, ErrUnknownControl
	}
	c.mu.RLock()
	tc, ok := c.presets[key]
	c.mu.RUnlock()
	if !ok {
		var err error
		tc, err = Parse(key)
		if err != nil {
			return wire.TimeControl{}, err
		}
	}
	if err := c.Validate(tc); err != nil {
		return wire.TimeControl{}, err
	}
	return tc, nil
}

// Validate checks tc against the catalog limits.
func (c *Catalog) Validate(tc wire.TimeControl) error {
	l := c.Limits()
	if tc.BaseSeconds < l.MinBaseSeconds || tc.BaseSeconds > l.MaxBaseSeconds {
		return fmt.Errorf("%w: base %ds", ErrOutOfRange, tc.BaseSeconds)
	}
	if tc.IncrementSeconds > l.MaxIncrementSeconds {
		return fmt.Errorf("%w: increment %ds", ErrOutOfRange, tc.IncrementSeconds)
	}
	return nil
}

// Parse reads the conventional "minutes+increment" form, e.g. "5+3".
func Parse(s string) (wire.TimeControl, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "+", 2)
	if len(parts) != 2 {
		return wire.TimeControl{}, fmt.Errorf("%w: %q", ErrUnknownControl, s)
	}
	mins, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return wire.TimeControl{}, fmt.Errorf("%w: %q", ErrUnknownControl, s)
	}
	// The minutes-to-seconds conversion must not wrap uint32, or an
	// absurd control would sneak under the limits as a tiny one.
	if mins > math.MaxUint32/60 {
		return wire.TimeControl{}, fmt.Errorf("%w: %q", ErrUnknownControl, s)
	}
	inc, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return wire.TimeControl{}, fmt.Errorf("%w: %q", ErrUnknownControl, s)
	}
	if mins == 0 && inc == 0 {
		return wire.TimeControl{}, fmt.Errorf("%w: %q", ErrUnknownControl, s)
	}
	return wire.TimeControl{
		BaseSeconds:      uint32(mins) * 60,
		IncrementSeconds: uint32(inc),
	}, nil
}

// Format renders tc back into the conventional queue-key form.
func Format(tc wire.TimeControl) string {
	if tc.BaseSeconds%60 == 0 {
		return fmt.Sprintf("%d+%d", tc.BaseSeconds/60, tc.IncrementSeconds)
	}
	return fmt.Sprintf("%ds+%d", tc.BaseSeconds, tc.IncrementSeconds)
}

// Base returns the base allotment as a duration.
func Base(tc wire.TimeControl) time.Duration {
	return time.Duration(tc.BaseSeconds) * time.Second
}

// Increment returns the per-move bonus as a duration.
func Increment(tc wire.TimeControl) time.Duration {
	return time.Duration(tc.IncrementSeconds) * time.Second
}
