// Package catalog serves the display metadata for dispute statuses,
// resolutions and reason codes.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tutorflow/dispute"
)

//go:embed default.yaml
var defaultYAML []byte

type Entry struct {
	Code        int    `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type Catalog struct {
	Statuses    []Entry `yaml:"statuses" json:"statuses"`
	Resolutions []Entry `yaml:"resolutions" json:"resolutions"`
	Reasons     []Entry `yaml:"reasons" json:"reasons"`

	statusByCode     map[int]Entry
	resolutionByCode map[int]Entry
	reasonByCode     map[int]Entry
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads the catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document. Every lifecycle status,
// resolution and reason code must be described exactly once.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	var err error
	if c.statusByCode, err = index("status", c.Statuses); err != nil {
		return nil, err
	}
	if c.resolutionByCode, err = index("resolution", c.Resolutions); err != nil {
		return nil, err
	}
	if c.reasonByCode, err = index("reason", c.Reasons); err != nil {
		return nil, err
	}

	for s := dispute.StatusPendingReconciliation; s <= dispute.StatusResolvedDraw; s++ {
		if _, ok := c.statusByCode[int(s)]; !ok {
			return nil, fmt.Errorf("catalog: status %d not described", s)
		}
	}
	for _, r := range []dispute.Resolution{dispute.ResolutionLearnerWin, dispute.ResolutionTutorWin, dispute.ResolutionDraw} {
		if _, ok := c.resolutionByCode[int(r)]; !ok {
			return nil, fmt.Errorf("catalog: resolution %d not described", r)
		}
	}
	for code := dispute.ReasonTutorAbsent; code <= dispute.ReasonOther; code++ {
		if _, ok := c.reasonByCode[int(code)]; !ok {
			return nil, fmt.Errorf("catalog: reason %d not described", code)
		}
	}

	return &c, nil
}

func (c *Catalog) Status(s dispute.Status) (Entry, bool) {
	e, ok := c.statusByCode[int(s)]
	return e, ok
}

func (c *Catalog) Resolution(r dispute.Resolution) (Entry, bool) {
	e, ok := c.resolutionByCode[int(r)]
	return e, ok
}

func (c *Catalog) Reason(code dispute.ReasonCode) (Entry, bool) {
	e, ok := c.reasonByCode[int(code)]
	return e, ok
}

// StatusLabel returns the label for s, falling back to its numeric code.
func (c *Catalog) StatusLabel(s dispute.Status) string {
	if e, ok := c.Status(s); ok {
		return e.Label
	}
	return fmt.Sprintf("status %d", s)
}

func index(kind string, entries []Entry) (map[int]Entry, error) {
	out := make(map[int]Entry, len(entries))
	for _, e := range entries {
		if e.Label == "" {
			return nil, fmt.Errorf("catalog: %s %d has no label", kind, e.Code)
		}
		if _, dup := out[e.Code]; dup {
			return nil, fmt.Errorf("catalog: duplicate %s code %d", kind, e.Code)
		}
		out[e.Code] = e
	}
	return out, nil
}
