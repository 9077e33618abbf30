// Package catalog loads the model manifest: the immutable set of descriptors
// the manager is allowed to install, load and delete.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DerivedName is the manifest copy written into the model storage root.
const DerivedName = "models_manifest.json"

// Suffixes of sibling files that belong to a descriptor's weights.
const (
	LegacySuffix  = ".pth"
	PartialSuffix = ".part"
)

// Descriptor describes one downloadable model. Immutable after load.
type Descriptor struct {
	ID          string `json:"-" validate:"required"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty" validate:"omitempty,url"`
	// Path relative to the models root; may name a file or a directory.
	Filename string `json:"filename" validate:"required,localpath"`
	// Lowercase hex SHA-256 of the weights. Empty skips verification.
	Checksum string `json:"checksum,omitempty" validate:"omitempty,len=64,hexadecimal"`
	// Declared size in bytes, used when the server omits Content-Length.
	Size                int64 `json:"size,omitempty" validate:"gte=0"`
	Required            bool  `json:"required,omitempty"`
	RequiresAccelerator bool  `json:"requires_cuda,omitempty"`
}

// Path returns the weight location under root.
func (d Descriptor) Path(root string) string { return filepath.Join(root, d.Filename) }

// LegacyPath returns the sidecar that also marks a model as installed.
func (d Descriptor) LegacyPath(root string) string { return d.Path(root) + LegacySuffix }

// PartialPath returns the in-flight download target.
func (d Descriptor) PartialPath(root string) string { return d.Path(root) + PartialSuffix }

// Catalog is a read-only, id-indexed set of descriptors.
type Catalog struct {
	byID    map[string]Descriptor
	order   []string
	skipped map[string]string
}

type manifestFile struct {
	Models map[string]Descriptor `json:"models"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("localpath", func(fl validator.FieldLevel) bool {
		return validFilename(fl.Field().String())
	})
	return v
}

// validFilename accepts a path strictly below the models root that does not
// collide with the derived manifest or the sibling files the manager owns.
func validFilename(name string) bool {
	if !filepath.IsLocal(name) {
		return false
	}
	clean := filepath.Clean(name)
	if clean == "." || clean == DerivedName {
		return false
	}
	return !strings.HasSuffix(clean, PartialSuffix) && !strings.HasSuffix(clean, LegacySuffix)
}

// overlapping reports whether a and b name the same weights or one lies
// inside the other's directory.
func overlapping(a, b string) bool {
	a = filepath.ToSlash(filepath.Clean(a))
	b = filepath.ToSlash(filepath.Clean(b))
	return a == b || strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/")
}

// Empty returns a catalog with no entries.
func Empty() *Catalog {
	return &Catalog{byID: map[string]Descriptor{}, skipped: map[string]string{}}
}

// New builds a catalog from already constructed descriptors, applying the
// same validation as Load.
func New(descs ...Descriptor) *Catalog {
	c := Empty()
	for _, d := range descs {
		c.add(d)
	}
	c.sortOrder()
	return c
}

// Load reads and validates a manifest file. A missing or malformed file is a
// *ConfigError; invalid entries are skipped and reported by Skipped.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	c, err := Parse(b)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return c, nil
}

// Parse decodes manifest JSON. Entries are accepted in id order, so when two
// filenames overlap the later id is the one skipped.
func Parse(b []byte) (*Catalog, error) {
	var mf manifestFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if mf.Models == nil {
		return nil, errors.New(`manifest has no "models" object`)
	}
	ids := make([]string, 0, len(mf.Models))
	for id := range mf.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c := Empty()
	for _, id := range ids {
		d := mf.Models[id]
		d.ID = id
		c.add(d)
	}
	c.sortOrder()
	return c, nil
}

func (c *Catalog) add(d Descriptor) {
	d.Checksum = strings.ToLower(strings.TrimSpace(d.Checksum))
	if d.Name == "" {
		d.Name = d.ID
	}
	if err := validate.Struct(d); err != nil {
		c.skipped[d.ID] = describeValidation(err)
		return
	}
	for _, other := range c.order {
		if other != d.ID && overlapping(c.byID[other].Filename, d.Filename) {
			c.skipped[d.ID] = fmt.Sprintf("filename %q overlaps model %s", d.Filename, other)
			return
		}
	}
	if _, dup := c.byID[d.ID]; !dup {
		c.order = append(c.order, d.ID)
	}
	c.byID[d.ID] = d
}

func (c *Catalog) sortOrder() { sort.Strings(c.order) }

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns every descriptor sorted by id.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// IDs returns every id in sorted order.
func (c *Catalog) IDs() []string { return append([]string(nil), c.order...) }

func (c *Catalog) Len() int { return len(c.order) }

// Skipped returns id -> reason for entries rejected by validation.
func (c *Catalog) Skipped() map[string]string {
	out := make(map[string]string, len(c.skipped))
	for k, v := range c.skipped {
		out[k] = v
	}
	return out
}
