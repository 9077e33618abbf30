package catalog

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"vramd/internal/common/fsutil"
)

// WriteDerived writes the catalog into root/models_manifest.json so external
// health checks can read the expected layout without the source manifest.
func WriteDerived(root string, c *Catalog) (string, error) {
	mf := manifestFile{Models: make(map[string]Descriptor, c.Len())}
	for _, d := range c.All() {
		mf.Models[d.ID] = d
	}
	b, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	p := filepath.Join(root, DerivedName)
	if err := fsutil.WriteFileAtomic(p, append(b, '\n'), 0o644); err != nil {
		return "", err
	}
	return p, nil
}
