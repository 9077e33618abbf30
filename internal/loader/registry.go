package loader

import (
	"fmt"

	"vramd/internal/catalog"
	"vramd/internal/config"
	"vramd/internal/manager"
)

// Registrar is the manager surface used to bind loaders.
type Registrar interface {
	RegisterLoader(id string, l manager.Loader) error
}

// RegisterConfigured binds a loader to every catalog entry named in kinds
// (id -> kind, or "*" for all entries). Unknown kinds or ids fail.
func RegisterConfigured(r Registrar, cat *catalog.Catalog, root string, kinds map[string]string) (int, error) {
	n := 0
	bind := func(d catalog.Descriptor, kind string) error {
		switch kind {
		case config.LoaderFile:
			if err := r.RegisterLoader(d.ID, File{Path: d.Path(root)}); err != nil {
				return err
			}
			n++
			return nil
		default:
			return fmt.Errorf("loader for %s: unknown kind %q", d.ID, kind)
		}
	}
	if kind, ok := kinds[config.LoaderAll]; ok {
		for _, d := range cat.All() {
			if _, explicit := kinds[d.ID]; explicit {
				continue
			}
			if err := bind(d, kind); err != nil {
				return n, err
			}
		}
	}
	for id, kind := range kinds {
		if id == config.LoaderAll {
			continue
		}
		d, ok := cat.Get(id)
		if !ok {
			return n, manager.ErrModelNotFound(id)
		}
		if err := bind(d, kind); err != nil {
			return n, err
		}
	}
	return n, nil
}
