// Package loader is the embedded application table that exec and the
// initial shell spawn read from, a link-time blob of named ELF images.
// Go has no direct equivalent of a linker-placed symbol table, so this
// tree uses go:embed (tools/genapps generates the embedded directory)
// in place of a hand-rolled (name-pointer, [start,end)) pair array; the
// lookup is still a linear search by name.
package loader

import "sort"

/// App is one named ELF image in the embedded application table.
type App struct {
	Name string
	Data []byte
}

/// Table is the in-memory form of the embedded application table,
/// sorted by name at construction so lookups and directory listings
/// are both deterministic.
type Table struct {
	apps []App
}

/// NewTable builds a Table from a name->bytes map, the shape
/// go:embed's embed.FS.ReadFile calls naturally produce.
func NewTable(apps map[string][]byte) *Table {
	t := &Table{apps: make([]App, 0, len(apps))}
	for name, data := range apps {
		t.apps = append(t.apps, App{Name: name, Data: data})
	}
	sort.Slice(t.apps, func(i, j int) bool { return t.apps[i].Name < t.apps[j].Name })
	return t
}

/// GetAppDataByName performs a linear search over the table,
/// returning the ELF bytes for name.
func (t *Table) GetAppDataByName(name string) ([]byte, bool) {
	for _, a := range t.apps {
		if a.Name == name {
			return a.Data, true
		}
	}
	return nil, false
}

/// Names lists every embedded application, in sorted order.
func (t *Table) Names() []string {
	out := make([]string, len(t.apps))
	for i, a := range t.apps {
		out[i] = a.Name
	}
	return out
}
