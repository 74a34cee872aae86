package migrations

import (
	"embed"
	"io/fs"
)

//go:embed snapshots/*.json
var builtinSnapshots embed.FS

var builtinSnapshotFiles []SnapshotFile

func init() {
	files, err := ReadSnapshots(builtinSnapshots, "snapshots")
	if err != nil {
		panic(err)
	}
	builtinSnapshotFiles = files
	for _, m := range ChainSnapshots(files) {
		Register(m)
	}
}

// NewProjectRegistry returns a registry holding the package registrations with the
// snapshot files of dir in fsys chained after the built-in snapshots, so reverting
// the first project snapshot restores the built-in schema. A nil fsys adds no files.
func NewProjectRegistry(fsys fs.FS, dir string) (*Registry, error) {
	files := append([]SnapshotFile(nil), builtinSnapshotFiles...)
	if fsys != nil {
		projectFiles, err := ReadSnapshots(fsys, dir)
		if err != nil {
			return nil, err
		}
		files = append(files, projectFiles...)
	}

	registry := NewRegistry()
	if err := registry.RegisterAll(ChainSnapshots(files)...); err != nil {
		return nil, err
	}

	builtinNames := make(map[string]struct{}, len(builtinSnapshotFiles))
	for _, file := range builtinSnapshotFiles {
		builtinNames[file.Name] = struct{}{}
	}
	for _, m := range Registered() {
		if _, ok := builtinNames[m.Name]; ok {
			continue
		}
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
