package sse

import (
	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/project"
)

// eventData flattens an event into the JSON payload sent to clients.
func eventData(root string, ev project.Event) map[string]any {
	data := map[string]any{"root": root}
	switch e := ev.(type) {
	case project.FolderAdded:
		data["folder"] = e.Folder
	case project.DocumentAdded:
		data["document"] = e.Document
	case project.ItemRemoved:
		data["path"] = e.Path
		data["is_dir"] = e.IsDir
	case project.ItemCreated:
		data["path"] = e.Path
		data["is_dir"] = e.IsDir
	case project.FolderRenameRequested:
		data["path"] = e.Folder.Path
		data["new_path"] = e.NewPath
	case project.DocumentRenameRequested:
		data["path"] = e.Document.Path
		data["new_path"] = e.NewPath
	case project.FolderTrashRequested:
		data["path"] = e.Folder.Path
	case project.DocumentTrashRequested:
		data["path"] = e.Document.Path
	case project.FolderDeleteRequested:
		data["path"] = e.Folder.Path
	case project.DocumentDeleteRequested:
		data["path"] = e.Document.Path
	case project.MetadataChanged:
		data["path"] = e.Path
		data["modified"] = e.Modified
	case project.Selected:
		data["path"] = e.Path
	case project.Duplicated:
		data["source"] = e.Source
		data["target"] = e.Target
	case project.NotifyErr:
		data["message"] = e.Message
	case library.SelectionChanged:
		data["path"] = e.Path
	case library.OpenDocumentChanged:
		data["path"] = e.Path
	}
	return data
}

func changesTree(ev project.Event) bool {
	switch ev.(type) {
	case project.FolderAdded, project.DocumentAdded, project.ItemRemoved, project.MetadataChanged,
		library.ProjectAdded, library.ProjectRemoved:
		return true
	}
	return false
}
