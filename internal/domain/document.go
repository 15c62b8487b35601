package domain

import (
	"path"
	"strings"
)

// EngineInputBase is the fixed engine-side base name for loaded documents.
const EngineInputBase = "/tmp/input"

// DocumentHandle names one loaded document. Name is what the user picked;
// Path lives only inside the engine filesystem.
type DocumentHandle struct {
	Name string
	Path string
}

func (d DocumentHandle) IsZero() bool {
	return d.Path == ""
}

// Extension returns the lowercase extension of name including the dot, or ""
// when the name has no dot after its first character.
func Extension(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	dot := strings.LastIndex(base, ".")
	if dot <= 0 {
		return ""
	}
	return strings.ToLower(base[dot:])
}

// DocumentPathFor derives the engine path for a user file name, keeping only
// its extension.
func DocumentPathFor(name string) string {
	return EngineInputBase + Extension(name)
}

func NewDocumentHandle(name string) DocumentHandle {
	return DocumentHandle{Name: name, Path: DocumentPathFor(name)}
}

// DefaultExportFilter is used for unknown extensions.
const DefaultExportFilter = "MS Word 2007 XML"

var exportFilters = map[string]string{
	".docx": "MS Word 2007 XML",
	".doc":  "MS Word 97",
	".odt":  "writer8",
	".ods":  "calc8",
	".xlsx": "Calc MS Excel 2007 XML",
	".odp":  "impress8",
	".pptx": "Impress MS PowerPoint 2007 XML",
}

// ExportFilterFor maps a document path to the engine export filter.
func ExportFilterFor(p string) string {
	if f, ok := exportFilters[Extension(p)]; ok {
		return f
	}
	return DefaultExportFilter
}

// AcceptsFileType checks name against a comma separated extension list such
// as ".docx,.odt". An empty list accepts everything.
func AcceptsFileType(accepted, name string) bool {
	accepted = strings.TrimSpace(accepted)
	if accepted == "" {
		return true
	}
	ext := Extension(name)
	for _, a := range strings.Split(accepted, ",") {
		if strings.EqualFold(strings.TrimSpace(a), ext) && ext != "" {
			return true
		}
	}
	return false
}
