package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"lineage/api/internal/validity"
)

//go:embed templates/*.html
var templateFS embed.FS

var sheetTemplate = template.Must(
	template.New("clergy.html").
		Funcs(template.FuncMap{
			"formatDate": func(t time.Time, layout string) string { return t.Format(layout) },
		}).
		ParseFS(templateFS, "templates/clergy.html"),
)

// SheetData is what the record sheet template renders.
type SheetData struct {
	Name          string
	Rank          string
	Church        string
	BirthDate     string
	DeathDate     string
	NotesHTML     template.HTML
	Ordinations   []SheetRecord
	Consecrations []SheetRecord
	LineageSVG    template.HTML
	GeneratedAt   time.Time
}

// SheetRecord is one sacrament row with its effective status.
type SheetRecord struct {
	Bishop string
	Date   string
	Status validity.Status
	Flags  string
	Notes  string
}

// StatusClass names the CSS badge for the row.
func (r SheetRecord) StatusClass() string {
	return "status-" + string(r.Status)
}

func RenderSheetHTML(data SheetData) (string, error) {
	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
