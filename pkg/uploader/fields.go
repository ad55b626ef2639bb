package uploader

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/httprunner/ActivityUploader/internal/config"
)

// AssetPath returns images/<activity>/<unix-ms>_<basename>.jpg and the file
// name part of it. The extension is always .jpg, whatever the source format.
func AssetPath(activity, originalName string, at time.Time) (assetPath, fileName string) {
	fileName = fmt.Sprintf("%d_%s.jpg", at.UnixMilli(), baseName(originalName))
	return "images/" + activity + "/" + fileName, fileName
}

func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// BuildFields assembles the Bitable row: the non-empty image URLs by upload
// order plus every non-empty captured form field. The name column is left to
// the caller since only creates carry it.
func BuildFields(names config.FieldNames, form Form, urls []string) map[string]any {
	fields := make(map[string]any)
	for i, column := range names.ImageURLFields() {
		if i < len(urls) && urls[i] != "" {
			fields[column] = urls[i]
		}
	}
	setText(fields, names.City, form.City)
	setText(fields, names.Date, form.Date)
	setText(fields, names.WorkshopType, form.WorkshopType)
	if lines := splitLines(form.Highlights); len(lines) > 0 && names.Highlights != "" {
		fields[names.Highlights] = lines
	}
	quoteColumns := [3][2]string{
		{names.QuoteText, names.QuoteAuthor},
		{names.QuoteText2, names.QuoteAuthor2},
		{names.QuoteText3, names.QuoteAuthor3},
	}
	for i, cols := range quoteColumns {
		setText(fields, cols[0], form.Quotes[i].Text)
		setText(fields, cols[1], form.Quotes[i].Author)
	}
	return fields
}

func setText(fields map[string]any, column, value string) {
	if column == "" || strings.TrimSpace(value) == "" {
		return
	}
	fields[column] = value
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
