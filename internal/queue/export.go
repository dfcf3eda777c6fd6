package queue

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"nexvmeta/internal/domain"
	"nexvmeta/pkg/zip"
)

// csvHeader follows the Adobe Stock contributor CSV upload format.
var csvHeader = []string{"Filename", "Title", "Keywords", "Category", "Releases"}

// MetadataCSV renders finished items in marketplace CSV form. Items without a
// result are skipped.
func MetadataCSV(items []domain.QueueItem) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Status != domain.QueueStatusDone || item.Result == nil {
			continue
		}
		category := ""
		if item.Result.Category > 0 {
			category = strconv.Itoa(item.Result.Category)
		}
		if err := w.Write([]string{
			item.Filename,
			item.Result.Title,
			strings.Join(item.Result.Tags(), ", "),
			category,
			"",
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export writes a zip with metadata.csv and one JSON document per finished item.
func Export(out io.Writer, items []domain.QueueItem) error {
	csvData, err := MetadataCSV(items)
	if err != nil {
		return fmt.Errorf("queue: render csv: %w", err)
	}
	entries := []zip.Entry{{Name: "metadata.csv", Data: csvData}}
	for _, item := range items {
		if item.Status != domain.QueueStatusDone || item.Result == nil {
			continue
		}
		doc, err := json.MarshalIndent(item.Result, "", "  ")
		if err != nil {
			return fmt.Errorf("queue: encode %s: %w", item.ID, err)
		}
		base := strings.TrimSuffix(path.Base(item.Filename), path.Ext(item.Filename))
		entries = append(entries, zip.Entry{Name: base + ".json", Data: doc, Modified: item.UpdatedAt})
	}
	return zip.Write(out, entries)
}
