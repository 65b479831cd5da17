// Package cli provides output helpers for the Shashin CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/pkg/utils"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json" (case-insensitive).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

const maxPathWidth = 72

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d images for %q in %dms (%s store)\n\n",
		response.Total, response.Query, response.QueryTime, response.StoreType)
	for _, r := range response.Results {
		fmt.Fprintf(w, "%3d. %.4f  %s\n", r.Rank, r.Similarity, utils.Truncate(r.Path, maxPathWidth))
	}
	if response.Total > 0 {
		fmt.Fprintln(w)
	}
	return nil
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteInteractions writes logged searches, newest first.
func WriteInteractions(w io.Writer, list []*models.SearchInteraction, format OutputFormat) error {
	if format == OutputJSON {
		if list == nil {
			list = []*models.SearchInteraction{}
		}
		return writeJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No searches logged.")
		return nil
	}
	for _, in := range list {
		fmt.Fprintf(w, "%s  %-30s %3d results  top %.4f  %s\n",
			humanize.Time(in.CreatedAt),
			fmt.Sprintf("%q", TruncateWords(in.Query, 6)),
			in.ResultsCount, in.TopSimilarity, in.StoreType)
	}
	return nil
}

// Status is the summary printed by the status command.
type Status struct {
	StoreType      string `json:"store_type"`
	StoreSize      int    `json:"store_size"`
	Dimensions     int    `json:"dimensions"`
	DatasetPath    string `json:"data_path"`
	DatasetImages  int    `json:"image_count"`
	DatasetExists  bool   `json:"dataset_exists"`
	Interactions   int64  `json:"interactions"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}

// WriteStatus writes s to w in the given format.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Store:        %s (%s vectors, %d dims)\n", s.StoreType, humanize.Comma(int64(s.StoreSize)), s.Dimensions)
	if s.DatasetExists {
		fmt.Fprintf(w, "Dataset:      %s (%s images)\n", s.DatasetPath, humanize.Comma(int64(s.DatasetImages)))
	} else {
		fmt.Fprintf(w, "Dataset:      %s (missing)\n", s.DatasetPath)
	}
	fmt.Fprintf(w, "Searches:     %s logged\n", humanize.Comma(s.Interactions))
	fmt.Fprintf(w, "Disk usage:   %s\n", humanize.Bytes(uint64(s.DiskUsageBytes)))
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
