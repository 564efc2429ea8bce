package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat selects an export encoding
type ExportFormat string

const (
	ExportJSON   ExportFormat = "json"
	ExportCSV    ExportFormat = "csv"
	ExportNDJSON ExportFormat = "ndjson"
)

// ParseExportFormat maps a query value to a format, defaulting to JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportJSON:
		return ExportJSON, nil
	case ExportCSV:
		return ExportCSV, nil
	case ExportNDJSON:
		return ExportNDJSON, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type and file extension for f
func (f ExportFormat) ContentType() (string, string) {
	switch f {
	case ExportCSV:
		return "text/csv", "csv"
	case ExportNDJSON:
		return "application/x-ndjson", "ndjson"
	default:
		return "application/json", "json"
	}
}

// Export encodes events in the given format
func Export(events []*Event, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportCSV:
		return exportCSV(events)
	case ExportNDJSON:
		return exportNDJSON(events)
	case ExportJSON, "":
		return json.MarshalIndent(events, "", "  ")
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

func exportNDJSON(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, e := range events {
		if err := encoder.Encode(e); err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return buf.Bytes(), nil
}

var csvHeader = []string{
	"ID", "Timestamp", "UserID", "Action", "ResourceType", "ResourceID",
	"RiskLevel", "Success", "IPAddress", "UserAgent", "RequestID", "ErrorMessage", "Details",
}

func exportCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range events {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode details: %w", err)
		}
		userID := ""
		if e.UserID != nil {
			userID = *e.UserID
		}
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			userID,
			string(e.Action),
			e.ResourceType,
			e.ResourceID,
			string(e.RiskLevel),
			strconv.FormatBool(e.Success),
			e.IPAddress,
			e.UserAgent,
			e.RequestID,
			e.ErrorMessage,
			string(details),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
