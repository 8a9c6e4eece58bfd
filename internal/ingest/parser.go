package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}(?:[ T][0-9:.]+(?:Z|[+-][0-9:]+)?)?)\s`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=("[^"]*"|[^\s]+)`)
)

// Fields is one parsed line: lower-cased column names to raw values.
type Fields map[string]string

// Parser turns scraper output lines into Fields. It understands JSON
// objects, CSV with a header row and key=value text. A CSV header is
// remembered for the lines that follow it.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil Fields for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (Fields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		return ParseJSONBytes([]byte(trim))
	}
	if !reKV.MatchString(trim) && strings.Contains(trim, ",") {
		return p.csv.Parse(trim)
	}
	return parsePlain(trim), nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) Fields {
	fields := Fields{}
	if ts, _ := extractTimestamp(line); ts != "" {
		fields["observed_at"] = ts
	}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		fields[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	return fields
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line + " ")
	if len(m) >= 4 {
		return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[min(m[3], len(line)):])
	}
	return "", line
}

func firstNonEmpty(m Fields, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse reads one CSV line. Lines before a header row are rejected since
// their columns cannot be named.
func (p *CSVParser) Parse(line string) (Fields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	if p.header == nil {
		return nil, errMissingHeader
	}
	fields := Fields{}
	for i, name := range p.header {
		if i >= len(record) || name == "" {
			break
		}
		if v := strings.TrimSpace(record[i]); v != "" {
			fields[name] = v
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "parcel_id", "parcel", "folio", "event_type", "observed_at", "permit_number":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(v), " ", "_"))
	}
	return out
}
