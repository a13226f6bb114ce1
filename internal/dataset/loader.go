package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/types"
)

// LoadOptions fill in columns that a sheet does not carry.
type LoadOptions struct {
	ClientID   string
	ClientName string
}

// RowError describes a spreadsheet row that could not be turned into a
// transcript. Row numbers are 1-based as shown in spreadsheet tools.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

type columns struct {
	session, client, clientName, start, end, transcript int
}

// detectColumns maps header cells to fields by name heuristics.
func detectColumns(header []string) columns {
	c := columns{-1, -1, -1, -1, -1, -1}
	set := func(idx *int, i int) {
		if *idx == -1 {
			*idx = i
		}
	}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "client") && strings.Contains(l, "name"):
			set(&c.clientName, i)
		case strings.Contains(l, "client"):
			set(&c.client, i)
		case strings.Contains(l, "session") || strings.Contains(l, "conversation") || l == "id" || strings.Contains(l, "call id"):
			set(&c.session, i)
		case strings.Contains(l, "start"):
			set(&c.start, i)
		case strings.Contains(l, "end"):
			set(&c.end, i)
		case strings.Contains(l, "transcript") || strings.Contains(l, "messages") || strings.Contains(l, "text"):
			set(&c.transcript, i)
		}
	}
	return c
}

// LoadTranscripts reads upload payloads from the first sheet of an xlsx
// workbook. Rows that cannot be parsed are reported and skipped.
func LoadTranscripts(path string, opts LoadOptions) ([]types.TranscriptPayload, []RowError, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil, fmt.Errorf("no data rows")
	}

	cols := detectColumns(rows[0])
	if cols.session == -1 || cols.transcript == -1 {
		return nil, nil, fmt.Errorf("header must name a conversation id and a transcript column")
	}
	if cols.client == -1 && opts.ClientID == "" {
		return nil, nil, fmt.Errorf("no client id column and no default client id")
	}

	var (
		out     []types.TranscriptPayload
		skipped []RowError
	)
	for i, r := range rows[1:] {
		rowNum := i + 2
		if isBlank(r) {
			continue
		}
		p, err := parseRow(r, cols, opts)
		if err != nil {
			skipped = append(skipped, RowError{Row: rowNum, Err: err})
			continue
		}
		out = append(out, p)
	}
	return out, skipped, nil
}

func parseRow(r []string, cols columns, opts LoadOptions) (types.TranscriptPayload, error) {
	p := types.TranscriptPayload{
		SessionID:  cell(r, cols.session),
		ClientID:   firstNonEmpty(cell(r, cols.client), opts.ClientID),
		ClientName: firstNonEmpty(cell(r, cols.clientName), opts.ClientName),
	}
	if p.SessionID == "" {
		return p, fmt.Errorf("empty conversation id")
	}
	var err error
	if p.StartTime, err = parseCellTime(cell(r, cols.start)); err != nil {
		return p, fmt.Errorf("start: %w", err)
	}
	if p.EndTime, err = parseCellTime(cell(r, cols.end)); err != nil {
		return p, fmt.Errorf("end: %w", err)
	}
	if p.Messages, err = ParseMessages(cell(r, cols.transcript)); err != nil {
		return p, err
	}
	return p, nil
}

// ParseMessages accepts either a JSON array of messages or "Role: text"
// lines. Lines without a known speaker prefix continue the previous turn.
func ParseMessages(s string) ([]types.MessageItem, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty transcript")
	}
	if strings.HasPrefix(s, "[") {
		var msgs []types.MessageItem
		if err := json.Unmarshal([]byte(s), &msgs); err != nil {
			return nil, fmt.Errorf("transcript json: %w", err)
		}
		indexed := false
		for _, m := range msgs {
			if m.MessageIndex != 0 {
				indexed = true
				break
			}
		}
		if !indexed {
			for i := range msgs {
				msgs[i].MessageIndex = i
			}
		}
		return msgs, nil
	}

	var msgs []types.MessageItem
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if speaker, text, ok := strings.Cut(line, ":"); ok {
			if _, known := types.ParseRole(speaker); known {
				msgs = append(msgs, types.MessageItem{
					Role:         strings.ToLower(strings.TrimSpace(speaker)),
					Text:         strings.TrimSpace(text),
					MessageIndex: len(msgs),
				})
				continue
			}
		}
		if len(msgs) == 0 {
			return nil, fmt.Errorf("transcript line %q has no speaker", line)
		}
		msgs[len(msgs)-1].Text += "\n" + line
	}
	return msgs, nil
}

var cellTimeLayouts = []string{
	"2006-01-02 15:04",
	"01-02-06 15:04",
	"1/2/06 15:04",
	"1/2/2006 15:04:05",
}

func parseCellTime(s string) (time.Time, error) {
	if t, err := types.ParseTimestamp(s); err == nil {
		return t, nil
	}
	for _, layout := range cellTimeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}

func isBlank(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
