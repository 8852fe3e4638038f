// Package parser decodes and encodes note files: an optional leading block of
// "Key: Value" headers, a blank line, then a plain-text body.
package parser

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// Recognised header names, in canonical output order.
const (
	HeaderContentType = "Content-Type"
	HeaderCreated     = "Created"
	HeaderModified    = "Modified"
	HeaderTitle       = "Title"
)

// DefaultContentType is written when a note carries none.
const DefaultContentType = "text/subtext"

// Result holds the output of parsing a note file.
type Result struct {
	Headers     map[string]string // unrecognised headers, keys as written
	ContentType string
	Title       string
	Created     time.Time
	Modified    time.Time
	Body        string
}

// Parse splits data into headers and body. A file whose first line is not a
// header is a bare body. Malformed timestamps are ignored.
func Parse(data []byte) *Result {
	res := &Result{}
	headers, body, ok := splitHeaders(data)
	if !ok {
		res.Body = string(data)
		return res
	}
	res.Body = body

	for _, h := range headers {
		switch strings.ToLower(h.key) {
		case "content-type":
			res.ContentType = h.value
		case "title":
			res.Title = h.value
		case "created":
			res.Created = parseTime(h.value)
		case "modified":
			res.Modified = parseTime(h.value)
		default:
			if res.Headers == nil {
				res.Headers = make(map[string]string)
			}
			res.Headers[h.key] = h.value
		}
	}
	return res
}

// Note decodes data into a models.Note for id. Missing timestamps fall back to
// fallback (usually the file's mtime); a missing title is derived from the body.
func Note(id models.Identity, data []byte, fallback time.Time) models.Note {
	res := Parse(data)
	n := models.Note{
		Identity:    id,
		Title:       res.Title,
		Body:        res.Body,
		ContentType: res.ContentType,
		Created:     res.Created,
		Modified:    res.Modified,
		Headers:     res.Headers,
	}
	if n.Modified.IsZero() {
		n.Modified = fallback.UTC().Truncate(time.Second)
	}
	if n.Created.IsZero() {
		n.Created = n.Modified
	}
	if n.Title == "" {
		n.Title = DeriveTitle(res.Body, id)
	}
	return n
}

// Encode renders n as a note file.
func Encode(n models.Note) []byte {
	var buf bytes.Buffer
	ct := n.ContentType
	if ct == "" {
		ct = DefaultContentType
	}
	writeHeader(&buf, HeaderContentType, ct)
	if !n.Created.IsZero() {
		writeHeader(&buf, HeaderCreated, n.Created.UTC().Format(time.RFC3339))
	}
	if !n.Modified.IsZero() {
		writeHeader(&buf, HeaderModified, n.Modified.UTC().Format(time.RFC3339))
	}
	if n.Title != "" {
		writeHeader(&buf, HeaderTitle, n.Title)
	}
	keys := make([]string, 0, len(n.Headers))
	for k := range n.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, n.Headers[k])
	}
	buf.WriteByte('\n')
	buf.WriteString(n.Body)
	return buf.Bytes()
}

// maxTitleRunes caps a derived title.
const maxTitleRunes = 120

// DeriveTitle returns the first non-empty body line without leading heading
// markers, or the last identity segment when the body is blank.
func DeriveTitle(body string, id models.Identity) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if trimmed != "" {
			if r := []rune(trimmed); len(r) > maxTitleRunes {
				trimmed = strings.TrimSpace(string(r[:maxTitleRunes]))
			}
			return trimmed
		}
	}
	s := string(id)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return strings.ReplaceAll(s, "-", " ")
}

type header struct{ key, value string }

// splitHeaders reads header lines up to the first blank line. It reports
// ok=false as soon as a line is not a well-formed header.
func splitHeaders(data []byte) ([]header, string, bool) {
	var headers []header
	rest := data
	for len(rest) > 0 {
		line := rest
		next := []byte(nil)
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, next = rest[:i], rest[i+1:]
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			if len(headers) == 0 {
				return nil, "", false
			}
			return headers, string(next), true
		}
		key, value, ok := strings.Cut(string(line), ":")
		if !ok || !validKey(key) {
			return nil, "", false
		}
		headers = append(headers, header{key: key, value: strings.TrimSpace(value)})
		rest = next
	}
	// Headers with no body separator: the whole file is headers.
	if len(headers) > 0 {
		return headers, "", true
	}
	return nil, "", false
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func parseTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(strings.ReplaceAll(value, "\n", " "))
	buf.WriteByte('\n')
}
