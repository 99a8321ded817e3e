package usecase

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

const codeFence = "```"

// Normalizer turns raw completion responses into the annotation document.
// It never fails: output that is not JSON is kept as raw text.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) Normalize(responses []string) domain.Annotation {
	if len(responses) == 1 {
		return normalizeSingle(responses[0])
	}
	return normalizeMany(responses)
}

func normalizeSingle(response string) domain.Annotation {
	stripped := stripCodeFence(response)
	value, ok := parseJSON(stripped)
	if !ok {
		return domain.Annotation{Body: []byte(stripped), Fallbacks: 1}
	}
	return domain.Annotation{
		Body:       indentJSON(value),
		Structured: true,
		Records:    decodeRecords(value),
	}
}

func normalizeMany(responses []string) domain.Annotation {
	var (
		list      bytes.Buffer
		fallbacks int
		records   []domain.AnnotationRecord
	)
	list.WriteByte('[')
	for i, response := range responses {
		if i > 0 {
			list.WriteByte(',')
		}
		stripped := stripCodeFence(response)
		if value, ok := parseJSON(stripped); ok {
			list.Write(value)
			records = append(records, decodeRecords(value)...)
			continue
		}
		fallbacks++
		list.Write(encodeString(stripped))
	}
	list.WriteByte(']')

	return domain.Annotation{
		Body:       indentJSON(list.Bytes()),
		Structured: fallbacks == 0,
		Fallbacks:  fallbacks,
		Records:    records,
	}
}

// stripCodeFence removes one surrounding markdown code fence, including an
// optional language tag after the opening fence.
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, codeFence) {
		return text
	}
	text = strings.TrimPrefix(text, codeFence)
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && isFenceTag(text[:nl]) {
		text = text[nl+1:]
	} else {
		text = strings.TrimLeftFunc(text, unicode.IsLetter)
	}
	if end := strings.LastIndex(text, codeFence); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

func isFenceTag(line string) bool {
	for _, r := range strings.TrimSpace(line) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '+' {
			return false
		}
	}
	return true
}

func parseJSON(text string) (json.RawMessage, bool) {
	if text == "" {
		return nil, false
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), true
	}
	for _, span := range jsonSpans(text) {
		if json.Valid([]byte(span)) && len(decodeRecords([]byte(span))) > 0 {
			return json.RawMessage(span), true
		}
	}
	return nil, false
}

// jsonSpans returns the outermost {...} and [...] spans of text, earliest
// opening bracket first.
func jsonSpans(text string) []string {
	type span struct {
		start int
		body  string
	}
	var spans []span
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start {
			spans = append(spans, span{start: start, body: text[start : end+1]})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.body)
	}
	return out
}

func indentJSON(value []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, value, "", "  "); err != nil {
		return value
	}
	return buf.Bytes()
}

func encodeString(text string) []byte {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(text); err != nil {
		return []byte(`""`)
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// decodeRecords collects annotation records from an object or an array of
// objects. Anything else yields nothing.
func decodeRecords(value []byte) []domain.AnnotationRecord {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '{':
		var record domain.AnnotationRecord
		if err := json.Unmarshal(trimmed, &record); err != nil || isEmptyRecord(record) {
			return nil
		}
		return []domain.AnnotationRecord{record}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil
		}
		var out []domain.AnnotationRecord
		for _, item := range items {
			out = append(out, decodeRecords(item)...)
		}
		return out
	default:
		return nil
	}
}

func isEmptyRecord(r domain.AnnotationRecord) bool {
	return r.FileName == "" && r.Description == "" && r.SuggestedFilePath == "" && len(r.Tags) == 0
}
