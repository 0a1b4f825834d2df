package lineproto

import (
	"sort"
	"strconv"
	"strings"
)

// TriggerTag is the tag key that carries the record trigger.
// It is always written last among the tags.
const TriggerTag = "trigger"

// FieldName is the single field written for every record.
const FieldName = "value"

// Point is one measurement ready for encoding.
type Point struct {
	Measurement    string
	Tags           map[string]string
	Trigger        string
	Value          float64
	TimestampNanos int64
}

// Encode formats a point as a single line protocol record.
//
// Format: measurement,tag1=v1,tag2=v2,trigger=T value=<float> <timestamp_ns>
//
// Tags are sorted by key. A tag named "trigger" in p.Tags is dropped in
// favour of p.Trigger.
func Encode(p Point) string {
	var b strings.Builder

	b.WriteString(escape(p.Measurement))

	keys := make([]string, 0, len(p.Tags))
	for k := range p.Tags {
		if k == TriggerTag {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(escape(k))
		b.WriteByte('=')
		b.WriteString(escape(p.Tags[k]))
	}

	b.WriteByte(',')
	b.WriteString(TriggerTag)
	b.WriteByte('=')
	b.WriteString(escape(p.Trigger))

	b.WriteByte(' ')
	b.WriteString(FieldName)
	b.WriteByte('=')
	b.WriteString(strconv.FormatFloat(p.Value, 'f', -1, 64))

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.TimestampNanos, 10))

	return b.String()
}

// EncodeBatch encodes points and joins them with newlines, preserving order.
func EncodeBatch(points []Point) string {
	lines := make([]string, len(points))
	for i, p := range points {
		lines[i] = Encode(p)
	}
	return strings.Join(lines, "\n")
}

// escaper backslash-escapes the line protocol delimiters and strips
// newlines so a name can never start a second record.
var escaper = strings.NewReplacer(
	"\n", "",
	"\r", "",
	" ", `\ `,
	",", `\,`,
	"=", `\=`,
)

// escape is applied to measurement names, tag keys and tag values.
func escape(s string) string {
	return escaper.Replace(s)
}
