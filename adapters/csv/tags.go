package csv

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/logging"
)

var tagEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `:`, `\:`)

// SerializeTags writes tags as "key:value," pairs sorted by key, escaping
// commas, colons and backslashes with a backslash
func SerializeTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(tagEscaper.Replace(k))
		sb.WriteByte(':')
		sb.WriteString(tagEscaper.Replace(tags[k]))
		sb.WriteByte(',')
	}
	return sb.String()
}

// DeserializeTags parses the output of SerializeTags. Keys and values are
// trimmed and lowercased; malformed pairs are logged and skipped.
func DeserializeTags(s string) map[string]string {
	tags := make(map[string]string)

	var key, current strings.Builder
	inValue, escaped := false, false
	flush := func() {
		k := strings.ToLower(strings.TrimSpace(key.String()))
		switch {
		case !inValue && current.Len() == 0:
		case !inValue || k == "":
			logging.Warn("Unexpected tag format", zap.String("tag", key.String()+current.String()))
		default:
			tags[k] = strings.ToLower(strings.TrimSpace(current.String()))
		}
		key.Reset()
		current.Reset()
		inValue = false
	}

	for _, c := range s {
		switch {
		case escaped:
			current.WriteRune(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ':' && !inValue:
			key.WriteString(current.String())
			current.Reset()
			inValue = true
		case c == ',':
			flush()
		default:
			current.WriteRune(c)
		}
	}
	flush()
	return tags
}

// parseConsumerTags parses the "key:value,key:value" ConsumerTags column.
// Values are not escaped in this column.
func parseConsumerTags(s string, tags map[string]string) {
	for _, tag := range strings.Split(s, ",") {
		if tag == "" {
			continue
		}
		k, v, ok := strings.Cut(tag, ":")
		if !ok || strings.TrimSpace(k) == "" || strings.Contains(v, ":") {
			logging.Warn("Unexpected consumer tag format", zap.String("tag", tag))
			continue
		}
		tags[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
}

// fillFromTags sets service, instance and dimensions of a record from the
// configured tag keys, first present key winning
func fillFromTags(record *types.Record, keys config.TagKeys) {
	if v, ok := lookupTag(record.Tags, keys.Service); ok {
		record.Service = v
	}
	if v, ok := lookupTag(record.Tags, keys.Instance); ok {
		record.Instance = v
	}
	for dimension, tagKeys := range keys.Dimensions {
		if v, ok := lookupTag(record.Tags, tagKeys); ok {
			record.Dimensions[dimension] = v
		}
	}
}

func lookupTag(tags map[string]string, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := tags[k]; ok {
			return strings.ToLower(strings.TrimSpace(v)), true
		}
	}
	return "", false
}
