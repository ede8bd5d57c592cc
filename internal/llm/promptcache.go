package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ComposeMessages orders messages for prompt-cache stability: static system
// content first, then append-only prior turns, then the dynamic user message
// last. Relative order within each group is preserved, so repeated calls with
// a growing dynamic tail keep an identical static prefix.
func ComposeMessages(static, prior []Message, dynamic Message) []Message {
	out := make([]Message, 0, len(static)+len(prior)+1)
	for _, m := range static {
		m.Static = true
		out = append(out, m)
	}
	out = append(out, prior...)
	out = append(out, dynamic)
	return out
}

// MarshalDeterministic serializes v as canonical JSON: object keys sorted,
// no incidental whitespace. Tool schemas and cache keys go through this so
// byte-identical serialization is guaranteed across runs.
func MarshalDeterministic(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, decoded); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(val.String())
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonical encode: %w", err)
		}
		buf.Write(b)
		return nil
	}
}

// lastStaticIndex returns the index of the last static message, or -1.
// Providers with explicit cache markers attach them there.
func lastStaticIndex(messages []Message) int {
	last := -1
	for i, m := range messages {
		if m.Static {
			last = i
		}
	}
	return last
}
