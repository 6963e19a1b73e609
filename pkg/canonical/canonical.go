// Package canonical encodes values as deterministic JSON and digests them.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrKeyCollision    = errors.New("canonical: keys collide after normalization")
	ErrUnsupportedType = errors.New("canonical: unsupported type")
)

// Marshal encodes v as canonical JSON: object keys sorted after NFC normalization,
// no insignificant whitespace and null object members dropped.
// Numbers are kept exactly as encoding/json renders them.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, generic); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Digest returns the lowercase hex SHA-256 of the canonical encoding of v.
func Digest(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:]), nil
}

type mapEntry struct {
	key   string
	value any
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(value.String())
	case string:
		return writeString(buf, value)
	case map[string]any:
		return writeMap(buf, value)
	case []any:
		return writeSlice(buf, value)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}

	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}

	buf.Write(encoded)

	return nil
}

func writeMap(buf *bytes.Buffer, m map[string]any) error {
	entries := make([]mapEntry, 0, len(m))
	seen := make(map[string]struct{}, len(m))

	for key, val := range m {
		normalized := norm.NFC.String(key)
		if _, ok := seen[normalized]; ok {
			return fmt.Errorf("%w: %q", ErrKeyCollision, normalized)
		}

		seen[normalized] = struct{}{}

		if val == nil {
			continue
		}

		entries = append(entries, mapEntry{key: normalized, value: val})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})

	buf.WriteByte('{')

	for i, entry := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := writeString(buf, entry.key); err != nil {
			return err
		}

		buf.WriteByte(':')

		if err := writeValue(buf, entry.value); err != nil {
			return err
		}
	}

	buf.WriteByte('}')

	return nil
}

func writeSlice(buf *bytes.Buffer, items []any) error {
	buf.WriteByte('[')

	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := writeValue(buf, item); err != nil {
			return err
		}
	}

	buf.WriteByte(']')

	return nil
}
