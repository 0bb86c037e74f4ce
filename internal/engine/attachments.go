package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// decodeDataURI returns the text carried by a data URI
// ("data:[<mediatype>][;base64],<data>"). Binary payloads are rejected because
// they cannot be embedded in a prompt.
func decodeDataURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return "", errors.New("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", errors.New("data URI has no payload separator")
	}

	var raw []byte
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some producers drop the padding.
			if b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err != nil {
				return "", fmt.Errorf("decode base64: %w", err)
			}
		}
		raw = b
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return "", fmt.Errorf("unescape payload: %w", err)
		}
		raw = []byte(s)
	}

	if !utf8.Valid(raw) {
		return "", errors.New("payload is not UTF-8 text")
	}
	return string(raw), nil
}
