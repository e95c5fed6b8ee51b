package ingress

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"unicode"
)

// KeyStrategy selects how the working-store key of an upload is derived.
type KeyStrategy string

const (
	// KeyByName keeps the sanitised upload name: "My Cat.JPG" becomes "My_Cat.jpg".
	KeyByName KeyStrategy = "name"
	// KeyBySHA224 hashes the upload name: hex(sha224(filename)) + ".jpeg".
	KeyBySHA224 KeyStrategy = "sha224"
)

// DefaultOutputFolderSuffix is appended to the key stem to name a run's output folder.
const DefaultOutputFolderSuffix = "_augmented"

// Valid reports whether s is a known strategy.
func (s KeyStrategy) Valid() bool { return s == KeyByName || s == KeyBySHA224 }

// DeriveKey returns the working-store key for filename. Both strategies are
// deterministic, so resubmitting a file overwrites its earlier source.
func DeriveKey(strategy KeyStrategy, filename string) (string, error) {
	if strategy == "" {
		strategy = KeyByName
	}
	switch strategy {
	case KeyBySHA224:
		sum := sha256.Sum224([]byte(filename))
		return hex.EncodeToString(sum[:]) + ".jpeg", nil
	case KeyByName:
	default:
		return "", fmt.Errorf("unknown key strategy %q", strategy)
	}

	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	stem := sanitize(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		return "", fmt.Errorf("filename %q has no usable name", filename)
	}
	return stem + ext, nil
}

// DeriveOutputFolder names the output folder of a run from its source key.
func DeriveOutputFolder(key, suffix string) string {
	if suffix == "" {
		suffix = DefaultOutputFolderSuffix
	}
	return strings.TrimSuffix(key, path.Ext(key)) + suffix
}

// sanitize keeps letters, digits, '-' and '_', replacing anything else with
// '_' and trimming leading dots and underscores.
func sanitize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	return strings.TrimLeft(mapped, "._")
}
