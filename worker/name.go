package worker

import (
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
)

// TokenSpace is the number of distinct disambiguating tokens.
const TokenSpace = 1000

// OutputName builds the key a hop writes its result under:
// <source stem><suffix><3-digit token><source ext>. Only the base name of
// source is used, so working-store keys stay flat.
func OutputName(source, suffix string, token int) string {
	base := path.Base(source)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if token < 0 {
		token = -token
	}
	return fmt.Sprintf("%s%s%03d%s", stem, suffix, token%TokenSpace, ext)
}

// RandomToken returns a token in [0, TokenSpace).
func RandomToken() int { return rand.IntN(TokenSpace) }
