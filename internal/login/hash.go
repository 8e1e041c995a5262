package login

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type HashAlgorithm string

const (
	HashPlain  HashAlgorithm = "PLAIN"
	HashMD5    HashAlgorithm = "MD5"
	HashSHA1   HashAlgorithm = "SHA1"
	HashSHA256 HashAlgorithm = "SHA256"
)

// HashAlgorithms is the fixed guessing order. It is not meant to grow:
// anything else is reported as an unknown algorithm.
var HashAlgorithms = []HashAlgorithm{HashPlain, HashMD5, HashSHA1, HashSHA256}

// HashMatch is the result of MatchPassword.
type HashMatch struct {
	Matched   bool
	Algorithm HashAlgorithm
	Salted    bool
	// Unknown is set when nothing matched but the stored value looks like a
	// digest of some other scheme.
	Unknown bool
}

// Digest renders plain+salt with algo as lower-case hex (or verbatim for PLAIN).
func Digest(algo HashAlgorithm, plain, salt string) string {
	data := plain + salt
	switch algo {
	case HashMD5:
		sum := md5.Sum([]byte(data))
		return hex.EncodeToString(sum[:])
	case HashSHA1:
		sum := sha1.Sum([]byte(data))
		return hex.EncodeToString(sum[:])
	case HashSHA256:
		sum := sha256.Sum256([]byte(data))
		return hex.EncodeToString(sum[:])
	}
	return data
}

// MatchPassword tries every algorithm, unsalted first, then with each salt.
// field is the stored column name and only feeds the unknown-scheme check.
func MatchPassword(plain, stored string, salts []string, field string) HashMatch {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return HashMatch{}
	}
	var cleanSalts []string
	for _, s := range salts {
		if s != "" {
			cleanSalts = append(cleanSalts, s)
		}
	}
	for _, algo := range guessOrder(stored, field) {
		if strings.EqualFold(Digest(algo, plain, ""), stored) {
			return HashMatch{Matched: true, Algorithm: algo}
		}
		for _, s := range cleanSalts {
			if strings.EqualFold(Digest(algo, plain, s), stored) {
				return HashMatch{Matched: true, Algorithm: algo, Salted: true}
			}
		}
	}
	unknown := len(cleanSalts) > 0 ||
		(isHex(stored) && !knownDigestLen(len(stored))) ||
		strings.Contains(strings.ToUpper(field), "HASH")
	return HashMatch{Unknown: unknown}
}

// guessOrder narrows the algorithms by digest length when the value is hex.
func guessOrder(stored, field string) []HashAlgorithm {
	if !isHex(stored) {
		if strings.Contains(strings.ToUpper(field), "HASH") {
			return HashAlgorithms
		}
		return []HashAlgorithm{HashPlain}
	}
	switch len(stored) {
	case 32:
		return []HashAlgorithm{HashPlain, HashMD5}
	case 40:
		return []HashAlgorithm{HashPlain, HashSHA1}
	case 64:
		return []HashAlgorithm{HashPlain, HashSHA256}
	}
	return HashAlgorithms
}

func knownDigestLen(n int) bool { return n == 32 || n == 40 || n == 64 }

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
