// Package extcrypto provides hashing and identifier operators.
//
// MD5 and SHA-1 are provided for fingerprinting only and should NOT be used
// for cryptographic security purposes.
package extcrypto

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // fingerprinting only
	"crypto/sha1" //nolint:gosec // fingerprinting only
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/google/uuid"

	"github.com/sandrolain/gomql/pkg/functions"
	"github.com/sandrolain/gomql/pkg/types"
)

// All returns all cryptographic operator definitions.
func All() []functions.OperatorDef {
	return []functions.OperatorDef{
		UUID(),
		Hash(),
		HMAC(),
	}
}

// UUID returns the definition for {$uuid: []}, a random version 4 UUID string.
func UUID() functions.OperatorDef {
	return functions.OperatorDef{
		Name:    "uuid",
		MinArgs: 0,
		MaxArgs: 0,
		Fn: func(...interface{}) (interface{}, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return nil, types.TypeMismatch("$uuid", "generating a uuid: %v", err).WithCause(err)
			}
			return id.String(), nil
		},
	}
}

// Hash returns the definition for {$hash: [str, algorithm]}. Supported
// algorithms are md5, sha1, sha256, sha384 and sha512. The digest is returned
// as lowercase hex.
func Hash() functions.OperatorDef {
	return functions.OperatorDef{
		Name:    "hash",
		MinArgs: 2,
		MaxArgs: 2,
		Fn: func(args ...interface{}) (interface{}, error) {
			s, ok, err := stringArgs("$hash", args)
			if err != nil || !ok {
				return nil, err
			}
			newHash, err := hasher("$hash", s[1])
			if err != nil {
				return nil, err
			}
			h := newHash()
			h.Write([]byte(s[0]))
			return hex.EncodeToString(h.Sum(nil)), nil
		},
	}
}

// HMAC returns the definition for {$hmac: [str, key, algorithm]}, a lowercase
// hex HMAC of str.
func HMAC() functions.OperatorDef {
	return functions.OperatorDef{
		Name:    "hmac",
		MinArgs: 3,
		MaxArgs: 3,
		Fn: func(args ...interface{}) (interface{}, error) {
			s, ok, err := stringArgs("$hmac", args)
			if err != nil || !ok {
				return nil, err
			}
			newHash, err := hasher("$hmac", s[2])
			if err != nil {
				return nil, err
			}
			mac := hmac.New(newHash, []byte(s[1]))
			mac.Write([]byte(s[0]))
			return hex.EncodeToString(mac.Sum(nil)), nil
		},
	}
}

func hasher(op, algorithm string) (func() hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	}
	return nil, types.TypeMismatch(op, "unsupported algorithm %q; use md5, sha1, sha256, sha384 or sha512", algorithm)
}

func stringArgs(op string, args []interface{}) ([]string, bool, error) {
	out := make([]string, len(args))
	for i, a := range args {
		n := types.Wrap(a)
		if n.IsNull() {
			return nil, false, nil
		}
		s, err := types.UnwrapString(n)
		if err != nil {
			return nil, false, types.TypeMismatch(op, "argument %d must be a string, got %s", i+1, n.Kind)
		}
		out[i] = s
	}
	return out, true, nil
}
