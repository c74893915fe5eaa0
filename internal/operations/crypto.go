package operations

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/rendis/graphcompose/pkg/schema"
)

const defaultHashAlgorithm = "sha256"

// CryptoOperations returns hashing and identifier operations.
func CryptoOperations() []Entry {
	return []Entry{
		{Name: "hash", Description: "Hex digest of data, with an optional algorithm (sha256, sha384, sha512, sha1, md5)", Op: Func(cryptoHash)},
		{Name: "hmac", Description: "Hex HMAC of data under key, with an optional algorithm", Op: Func(cryptoHMAC)},
		{Name: "uuid", Description: "A random v4 UUID", Op: Func(func(_ context.Context, args []any) (any, error) {
			if err := arity("crypto.uuid", args, 0); err != nil {
				return nil, err
			}
			return uuid.NewString(), nil
		})},
	}
}

func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	case "sha384":
		return sha512.New384, nil
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "unsupported hash algorithm: %s", algorithm)
	}
}

// crypto.hash(data[, algorithm])
func cryptoHash(_ context.Context, args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "crypto.hash: expected 1 or 2 arguments, got %d", len(args))
	}
	parts, err := toStrings("crypto.hash", args)
	if err != nil {
		return nil, err
	}
	algorithm := defaultHashAlgorithm
	if len(parts) == 2 {
		algorithm = parts[1]
	}
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}

	h := newHash()
	h.Write([]byte(parts[0]))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// crypto.hmac(data, key[, algorithm])
func cryptoHMAC(_ context.Context, args []any) (any, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "crypto.hmac: expected 2 or 3 arguments, got %d", len(args))
	}
	data, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, argError("crypto.hmac", 0, err)
	}
	key, err := cast.ToStringE(args[1])
	if err != nil {
		return nil, argError("crypto.hmac", 1, err)
	}
	algorithm := defaultHashAlgorithm
	if len(args) == 3 {
		if algorithm, err = cast.ToStringE(args[2]); err != nil {
			return nil, argError("crypto.hmac", 2, err)
		}
	}
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(newHash, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
