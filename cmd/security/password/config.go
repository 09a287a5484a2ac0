package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Algorithm selects the function used for new hashes.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// DefaultBcryptCost matches the work factor existing accounts were hashed with.
const DefaultBcryptCost = 10

// bcryptMaxBytes is the input length bcrypt actually reads.
const bcryptMaxBytes = 72

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation at registration.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Params     Argon2idParams
	Policy     Policy
}

// DefaultConfig returns bcrypt at cost 10 with argon2id parameters kept ready for verification.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Algorithm:  AlgorithmBcrypt,
		BcryptCost: DefaultBcryptCost,
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 128,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - PASSWORD_ALGORITHM (bcrypt|argon2id)
//   - BCRYPT_COST
//   - PASSWORD_MIN_LEN, PASSWORD_MAX_LEN, PASSWORD_REJECT_VERY_WEAK
//   - ARGON2_MEMORY_KIB, ARGON2_ITERATIONS, ARGON2_PARALLELISM, ARGON2_SALT_LEN, ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup("PASSWORD_ALGORITHM"); ok {
		switch Algorithm(strings.ToLower(v)) {
		case AlgorithmBcrypt:
			cfg.Algorithm = AlgorithmBcrypt
		case AlgorithmArgon2id:
			cfg.Algorithm = AlgorithmArgon2id
		default:
			return Config{}, fmt.Errorf("PASSWORD_ALGORITHM: %w", ErrUnknownAlgorithm)
		}
	}

	if v, ok := lookup("BCRYPT_COST"); ok {
		n, err := atoiRange(v, bcrypt.MinCost, bcrypt.MaxCost)
		if err != nil {
			return Config{}, fmt.Errorf("BCRYPT_COST: %w", err)
		}
		cfg.BcryptCost = n
	}

	if v, ok := lookup("PASSWORD_MIN_LEN"); ok {
		n, err := atoiRange(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}

	if v, ok := lookup("PASSWORD_MAX_LEN"); ok {
		n, err := atoiRange(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}

	if v, ok := lookup("PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := lookup(f.key)
		if !ok {
			continue
		}
		u, err := atou32(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = u
	}

	if v, ok := lookup("ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
