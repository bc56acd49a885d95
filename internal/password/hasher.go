package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2idのパラメータ。サーバ環境の標準的な推奨値。
const (
	hashMemoryKB    uint32 = 64 * 1024
	hashTime        uint32 = 1
	hashParallelism uint8  = 4
	hashSaltLength  uint32 = 16
	hashKeyLength   uint32 = 32
)

// Hash はパスワードをargon2idでハッシュ化し、PHC形式の文字列を返す。
// ソルトは呼び出しごとにランダム生成する。
func Hash(password string) (string, error) {
	salt := make([]byte, hashSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, hashTime, hashMemoryKB, hashParallelism, hashKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		hashMemoryKB,
		hashTime,
		hashParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify はパスワードとPHC形式のハッシュ文字列を照合する。
// 比較は常に一定時間で行う。
func Verify(password, encodedHash string) (bool, error) {
	memory, time, parallelism, salt, hash, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, parallelism, uint32(len(hash)))

	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

// parsePHC はPHC形式のargon2idハッシュ文字列を分解する。
// 形式: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func parsePHC(encoded string) (memory, time uint32, parallelism uint8, salt, hash []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid password hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid password hash version")
	}
	if version != argon2.Version {
		return 0, 0, 0, nil, nil, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &p); err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid password hash parameters")
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid password hash salt")
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid password hash body")
	}

	return memory, time, p, salt, hash, nil
}
