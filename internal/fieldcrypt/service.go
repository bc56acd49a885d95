// Package fieldcrypt は個人情報フィールドの暗号化・復号を提供する。
//
// レコード全体ではなく、メールアドレス・電話番号など指定されたセンシティブ
// フィールドのみをAES-256-GCMで暗号化する。暗号化は保存前に、復号は許可された
// 読み出し時点でのみ行い、平文がリポジトリ層やログに到達することはない。
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

var (
	// ErrKeyMissing は暗号化鍵が未設定の場合のエラー。
	// 起動時の致命的な設定エラーであり、リクエスト単位で回復するものではない。
	ErrKeyMissing = errors.New("fieldcrypt: encryption key is not configured")

	// ErrDecryptFailed は復号失敗を表す。
	// 鍵違いと改ざんを区別できる情報を呼び出し元へ漏らさないよう、
	// 認証タグ不一致・形式不正のいずれも同一のエラーを返す。
	ErrDecryptFailed = errors.New("fieldcrypt: decryption failed")
)

// Service はフィールド暗号化サービス。
// 生成後はイミュータブルであり、複数ゴルーチンから安全に利用できる。
type Service struct {
	aead cipher.AEAD
}

// New はフィールド暗号化サービスを生成する。
// keyは32バイト（AES-256）であること。鍵が空の場合はErrKeyMissingを返す。
func New(key []byte) (*Service, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Service{aead: aead}, nil
}

// EncryptField は平文フィールドを暗号化し、base64文字列を返す。
// 呼び出しごとに新しいランダムなnonceを使用するため、
// 同一平文でも暗号文は毎回異なる（決定的なのは鍵に対してのみ）。
func (s *Service) EncryptField(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)

	// 出力形式: base64(nonce || ciphertext+tag)
	buf := make([]byte, 0, len(nonce)+len(sealed))
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecryptField は暗号化済みフィールドを復号する。
// 改ざんされた暗号文・鍵違いのいずれの場合もErrDecryptFailedを返す。
func (s *Service) DecryptField(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptFailed
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize+s.aead.Overhead() {
		return "", ErrDecryptFailed
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// HashLookupKey は検索用の一方向ハッシュを返す。
// 暗号化されたフィールド（メールアドレス等）での完全一致検索に使用する。
func HashLookupKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
