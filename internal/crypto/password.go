package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"strings"

	"uestcauth/internal/errors"
)

// 登录页 encrypt.js 使用的随机字符表，去掉了易混淆的 0/O、1/l/I 等字符
const aesChars = "ABCDEFGHJKMNPQRSTWXYZabcdefhijkmnprstwxyz2345678"

const (
	ivLength     = aes.BlockSize
	prefixLength = 64
)

// EncryptPassword 复现门户前端的密码加密：
// AES-CBC(key=salt, iv=随机串, plaintext=64位随机前缀+密码)，PKCS#7填充，只输出密文的Base64
func EncryptPassword(password, salt string) (string, error) {
	key := []byte(strings.TrimSpace(salt))
	switch len(key) {
	case 16, 24, 32:
	default:
		return "", errors.ErrInvalidKeyLength(len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.ErrInvalidKeyLength(len(key)).WithCause(err)
	}

	iv, err := randomString(ivLength)
	if err != nil {
		return "", err
	}
	prefix, err := randomString(prefixLength)
	if err != nil {
		return "", err
	}

	plaintext := pkcs7Pad([]byte(prefix+password), aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, []byte(iv)).CryptBlocks(ciphertext, plaintext)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// EncryptedLength 返回给定密码加密后（Base64解码前）的密文字节数
func EncryptedLength(password string) int {
	n := prefixLength + len(password)
	return (n/aes.BlockSize + 1) * aes.BlockSize
}

// pkcs7Pad 已对齐时仍补满一个块
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data), len(data)+padding)
	copy(padded, data)
	for i := 0; i < padding; i++ {
		padded = append(padded, byte(padding))
	}
	return padded
}

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(aesChars)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.New(errors.KindCrypto, errors.ErrCodeRandomSource, "Random source unavailable").WithCause(err)
		}
		sb.WriteByte(aesChars[idx.Int64()])
	}
	return sb.String(), nil
}
