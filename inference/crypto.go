package inference

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

const ivSize = aes.BlockSize

// DecryptModel decrypts an encrypted model blob. The layout is the 16-byte IV
// followed by the AES-256-CBC ciphertext of the PKCS#7-padded plaintext.
func DecryptModel(ciphertext []byte, key [KeySize]byte) ([]byte, error) {
	if len(ciphertext) <= ivSize {
		return nil, errors.New("ciphertext shorter than IV plus one block")
	}
	body := ciphertext[ivSize:]
	if len(body)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not block aligned")
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct cipher")
	}

	plaintext := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, ciphertext[:ivSize]).CryptBlocks(plaintext, body)

	return pkcs7Unpad(plaintext)
}

// EncryptModel is the exact inverse of DecryptModel. It exists for fixture
// generation and the encrypt/decrypt round-trip guarantee.
func EncryptModel(plaintext []byte, key [KeySize]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct cipher")
	}

	padded := pkcs7Pad(plaintext)
	out := make([]byte, ivSize+len(padded))
	if _, err := io.ReadFull(rand.Reader, out[:ivSize]); err != nil {
		return nil, errors.Wrap(err, "failed to generate IV")
	}

	cipher.NewCBCEncrypter(block, out[:ivSize]).CryptBlocks(out[ivSize:], padded)
	return out, nil
}

func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, errors.New("padded data is not block aligned")
	}

	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("invalid padding length")
	}
	for _, pad := range b[len(b)-n:] {
		if int(pad) != n {
			return nil, errors.New("inconsistent padding bytes")
		}
	}
	return b[:len(b)-n], nil
}
