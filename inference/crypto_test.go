package inference

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testKey() [KeySize]byte {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i * 7)
	}
	return key
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := testKey()

	for _, size := range []int{0, 1, 15, 16, 17, 4096, 100000} {
		plaintext := make([]byte, size)
		_, err := io.ReadFull(rand.Reader, plaintext)
		assert.NoError(t, err)

		ciphertext, err := EncryptModel(plaintext, key)
		assert.NoError(t, err)
		assert.Equal(t, 0, (len(ciphertext)-16)%16)

		decrypted, err := DecryptModel(ciphertext, key)
		assert.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, decrypted))
	}
}

func TestDecryptModel_WrongKey(t *testing.T) {
	ciphertext, err := EncryptModel([]byte("model bytes model bytes"), testKey())
	assert.NoError(t, err)

	var wrong [KeySize]byte
	_, err = DecryptModel(ciphertext, wrong)
	assert.Error(t, err)
}

func TestDecryptModel_ShortCiphertext(t *testing.T) {
	_, err := DecryptModel(make([]byte, 16), testKey())
	assert.Error(t, err)

	_, err = DecryptModel(nil, testKey())
	assert.Error(t, err)
}

func TestDecryptModel_Misaligned(t *testing.T) {
	_, err := DecryptModel(make([]byte, 16+17), testKey())
	assert.Error(t, err)
}

func TestPKCS7_Unpad(t *testing.T) {
	padded := pkcs7Pad([]byte("abc"))
	assert.Equal(t, 16, len(padded))

	unpadded, err := pkcs7Unpad(padded)
	assert.NoError(t, err)
	assert.Equal(t, []byte("abc"), unpadded)

	// A full block of padding follows block-aligned input.
	padded = pkcs7Pad(make([]byte, 16))
	assert.Equal(t, 32, len(padded))

	_, err = pkcs7Unpad([]byte{1, 2, 3})
	assert.Error(t, err)

	bad := append(make([]byte, 14), 3, 2)
	_, err = pkcs7Unpad(bad)
	assert.Error(t, err)
}
