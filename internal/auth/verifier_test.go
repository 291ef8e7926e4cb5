package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signEVM(t *testing.T, message string) (address, signature string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

func TestVerifyEVM(t *testing.T) {
	message := "Sign in to points: nonce 42"
	address, signature := signEVM(t, message)

	v := NewSignatureVerifier()
	assert.True(t, v.Verify(ChainEVM, address, message, signature))
	assert.True(t, v.Verify("", strings.ToLower(address), message, signature))

	assert.False(t, v.Verify(ChainEVM, address, "different message", signature))
	other, _ := signEVM(t, message)
	assert.False(t, v.Verify(ChainEVM, other, message, signature))
	assert.False(t, v.Verify(ChainEVM, address, message, "0xdeadbeef"))
	assert.False(t, v.Verify(ChainEVM, address, message, "not-hex"))
}

func TestVerifyEVMAcceptsRawRecoveryID(t *testing.T) {
	message := "hello"
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	assert.True(t, VerifyEVM(address, message, hexutil.Encode(sig)))
}

func TestVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	message := "login:solana"
	sig := ed25519.Sign(priv, []byte(message))
	address := base58.Encode(pub)

	v := NewSignatureVerifier()
	assert.True(t, v.Verify(ChainSolana, address, message, base58.Encode(sig)))
	assert.True(t, v.Verify(ChainEd25519, address, message, hex.EncodeToString(sig)))
	assert.True(t, v.Verify(ChainEd25519, address, message, "0x"+hex.EncodeToString(sig)))

	assert.False(t, v.Verify(ChainSolana, address, "tampered", base58.Encode(sig)))
	assert.False(t, v.Verify(ChainSolana, "not-base58-0OIl", message, base58.Encode(sig)))
	assert.False(t, v.Verify(ChainSolana, address, message, "short"))
}

func TestVerifyUnknownChain(t *testing.T) {
	assert.False(t, NewSignatureVerifier().Verify("bitcoin", "addr", "msg", "sig"))
}
