// Package auth 证明调用方拥有某个链上地址
package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

const (
	ChainEVM     = "evm"
	ChainEd25519 = "ed25519"
	ChainSolana  = "solana"
)

type Verifier interface {
	Verify(chain, address, message, signature string) bool
}

type SignatureVerifier struct{}

func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{}
}

func (v *SignatureVerifier) Verify(chain, address, message, signature string) bool {
	switch strings.ToLower(chain) {
	case ChainEVM, "":
		return VerifyEVM(address, message, signature)
	case ChainEd25519, ChainSolana:
		return VerifyEd25519(address, message, signature)
	default:
		return false
	}
}

// VerifyEVM 校验 personal_sign (EIP-191) 签名，恢复出的地址与 address 比较时忽略大小写
func VerifyEVM(address, message, signature string) bool {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return false
	}

	recovered := crypto.PubkeyToAddress(*pub)
	return strings.EqualFold(recovered.Hex(), strings.TrimSpace(address))
}

// VerifyEd25519 address 为 base58 公钥，签名可以是 base58 或 hex
func VerifyEd25519(address, message, signature string) bool {
	pub, err := base58.Decode(strings.TrimSpace(address))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}

	sig := decodeSignature(signature)
	if len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}

func decodeSignature(signature string) []byte {
	signature = strings.TrimSpace(signature)
	if strings.HasPrefix(signature, "0x") {
		if sig, err := hex.DecodeString(signature[2:]); err == nil {
			return sig
		}
		return nil
	}
	if sig, err := base58.Decode(signature); err == nil && len(sig) == ed25519.SignatureSize {
		return sig
	}
	if sig, err := hex.DecodeString(signature); err == nil {
		return sig
	}
	return nil
}
