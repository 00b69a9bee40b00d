package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Signature is an ed25519 signature over the unsigned attestation JSON.
type Signature struct {
	Alg      string `json:"alg"`
	PubKeyID string `json:"pubkey_id"`
	Sig      string `json:"sig"`
}

// Signer signs attestations with a key kept under keyDir.
type Signer struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	KeyID      string
}

// NewSigner loads keyDir/<keyID>.key, generating it on first use.
func NewSigner(keyDir, keyID string) (*Signer, error) {
	keyPath, err := keyFile(keyDir, keyID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, err
	}

	var privateKey ed25519.PrivateKey

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid private key size in %s", keyPath)
		}
		privateKey = ed25519.PrivateKey(data)
	case os.IsNotExist(err):
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		privateKey = priv
		if err := os.WriteFile(keyPath, []byte(privateKey), 0600); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return &Signer{
		PrivateKey: privateKey,
		PublicKey:  privateKey.Public().(ed25519.PublicKey),
		KeyID:      keyID,
	}, nil
}

// Sign attaches a signature to att.
func (s *Signer) Sign(att *Attestation) error {
	if att == nil {
		return fmt.Errorf("attestation required")
	}
	payload, err := signingPayload(att)
	if err != nil {
		return err
	}
	att.Signature = &Signature{
		Alg:      "ed25519",
		PubKeyID: s.KeyID,
		Sig:      base64.StdEncoding.EncodeToString(ed25519.Sign(s.PrivateKey, payload)),
	}
	return nil
}

// VerifySignature checks att's signature using the key found in keyDir.
func VerifySignature(att *Attestation, keyDir string) error {
	if att == nil {
		return fmt.Errorf("attestation required")
	}
	if att.Signature == nil {
		return fmt.Errorf("signature required")
	}
	if att.Signature.Alg != "ed25519" {
		return fmt.Errorf("unsupported signature algorithm %q", att.Signature.Alg)
	}

	payload, err := signingPayload(att)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(att.Signature.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	pubKey, err := loadPublicKey(keyDir, att.Signature.PubKeyID)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pubKey, payload, sig) {
		return fmt.Errorf("invalid attestation signature")
	}
	return nil
}

func signingPayload(att *Attestation) ([]byte, error) {
	unsigned := *att
	unsigned.Signature = nil
	return json.Marshal(&unsigned)
}

func loadPublicKey(keyDir, keyID string) (ed25519.PublicKey, error) {
	keyPath, err := keyFile(keyDir, keyID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	priv := ed25519.PrivateKey(data)
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size")
	}
	return priv.Public().(ed25519.PublicKey), nil
}

// keyFile resolves keyDir/<keyID>.key. Key IDs are bare names.
func keyFile(keyDir, keyID string) (string, error) {
	if keyID == "" {
		return "", fmt.Errorf("key id is required")
	}
	if strings.ContainsAny(keyID, `/\`) || strings.Contains(keyID, "..") {
		return "", fmt.Errorf("invalid key id %q", keyID)
	}
	return safeJoin(keyDir, keyID+".key")
}
