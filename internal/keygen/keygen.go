package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/amrrdev/keygen/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

const (
	pemTypeRSA   = "RSA PRIVATE KEY"
	pemTypePKCS8 = "PRIVATE KEY"
)

// KeyPair holds encoded key material. PublicKey is an OpenSSH authorized-key
// line without the trailing newline; PrivateKey is an unencrypted PEM block.
type KeyPair struct {
	KeyType     string
	KeyBits     int
	PublicKey   []byte
	PrivateKey  []byte
	Fingerprint string
}

// Generator is stateless apart from its logger and is safe for concurrent use.
type Generator struct {
	logger zerolog.Logger
}

func NewGenerator(logger zerolog.Logger) *Generator {
	return &Generator{logger: logger}
}

// Generate never rejects a key type: anything other than ed25519 takes the RSA
// path with keyBits.
func (g *Generator) Generate(keyType string, keyBits int) (*KeyPair, error) {
	resolved, ok := types.ResolveKeyType(keyType)
	if !ok {
		g.logger.Warn().Str("key_type", keyType).Msg("unknown key type, falling back to rsa")
	}

	switch resolved {
	case types.KeyTypeEd25519:
		return generateEd25519()
	default:
		return generateRSA(keyBits)
	}
}

func generateRSA(bits int) (*KeyPair, error) {
	// rsa.GenerateKey always uses e = 65537.
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}

	publicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rsa public key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  pemTypeRSA,
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return &KeyPair{
		KeyType:     types.KeyTypeRSA,
		KeyBits:     bits,
		PublicKey:   authorizedKey(publicKey),
		PrivateKey:  privatePEM,
		Fingerprint: ssh.FingerprintSHA256(publicKey),
	}, nil
}

func generateEd25519() (*KeyPair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	publicKey, err := ssh.NewPublicKey(public)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ed25519 public key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ed25519 private key: %w", err)
	}

	return &KeyPair{
		KeyType:     types.KeyTypeEd25519,
		PublicKey:   authorizedKey(publicKey),
		PrivateKey:  pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: der}),
		Fingerprint: ssh.FingerprintSHA256(publicKey),
	}, nil
}

func authorizedKey(key ssh.PublicKey) []byte {
	line := ssh.MarshalAuthorizedKey(key)
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line
}
