// Package voicebank stores each user's cloned voice identity, encrypted at
// rest.
//
// A record links a user to the voice ID a TTS provider assigned when their
// voice was cloned. One encrypted JSON file per user lives under a configured
// directory; the encryption key is derived from a passphrase with scrypt and
// records are sealed with XChaCha20-Poly1305.
//
// Absence is a normal state: users who never enrolled simply get the generic
// voice, so Get returns nil without error for them. Records that fail to
// decrypt or parse are treated the same way — a corrupted voice identity must
// never block the user from speaking, it only costs them their cloned voice
// until they re-enroll.
package voicebank

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for passphrase key derivation. Interactive-login cost:
// the bank is opened once per process, not per request.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	saltSize = 16

	filePerm = 0o600
	dirPerm  = 0o700
)

// Record is one user's stored voice identity.
type Record struct {
	// ClonedVoiceID is the provider-assigned voice ID to pass in synthesis
	// requests.
	ClonedVoiceID string `json:"cloned_voice_id"`

	// DisplayName is the human-readable label the user gave the voice.
	DisplayName string `json:"display_name"`

	// CreatedAt is when the voice was enrolled.
	CreatedAt time.Time `json:"created_at"`
}

// Bank is an encrypted on-disk voice identity store. It is safe for
// concurrent use; every operation works on a whole file.
type Bank struct {
	dir        string
	passphrase []byte
}

// New opens (creating if necessary) the bank directory and returns a Bank
// sealing records with the given passphrase.
func New(dir, passphrase string) (*Bank, error) {
	if dir == "" {
		return nil, errors.New("voicebank: directory not configured")
	}
	if passphrase == "" {
		return nil, errors.New("voicebank: passphrase not configured")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("voicebank: create directory: %w", err)
	}
	return &Bank{dir: dir, passphrase: []byte(passphrase)}, nil
}

// Get returns the stored record for userID, or nil when the user has none.
// Undecryptable or malformed records are reported as absent: the user
// re-enrolls rather than being locked out of speech.
func (b *Bank) Get(userID string) (*Record, error) {
	data, err := os.ReadFile(b.path(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("voicebank: read record: %w", err)
	}

	plaintext, err := b.open(data)
	if err != nil {
		slog.Debug("voice record undecryptable, treating as absent",
			"user_id", userID, "error", err)
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		slog.Debug("voice record malformed, treating as absent",
			"user_id", userID, "error", err)
		return nil, nil
	}
	return &rec, nil
}

// Put stores rec for userID, replacing any previous record. The file is
// written to a temporary name first and renamed into place.
func (b *Bank) Put(userID string, rec Record) error {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("voicebank: marshal record: %w", err)
	}
	sealed, err := b.seal(plaintext)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, ".voice-*")
	if err != nil {
		return fmt.Errorf("voicebank: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("voicebank: write record: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("voicebank: chmod record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("voicebank: close record: %w", err)
	}
	if err := os.Rename(tmpName, b.path(userID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("voicebank: store record: %w", err)
	}
	return nil
}

// Delete removes the record for userID. Deleting an absent record is not an
// error.
func (b *Bank) Delete(userID string) error {
	err := os.Remove(b.path(userID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("voicebank: delete record: %w", err)
	}
	return nil
}

// path maps a user ID to its record file. IDs are hex-encoded so arbitrary
// user IDs cannot escape the bank directory.
func (b *Bank) path(userID string) string {
	return filepath.Join(b.dir, hex.EncodeToString([]byte(userID))+".voice")
}

// seal encrypts plaintext as salt || nonce || ciphertext. A fresh salt per
// record means the derived key never repeats across files.
func (b *Bank) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("voicebank: generate salt: %w", err)
	}
	aead, err := b.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("voicebank: generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// open decrypts data produced by seal.
func (b *Bank) open(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, errors.New("record too short")
	}
	salt, rest := data[:saltSize], data[saltSize:]
	aead, err := b.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < aead.NonceSize() {
		return nil, errors.New("record too short")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// aead derives the record key from the passphrase and salt.
func (b *Bank) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(b.passphrase, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("voicebank: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("voicebank: init cipher: %w", err)
	}
	return aead, nil
}
