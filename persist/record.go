package persist

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coterm/coterm-core/config"
	"github.com/coterm/coterm-core/conversation"
)

// SchemaVersion is the current on-disk record format version.
const SchemaVersion = 1

var (
	// ErrInvalidSignature is returned when a record's HMAC does not verify.
	ErrInvalidSignature = errors.New("record signature invalid")
	// ErrUnsupportedSchema is returned for records written by a newer (or
	// unknown) format version.
	ErrUnsupportedSchema = errors.New("unsupported record schema version")
)

// Record is the persisted form of a closed session.
//
// The Signature field covers every other field: it is the hex HMAC-SHA256 of
// the record serialized with Signature empty. Field order in the JSON is
// fixed by this struct, which makes the signed payload reproducible.
type Record struct {
	Version      int                     `json:"version"`
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	ProjectPath  string                  `json:"project_path"`
	Config       config.SessionConfig    `json:"config"`
	ClosedAt     time.Time               `json:"closed_at"`
	Conversation []conversation.Message  `json:"conversation"`
	Todos        []conversation.TodoItem `json:"todos"`
	Signature    string                  `json:"signature,omitempty"`
}

// Validate checks structural integrity independent of the signature.
func (r *Record) Validate() error {
	if r.Version < 1 || r.Version > SchemaVersion {
		return fmt.Errorf("version %d: %w", r.Version, ErrUnsupportedSchema)
	}
	if r.ID == "" {
		return fmt.Errorf("record has no session id")
	}
	if r.ProjectPath == "" {
		return fmt.Errorf("record has no project path")
	}
	if err := r.Config.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	for i, msg := range r.Conversation {
		if !msg.Role.Valid() {
			return fmt.Errorf("message %d has unknown role %q", i, msg.Role)
		}
	}
	for i, todo := range r.Todos {
		if !todo.Status.Valid() {
			return fmt.Errorf("todo %d has unknown status %q", i, todo.Status)
		}
	}
	return nil
}

// Sign computes the record's HMAC over the signed payload and stores it.
func (r *Record) Sign(key []byte) error {
	payload, err := r.signedPayload()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	r.Signature = hex.EncodeToString(mac.Sum(nil))
	return nil
}

// Verify recomputes the HMAC and compares it to the stored signature in
// constant time. A missing or mismatched signature is ErrInvalidSignature.
func (r *Record) Verify(key []byte) error {
	if r.Signature == "" {
		return fmt.Errorf("record is unsigned: %w", ErrInvalidSignature)
	}
	stored, err := hex.DecodeString(r.Signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", ErrInvalidSignature)
	}

	payload, err := r.signedPayload()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), stored) {
		return ErrInvalidSignature
	}
	return nil
}

// signedPayload serializes the record with the signature field cleared.
func (r *Record) signedPayload() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = ""
	payload, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record for signing: %w", err)
	}
	return payload, nil
}
