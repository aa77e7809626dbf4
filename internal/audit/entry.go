// Package audit builds append-only audit entries and relays them out of the
// database to the reporting pipeline.
package audit

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/blake2b"

	"libracirc/internal/domain"
	"libracirc/internal/platform/requestcontext"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record describes one audited action before it is sealed into an entry.
type Record struct {
	ActionType  string
	TargetType  string
	TargetID    uuid.UUID
	Description string
	Before      any
	After       any
}

// NewEntry seals r with the actor from ctx, a timestamp and a digest.
func NewEntry(ctx context.Context, now time.Time, r Record) domain.AuditEntry {
	e := domain.AuditEntry{
		ID:          uuid.New(),
		ActorID:     requestcontext.ActorFrom(ctx).ID,
		ActionType:  r.ActionType,
		TargetType:  r.TargetType,
		TargetID:    r.TargetID,
		Description: r.Description,
		Before:      marshal(r.Before),
		After:       marshal(r.After),
		Timestamp:   now.UTC().Truncate(time.Microsecond),
	}
	e.Digest = Digest(e)
	return e
}

func marshal(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Digest is a blake2b-256 checksum over the immutable fields of e.
// Seq is excluded because the store assigns it at commit.
func Digest(e domain.AuditEntry) string {
	h, _ := blake2b.New256(nil)
	writeField := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	writeField(e.ID[:])
	writeField(e.ActorID[:])
	writeField([]byte(e.ActionType))
	writeField([]byte(e.TargetType))
	writeField(e.TargetID[:])
	writeField([]byte(e.Description))
	writeField(compact(e.Before))
	writeField(compact(e.After))
	writeField([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// compact normalises JSON so a round trip through JSONB keeps the digest stable.
func compact(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// Verify reports whether e still matches its digest.
func Verify(e domain.AuditEntry) bool {
	return e.Digest == Digest(e)
}
