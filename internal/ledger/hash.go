package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"stagewright/internal/project"
)

// Hash computes the chain hash of rec over every persisted field except Hash.
func Hash(rec project.TransitionRecord) string {
	fields := []string{
		rec.ID,
		rec.ProjectID,
		rec.Organization,
		strconv.FormatInt(rec.Sequence, 10),
		rec.FromStageID,
		rec.ToStageID,
		rec.ActorID,
		rec.Reason,
		rec.BypassReason,
		strconv.FormatInt(rec.EstimatedDuration.Milliseconds(), 10),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.PrevHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
