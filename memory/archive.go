package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/conversation"
)

// Archiver stores ended conversations as memory records, one summary
// record per conversation. It implements conversation.Archiver.
type Archiver struct {
	store  Store
	userID string
}

// NewArchiver archives into store under userID (DefaultUser if empty).
func NewArchiver(store Store, userID string) *Archiver {
	if userID == "" {
		userID = DefaultUser
	}
	return &Archiver{store: store, userID: userID}
}

// Archive implements conversation.Archiver.
func (a *Archiver) Archive(ctx context.Context, log conversation.Log) error {
	rec := Record{
		ID:      log.ID,
		Content: summarize(log),
		UserID:  a.userID,
		Metadata: map[string]string{
			"type":           "conversation",
			"sessionId":      log.SessionID,
			"participants":   strings.Join(log.Participants, ","),
			"outcome":        string(log.Outcome.Type),
			"messages":       strconv.Itoa(len(log.Messages)),
			"averageQuality": strconv.FormatFloat(log.Quality.AverageQualityScore, 'f', 2, 64),
		},
		CreatedAt: time.Now(),
	}
	if log.EndedAt != nil {
		rec.CreatedAt = *log.EndedAt
	}
	if _, err := a.store.Remember(ctx, rec); err != nil {
		return fmt.Errorf("archive conversation %s: %w", log.ID, err)
	}
	return nil
}

func summarize(log conversation.Log) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s between %s ended %s.", log.ID, strings.Join(log.Participants, ", "), log.Outcome.Type)
	if log.Outcome.Summary != "" {
		fmt.Fprintf(&b, " Summary: %s.", strings.TrimSuffix(log.Outcome.Summary, "."))
	}
	if len(log.Outcome.Decisions) > 0 {
		fmt.Fprintf(&b, " Decisions: %s.", strings.Join(log.Outcome.Decisions, "; "))
	}
	if len(log.Outcome.NextSteps) > 0 {
		fmt.Fprintf(&b, " Next steps: %s.", strings.Join(log.Outcome.NextSteps, "; "))
	}
	for _, out := range log.ActionableOutputs {
		fmt.Fprintf(&b, " [%s] %s", out.Kind, out.Content)
	}
	return b.String()
}
