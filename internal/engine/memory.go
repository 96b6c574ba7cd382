package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/jury"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

const (
	defaultMemoryStrength   = 1.0
	defaultMemoryConfidence = 0.8
	defaultBeliefWeight     = 0.1
)

// Belief update directions.
const (
	EvidenceFor     = "for"
	EvidenceAgainst = "against"
)

// StoreOptions controls StoreMemory.
type StoreOptions struct {
	// BypassJury skips admission. Only trusted in-process callers set it;
	// the HTTP and CLI boundaries never do.
	BypassJury bool
}

// StoreResult is the outcome of StoreMemory. ID is empty when the jury
// rejected the memory.
type StoreResult struct {
	ID       string         `json:"id"`
	Decision *jury.Decision `json:"decision,omitempty"`
}

// MemoryView is a stored memory with its strength decayed to the time it
// was read.
type MemoryView struct {
	store.Memory
	CurrentStrength float64 `json:"current_strength"`
}

// StoreMemory admits a memory through the jury and persists it. The jury
// runs before any write transaction is opened.
func (e *Engine) StoreMemory(ctx context.Context, m *store.Memory, opts StoreOptions) (*StoreResult, error) {
	m.UserID = strings.TrimSpace(m.UserID)
	if m.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrValidation, m.Type)
	}
	if m.Strength < 0 || m.Strength > 1 {
		return nil, fmt.Errorf("%w: strength %v outside [0,1]", ErrValidation, m.Strength)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, m.Confidence)
	}
	if m.Strength == 0 {
		m.Strength = defaultMemoryStrength
	}
	if m.Confidence == 0 {
		m.Confidence = defaultMemoryConfidence
	}
	if m.Type == ontology.Episodic && m.EpisodeTimestamp == 0 {
		m.EpisodeTimestamp = e.now().UnixMilli()
	}

	res := &StoreResult{}
	if !opts.BypassJury {
		d := e.Jury.Evaluate(ctx, jury.Candidate{
			UserID:     m.UserID,
			Type:       m.Type,
			Content:    m.Content,
			Confidence: m.Confidence,
			Strength:   m.Strength,
		})
		res.Decision = &d
		switch d.Verdict {
		case jury.Reject:
			e.logger.Info("memory rejected",
				zap.String("user_id", m.UserID), zap.String("reason", d.Reason))
			return res, nil
		case jury.Quarantine:
			m.Quarantined = true
			m.JuryReason = d.Reason
			m.Strength = d.Strength
		}
	}

	if err := e.DB.CreateMemory(ctx, m); err != nil {
		return nil, err
	}
	res.ID = m.ID
	return res, nil
}

// GetMemory returns a memory by id. Reading does not reset decay.
func (e *Engine) GetMemory(ctx context.Context, id string) (*MemoryView, error) {
	m, err := e.DB.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return e.view(m), nil
}

func (e *Engine) view(m *store.Memory) *MemoryView {
	return &MemoryView{Memory: *m, CurrentStrength: CurrentStrength(e.Registry, m, e.now())}
}

// MemoryQuery selects a user's memories. MinStrength compares against
// current, decayed strength.
type MemoryQuery struct {
	UserID      string
	Type        *ontology.MemoryType
	Tags        []string
	MinStrength float64
}

// QueryMemories returns the user's memories matching every filter, newest
// first.
func (e *Engine) QueryMemories(ctx context.Context, q MemoryQuery) ([]MemoryView, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	mems, err := e.DB.QueryMemories(ctx, store.MemoryFilter{UserID: q.UserID, Type: q.Type, Tags: q.Tags})
	if err != nil {
		return nil, err
	}

	now := e.now()
	out := make([]MemoryView, 0, len(mems))
	for i := range mems {
		cur := CurrentStrength(e.Registry, &mems[i], now)
		if q.MinStrength > 0 && cur < q.MinStrength {
			continue
		}
		out = append(out, MemoryView{Memory: mems[i], CurrentStrength: cur})
	}
	return out, nil
}

// SearchMemories runs full-text search over a user's memories.
func (e *Engine) SearchMemories(ctx context.Context, userID, text string, limit int) ([]MemoryView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	mems, err := e.DB.SearchMemories(ctx, userID, text, limit)
	if err != nil {
		return nil, err
	}
	out := make([]MemoryView, 0, len(mems))
	for i := range mems {
		out = append(out, *e.view(&mems[i]))
	}
	return out, nil
}

// UpdateBelief records evidence on a belief memory and moves its
// confidence toward 1 (for) or 0 (against) by weight. A zero weight uses
// the default step.
func (e *Engine) UpdateBelief(ctx context.Context, id, direction, evidenceID string, weight float64) (*MemoryView, error) {
	direction = strings.ToLower(strings.TrimSpace(direction))
	if direction != EvidenceFor && direction != EvidenceAgainst {
		return nil, fmt.Errorf("%w: direction must be %q or %q", ErrValidation, EvidenceFor, EvidenceAgainst)
	}
	if weight == 0 {
		weight = defaultBeliefWeight
	}
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("%w: weight must be in (0,1], got %v", ErrValidation, weight)
	}

	now := e.now()
	m, err := e.DB.UpdateMemory(ctx, id, func(m *store.Memory) error {
		if m.Type != ontology.BeliefMemory {
			return fmt.Errorf("%w: memory %s is %s, not belief", ErrTypeMismatch, m.ID, m.Type)
		}
		if direction == EvidenceFor {
			m.EvidenceFor = append(m.EvidenceFor, evidenceID)
			m.Confidence += weight * (1 - m.Confidence)
		} else {
			m.EvidenceAgainst = append(m.EvidenceAgainst, evidenceID)
			m.Confidence -= weight * m.Confidence
		}
		touch(e.Registry, m, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return e.view(m), nil
}

// RecordProcedureOutcome counts a success or failure against a procedural
// memory. Confidence becomes the Laplace-smoothed success rate and strength
// moves by the ratio of the new rate to the old one, so a success never
// lowers it and a failure never raises it.
func (e *Engine) RecordProcedureOutcome(ctx context.Context, id string, success bool) (*MemoryView, error) {
	now := e.now()
	m, err := e.DB.UpdateMemory(ctx, id, func(m *store.Memory) error {
		if m.Type != ontology.Procedural {
			return fmt.Errorf("%w: memory %s is %s, not procedural", ErrTypeMismatch, m.ID, m.Type)
		}
		before := successRate(m.SuccessCount, m.FailureCount)
		if success {
			m.SuccessCount++
		} else {
			m.FailureCount++
		}
		after := successRate(m.SuccessCount, m.FailureCount)

		touch(e.Registry, m, now)
		m.Strength = ontology.Clamp01(m.Strength * after / before)
		m.Confidence = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return e.view(m), nil
}

// successRate is the Laplace-smoothed success rate, (s+1)/(s+f+2).
func successRate(successes, failures int) float64 {
	return float64(successes+1) / float64(successes+failures+2)
}

// touch rebases a mutated memory's strength to its decayed value and
// restarts its decay clock.
func touch(reg *ontology.Registry, m *store.Memory, now time.Time) {
	m.Strength = CurrentStrength(reg, m, now)
	m.LastAccessed = now.UnixMilli()
}

// MemoryStats summarizes a user's memories. Total is the sum of ByType.
type MemoryStats struct {
	UserID        string             `json:"user_id"`
	Total         int                `json:"total"`
	ByType        map[string]int     `json:"by_type"`
	AvgConfidence map[string]float64 `json:"avg_confidence"`
	Quarantined   int                `json:"quarantined"`
}

// MemoryStats returns per-type counts for a user.
func (e *Engine) MemoryStats(ctx context.Context, userID string) (*MemoryStats, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	counts, err := e.DB.CountMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	s := &MemoryStats{
		UserID:        userID,
		ByType:        make(map[string]int, len(counts)),
		AvgConfidence: make(map[string]float64, len(counts)),
	}
	for _, c := range counts {
		s.ByType[c.Type.String()] = c.Count
		s.AvgConfidence[c.Type.String()] = c.AvgConfidence
		s.Total += c.Count
		s.Quarantined += c.Quarantined
	}
	return s, nil
}

// DeleteMemory removes a memory with its tags, full-text entry and
// embedding.
func (e *Engine) DeleteMemory(ctx context.Context, id string) error {
	ok, err := e.DB.DeleteMemory(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return nil
}
