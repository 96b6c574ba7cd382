// Package jury decides whether a candidate typed memory is admitted,
// rejected, or admitted in a weakened (quarantined) state.
package jury

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/config"
	"github.com/Alby2007/PLTM-sub001/internal/llm"
	"github.com/Alby2007/PLTM-sub001/internal/ontology"
)

// Verdict is the jury's admission decision.
type Verdict string

const (
	Accept     Verdict = "accept"
	Reject     Verdict = "reject"
	Quarantine Verdict = "quarantine"
)

// Candidate is a memory awaiting admission.
type Candidate struct {
	UserID     string
	Type       ontology.MemoryType
	Content    string
	Confidence float64
	Strength   float64
}

// Decision is the result of Evaluate. Strength is the strength the memory
// should be stored with; it is below the candidate's for quarantine.
type Decision struct {
	Verdict  Verdict `json:"verdict"`
	Reason   string  `json:"reason"`
	Strength float64 `json:"strength"`
	// Source is "rules" or "meta_judge".
	Source string `json:"source"`
}

// DuplicateSource lists a user's most recent memory contents.
type DuplicateSource interface {
	RecentContents(ctx context.Context, userID string, limit int) ([]string, error)
}

// Jury evaluates candidates. It is safe for concurrent use.
type Jury struct {
	cfg    config.JuryConfig
	judge  llm.Client
	dups   DuplicateSource
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a jury. judge may be nil, which disables the meta-judge
// regardless of cfg; dups may be nil, which disables duplicate detection.
func New(cfg config.JuryConfig, judge llm.Client, dups DuplicateSource, logger *zap.Logger) *Jury {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QuarantineMultiplier <= 0 || cfg.QuarantineMultiplier >= 1 {
		cfg.QuarantineMultiplier = 0.5
	}
	if cfg.MetaJudgeTimeoutMS <= 0 {
		cfg.MetaJudgeTimeoutMS = 3000
	}
	return &Jury{cfg: cfg, judge: judge, dups: dups, logger: logger}
}

// Evaluate decides a candidate's admission. It never fails: a broken
// duplicate source or meta-judge degrades to the rule checks alone.
// Evaluate may block for up to the meta-judge timeout and must not be
// called while holding the store's write lock.
func (j *Jury) Evaluate(ctx context.Context, c Candidate) Decision {
	var recent []string
	if j.dups != nil && c.UserID != "" {
		var err error
		recent, err = j.dups.RecentContents(ctx, c.UserID, recentWindow)
		if err != nil {
			j.logger.Warn("jury duplicate lookup failed", zap.String("user_id", c.UserID), zap.Error(err))
		}
	}

	rr := checkRules(c, j.cfg.MinContentLength, recent)
	d := Decision{Verdict: rr.verdict, Reason: rr.reason, Source: "rules"}

	if rr.borderline && j.cfg.EnableMetaJudge && j.judge != nil {
		if v, ok := j.askJudge(ctx, c, rr.reason); ok {
			d = Decision{Verdict: Verdict(v.Verdict), Reason: v.Reason, Source: "meta_judge"}
		}
	}

	switch d.Verdict {
	case Accept:
		d.Strength = c.Strength
	case Quarantine:
		d.Strength = ontology.Clamp01(c.Strength * j.cfg.QuarantineMultiplier)
	}

	j.record(d)
	j.logger.Debug("jury decision",
		zap.String("user_id", c.UserID),
		zap.String("verdict", string(d.Verdict)),
		zap.String("reason", d.Reason),
		zap.String("source", d.Source),
	)
	return d
}

// askJudge consults the meta-judge under the configured timeout. ok is false
// on timeout, error, or an unparseable reply.
func (j *Jury) askJudge(ctx context.Context, c Candidate, ruleReason string) (*llm.JudgeVerdict, bool) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.MetaJudgeTimeout())
	defer cancel()

	start := time.Now()
	resp, err := j.judge.Complete(ctx, llm.MetaJudgePrompt(c.Type.String(), c.Content, ruleReason))
	elapsed := time.Since(start)

	j.mu.Lock()
	j.stats.MetaJudgeCalls++
	j.stats.metaJudgeLatency += elapsed
	j.mu.Unlock()

	if err != nil {
		j.mu.Lock()
		if errors.Is(err, context.DeadlineExceeded) {
			j.stats.MetaJudgeTimeouts++
		} else {
			j.stats.MetaJudgeErrors++
		}
		j.mu.Unlock()
		j.logger.Warn("meta-judge unavailable, using rule decision",
			zap.Duration("duration", elapsed), zap.Error(err))
		return nil, false
	}
	if resp == nil {
		j.countJudgeError()
		return nil, false
	}

	v, err := llm.ParseJudgeVerdict(resp.Content)
	if err != nil {
		j.countJudgeError()
		j.logger.Warn("meta-judge reply unparseable, using rule decision", zap.Error(err))
		return nil, false
	}
	return v, true
}

func (j *Jury) countJudgeError() {
	j.mu.Lock()
	j.stats.MetaJudgeErrors++
	j.mu.Unlock()
}

func (j *Jury) record(d Decision) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stats.Evaluations++
	switch d.Verdict {
	case Accept:
		j.stats.Accepted++
	case Reject:
		j.stats.Rejected++
	case Quarantine:
		j.stats.Quarantined++
	}
	if d.Source == "meta_judge" {
		j.stats.MetaJudgeDecisions++
	}
}

// Stats are in-process counters of jury activity since startup.
type Stats struct {
	Evaluations        int     `json:"evaluations"`
	Accepted           int     `json:"accepted"`
	Rejected           int     `json:"rejected"`
	Quarantined        int     `json:"quarantined"`
	MetaJudgeCalls     int     `json:"meta_judge_calls"`
	MetaJudgeDecisions int     `json:"meta_judge_decisions"`
	MetaJudgeTimeouts  int     `json:"meta_judge_timeouts"`
	MetaJudgeErrors    int     `json:"meta_judge_errors"`
	MeanLatencyMS      float64 `json:"mean_meta_judge_latency_ms"`

	metaJudgeLatency time.Duration
}

// Stats returns a snapshot of the counters.
func (j *Jury) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.stats
	if s.MetaJudgeCalls > 0 {
		s.MeanLatencyMS = float64(s.metaJudgeLatency.Milliseconds()) / float64(s.MetaJudgeCalls)
	}
	return s
}
