// Package behavior tracks per-user activity baselines and scores deviations
// from them. State lives in a bounded LRU so a flood of distinct users
// evicts the stalest profiles instead of growing without limit.
package behavior

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/stat"

	"threatlens/pkg/models"
)

// Config controls the behavior engine.
type Config struct {
	MaxUsers              int
	BaselineMinActivities int
	HistoryCap            int
	TopN                  int
}

// DefaultConfig returns the standard behavior engine parameters.
func DefaultConfig() Config {
	return Config{
		MaxUsers:              10000,
		BaselineMinActivities: 50,
		HistoryCap:            2000,
		TopN:                  10,
	}
}

// Risk level ladder, shared by assessments and the high-risk report.
// RiskUnknown marks users that cannot be assessed yet for lack of a baseline.
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
	RiskLow      = "low"
	RiskNormal   = "normal"
	RiskUnknown  = "unknown"
)

func riskLevel(score float64) string {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.6:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	case score >= 0.2:
		return RiskLow
	default:
		return RiskNormal
	}
}

// Risk increments per anomaly axis.
const (
	riskLoginHour      = 0.3
	riskLoginHourFar   = 0.5
	riskUncommonProc   = 0.1
	riskSensitiveFile  = 0.5
	riskFileAccessRate = 0.8
)

var sensitiveMarkers = []string{
	"/etc/passwd", "/etc/shadow", "/etc/sudoers",
	".ssh", "id_rsa", "credential", "secret", "wallet",
	"config/sam", "config\\sam", "ntds.dit",
}

type activity struct {
	at         time.Time
	eventType  string
	process    string
	file       string
	fileAccess bool
}

type profile struct {
	activities []activity
	baseline   *models.UserBaseline
	risk       float64
}

// Analytics is the behavior engine. Safe for concurrent use.
type Analytics struct {
	mu       sync.Mutex
	profiles *lru.Cache[string, *profile]
	cfg      Config
}

// NewAnalytics creates a behavior engine with a bounded user store.
func NewAnalytics(cfg Config) (*Analytics, error) {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 10000
	}
	if cfg.BaselineMinActivities <= 0 {
		cfg.BaselineMinActivities = 50
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 2000
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	cache, err := lru.New[string, *profile](cfg.MaxUsers)
	if err != nil {
		return nil, err
	}
	return &Analytics{profiles: cache, cfg: cfg}, nil
}

// TrackedUsers returns the number of users currently profiled.
func (a *Analytics) TrackedUsers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profiles.Len()
}

func (a *Analytics) profileFor(user string) *profile {
	if p, ok := a.profiles.Get(user); ok {
		return p
	}
	p := &profile{}
	a.profiles.Add(user, p)
	return p
}

// RecordActivity appends one activity to the user's history. Never fails;
// a first-seen user gets a fresh profile.
func (a *Analytics) RecordActivity(event *models.Event) {
	if event == nil || event.User == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record(a.profileFor(event.User), event)
}

func (a *Analytics) record(p *profile, event *models.Event) {
	p.activities = append(p.activities, activity{
		at:         event.Timestamp,
		eventType:  event.EventType,
		process:    strings.ToLower(event.ProcessName),
		file:       strings.ToLower(event.FilePath),
		fileAccess: event.FilePath != "",
	})
	if len(p.activities) > a.cfg.HistoryCap {
		p.activities = p.activities[len(p.activities)-a.cfg.HistoryCap:]
	}
}

// EstablishBaseline learns the user's normal pattern from recorded history.
// Too little history is not an error, the caller just learns how much more
// is needed.
func (a *Analytics) EstablishBaseline(user string) *models.BaselineResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.profiles.Get(user)
	if !ok || len(p.activities) < a.cfg.BaselineMinActivities {
		current := 0
		if ok {
			current = len(p.activities)
		}
		return &models.BaselineResult{
			Status:   "insufficient_data",
			Required: a.cfg.BaselineMinActivities,
			Current:  current,
		}
	}
	return a.establish(p)
}

// establish computes the baseline from recorded history. Caller holds the
// lock and has verified there is enough of it.
func (a *Analytics) establish(p *profile) *models.BaselineResult {
	hours := make([]float64, len(p.activities))
	days := map[string]int{}
	procCounts := map[string]int{}
	fileCounts := map[string]int{}
	for i, act := range p.activities {
		hours[i] = float64(act.at.Hour())
		days[act.at.Format("2006-01-02")]++
		if act.process != "" {
			procCounts[act.process]++
		}
		if act.file != "" {
			fileCounts[act.file]++
		}
	}

	std := stat.StdDev(hours, nil)
	if math.IsNaN(std) {
		std = 0
	}
	baseline := &models.UserBaseline{
		AvgLoginHour:       stat.Mean(hours, nil),
		StdLoginHour:       std,
		AvgDailyActivities: float64(len(p.activities)) / float64(len(days)),
		CommonProcesses:    topKeys(procCounts, a.cfg.TopN),
		CommonFiles:        topKeys(fileCounts, a.cfg.TopN),
	}
	p.baseline = baseline

	return &models.BaselineResult{Status: "established", Baseline: baseline}
}

func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// AnalyzeBehavior records the activity, scores it against the user's
// baseline across four axes, and folds the per-event delta into the user's
// decayed risk score. The assessment reports the decayed score, so one
// transient spike fades while sustained deviation accumulates. Without a
// baseline it tries to establish one from the recorded history first; when
// that still fails the user cannot be assessed and the level is unknown.
func (a *Analytics) AnalyzeBehavior(event *models.Event) *models.BehaviorAssessment {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.profileFor(event.User)
	a.record(p, event)

	assessment := &models.BehaviorAssessment{
		User:      event.User,
		RiskLevel: RiskUnknown,
		Timestamp: time.Now().UTC(),
	}
	if p.baseline == nil && len(p.activities) >= a.cfg.BaselineMinActivities {
		a.establish(p)
	}
	if p.baseline == nil {
		return assessment
	}

	var delta float64
	var anomalies []models.BehaviorAnomaly
	add := func(typ, details, severity string, inc float64) {
		anomalies = append(anomalies, models.BehaviorAnomaly{Type: typ, Details: details, Severity: severity})
		delta += inc
	}

	// Unusual login hour.
	if p.baseline.StdLoginHour > 0 {
		z := math.Abs(float64(event.Hour())-p.baseline.AvgLoginHour) / p.baseline.StdLoginHour
		if z > 3 {
			add("unusual_login_time", "activity far outside usual hours", "high", riskLoginHourFar)
		} else if z > 2 {
			add("unusual_login_time", "activity outside usual hours", "medium", riskLoginHour)
		}
	}

	// Process the user has never relied on.
	proc := strings.ToLower(event.ProcessName)
	if proc != "" && !contains(p.baseline.CommonProcesses, proc) {
		add("uncommon_process", "process not in user's common set: "+proc, "low", riskUncommonProc)
	}

	// Sensitive file outside the user's usual set.
	file := strings.ToLower(event.FilePath)
	if file != "" && !contains(p.baseline.CommonFiles, file) && isSensitive(file) {
		add("sensitive_file_access", "uncommon access to sensitive path: "+file, "high", riskSensitiveFile)
	}

	// Burst of file accesses, the exfiltration tell.
	if event.FilePath != "" {
		recent := 0
		cutoff := event.Timestamp.Add(-5 * time.Minute)
		for _, act := range p.activities {
			if act.fileAccess && !act.at.Before(cutoff) && !act.at.After(event.Timestamp) {
				recent++
			}
		}
		if recent > 50 {
			add("file_access_burst", "over 50 file accesses in five minutes", "critical", riskFileAccessRate)
		}
	}

	score := math.Min(delta, 1.0)
	p.risk = 0.9*p.risk + 0.1*score

	assessment.RiskScore = p.risk
	assessment.RiskLevel = riskLevel(p.risk)
	assessment.Anomalies = anomalies
	return assessment
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func isSensitive(path string) bool {
	for _, marker := range sensitiveMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// HighRiskUsers lists users whose decayed risk meets the threshold, highest
// first.
func (a *Analytics) HighRiskUsers(threshold float64) []models.HighRiskUser {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []models.HighRiskUser
	for _, user := range a.profiles.Keys() {
		p, ok := a.profiles.Peek(user)
		if !ok || p.risk < threshold {
			continue
		}
		recent := 0
		cutoff := time.Now().Add(-24 * time.Hour)
		for _, act := range p.activities {
			if act.at.After(cutoff) {
				recent++
			}
		}
		out = append(out, models.HighRiskUser{
			User:             user,
			RiskScore:        p.risk,
			RiskLevel:        riskLevel(p.risk),
			RecentActivities: recent,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].User < out[j].User
	})
	return out
}
