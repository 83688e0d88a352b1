package models

import "time"

// Threat categories assigned by the classifier. The extended set covers
// MITRE-derived labels the training corpus carries in addition to the base
// eight.
const (
	CategoryNormal           = "normal"
	CategoryMalware          = "malware"
	CategoryRansomware       = "ransomware"
	CategoryTrojan           = "trojan"
	CategoryDDoS             = "ddos"
	CategoryBruteForce       = "brute_force"
	CategoryExfiltration     = "data_exfiltration"
	CategoryPrivEscalation   = "privilege_escalation"
	CategoryReconnaissance   = "reconnaissance"
	CategoryLateralMovement  = "lateral_movement"
	CategoryCredentialDump   = "credential_dumping"
)

// Severity levels, coarsest to finest.
const (
	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityByCategory = map[string]string{
	CategoryNormal:          SeverityNone,
	CategoryMalware:         SeverityCritical,
	CategoryRansomware:      SeverityCritical,
	CategoryTrojan:          SeverityHigh,
	CategoryDDoS:            SeverityHigh,
	CategoryBruteForce:      SeverityMedium,
	CategoryExfiltration:    SeverityCritical,
	CategoryPrivEscalation:  SeverityHigh,
	CategoryReconnaissance:  SeverityMedium,
	CategoryLateralMovement: SeverityHigh,
	CategoryCredentialDump:  SeverityCritical,
}

// SeverityFor maps a category and confidence to a severity level. Low
// confidence downgrades to low; higher confidence never produces a lower
// severity than lower confidence does for the same category.
func SeverityFor(category string, confidence float64) string {
	base, ok := severityByCategory[category]
	if !ok {
		base = SeverityLow
	}
	if category != CategoryNormal && confidence < 0.5 {
		return SeverityLow
	}
	return base
}

// RiskScore combines confidence with threat status into a [0,1] score.
func RiskScore(category string, confidence float64) float64 {
	if category == CategoryNormal {
		return confidence * 0.1
	}
	return confidence * 0.9
}

// ClassificationResult is the verdict for one event.
type ClassificationResult struct {
	ThreatType       string             `json:"threat_type"`
	Classification   string             `json:"classification"`
	Confidence       float64            `json:"confidence"`
	IsThreat         bool               `json:"is_threat"`
	RiskScore        float64            `json:"risk_score"`
	Severity         string             `json:"severity"`
	Indicators       []string           `json:"indicators,omitempty"`
	ModelPredictions map[string]string  `json:"model_predictions"`
	Probabilities    map[string]float64 `json:"probabilities"`
}

// AnomalyResult is the anomaly detector's verdict for one event.
type AnomalyResult struct {
	IsAnomaly           bool      `json:"is_anomaly"`
	AnomalyScore        float64   `json:"anomaly_score"`
	StatisticalFindings []string  `json:"statistical_findings,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// TrainingReport summarizes one classifier training run.
type TrainingReport struct {
	Status         string             `json:"status"`
	Samples        int                `json:"samples"`
	ModelAccuracy  map[string]float64 `json:"model_accuracy,omitempty"`
	Classes        []string           `json:"classes,omitempty"`
	FeatureColumns []string           `json:"feature_columns,omitempty"`
	TrainedAt      time.Time          `json:"trained_at"`
}

// FitReport summarizes one anomaly detector fit.
type FitReport struct {
	Status         string   `json:"status"`
	Samples        int      `json:"samples"`
	FeatureColumns []string `json:"feature_columns,omitempty"`
}

// BehaviorAnomaly is one deviation found by the behavior engine.
type BehaviorAnomaly struct {
	Type     string `json:"type"`
	Details  string `json:"details"`
	Severity string `json:"severity"`
}

// BehaviorAssessment is the behavior engine's verdict for one activity.
type BehaviorAssessment struct {
	User      string            `json:"user"`
	RiskLevel string            `json:"risk_level"`
	RiskScore float64           `json:"risk_score"`
	Anomalies []BehaviorAnomaly `json:"anomalies,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// UserBaseline is the learned normal-behavior summary for one user.
type UserBaseline struct {
	AvgLoginHour       float64  `json:"avg_login_hour"`
	StdLoginHour       float64  `json:"std_login_hour"`
	AvgDailyActivities float64  `json:"avg_daily_activities"`
	CommonProcesses    []string `json:"common_processes"`
	CommonFiles        []string `json:"common_files"`
}

// BaselineResult reports a baseline establishment attempt.
type BaselineResult struct {
	Status   string        `json:"status"`
	Required int           `json:"required,omitempty"`
	Current  int           `json:"current,omitempty"`
	Baseline *UserBaseline `json:"baseline,omitempty"`
}

// HighRiskUser is one entry of the high-risk report.
type HighRiskUser struct {
	User             string  `json:"user"`
	RiskScore        float64 `json:"risk_score"`
	RiskLevel        string  `json:"risk_level"`
	RecentActivities int     `json:"recent_activities"`
}

// ThreatRecord is one flagged event in a batch analysis.
type ThreatRecord struct {
	ThreatID          string             `json:"threat_id"`
	LogIndex          int                `json:"log_index"`
	IsThreat          bool               `json:"is_threat"`
	ThreatType        string             `json:"threat_type"`
	Classification    string             `json:"classification"`
	Confidence        float64            `json:"confidence"`
	RiskScore         float64            `json:"risk_score"`
	Severity          string             `json:"severity"`
	Indicators        []string           `json:"indicators,omitempty"`
	ModelPredictions  map[string]string  `json:"model_predictions,omitempty"`
	Probabilities     map[string]float64 `json:"probabilities,omitempty"`
	AnomalyScore      float64            `json:"anomaly_score"`
	AnomalyIndicators []string           `json:"anomaly_indicators,omitempty"`
	Recommendations   []string           `json:"recommendations,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// BatchReport is the result of analyzing an ordered batch of events. Only
// flagged events appear in Threats; LogIndex points back into the input.
type BatchReport struct {
	Threats       []ThreatRecord `json:"threats"`
	TotalAnalyzed int            `json:"total_analyzed"`
	ThreatCount   int            `json:"threat_count"`
}
