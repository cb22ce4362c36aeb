package usecase

import (
	"fmt"

	"esign-trust-service/internal/domain"
)

// WeightTable はチェックごとの配点表。バージョンを付けて固定し、スコアを再現可能にする。
type WeightTable struct {
	Version   string
	Weights   map[string]int
	Mandatory []string
}

// WeightsV1 は公開検証で使う配点表（合計100）。
var WeightsV1 = WeightTable{
	Version: "v1",
	Weights: map[string]int{
		domain.CheckDocumentHash:       30,
		domain.CheckChainIntegrity:     25,
		domain.CheckTimestampAuthority: 15,
		domain.CheckOtpVerified:        10,
		domain.CheckConsent:            10,
		domain.CheckSignatureRecorded:  5,
		domain.CheckGeolocation:        5,
	},
	Mandatory: []string{domain.CheckDocumentHash, domain.CheckChainIntegrity},
}

// 段階の閾値
const (
	HighConfidenceThreshold   = 80
	MediumConfidenceThreshold = 50
)

// ConfidenceScorer は独立したチェック結果をスコアと段階にまとめる。
type ConfidenceScorer struct {
	table WeightTable
}

// NewConfidenceScorer は配点表を検証してConfidenceScorerを生成する。
func NewConfidenceScorer(table WeightTable) (*ConfidenceScorer, error) {
	total := 0
	for name, w := range table.Weights {
		if w < 0 {
			return nil, fmt.Errorf("weight for %q must not be negative", name)
		}
		total += w
	}
	if total != 100 {
		return nil, fmt.Errorf("weights of table %s sum to %d, want 100", table.Version, total)
	}
	for _, name := range table.Mandatory {
		if _, ok := table.Weights[name]; !ok {
			return nil, fmt.Errorf("mandatory check %q has no weight", name)
		}
	}
	return &ConfidenceScorer{table: table}, nil
}

// Version は配点表のバージョンを返す。
func (s *ConfidenceScorer) Version() string {
	return s.table.Version
}

// Score はチェック結果を順序を保ったまま評価する。
// Valid は必須チェックがすべて通過した場合のみ true で、スコアとは独立。
func (s *ConfidenceScorer) Score(checks []domain.Check) *domain.VerificationResult {
	passed := make(map[string]bool, len(checks))
	score := 0
	for _, c := range checks {
		if c.Passed && !passed[c.Name] {
			score += s.table.Weights[c.Name]
		}
		passed[c.Name] = passed[c.Name] || c.Passed
	}
	if score > 100 {
		score = 100
	}

	valid := true
	for _, name := range s.table.Mandatory {
		if !passed[name] {
			valid = false
			break
		}
	}

	out := make([]domain.Check, len(checks))
	copy(out, checks)
	return &domain.VerificationResult{
		Valid:      valid,
		Confidence: domain.Confidence{Score: score, Level: LevelForScore(score)},
		Checks:     out,
	}
}

// LevelForScore はスコアを段階に変換する。
func LevelForScore(score int) domain.ConfidenceLevel {
	switch {
	case score >= HighConfidenceThreshold:
		return domain.ConfidenceHigh
	case score >= MediumConfidenceThreshold:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
