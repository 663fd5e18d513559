// Package security scans generated image contents for embedded secrets.
// Anything written into a Dockerfile ENV line or copied into the build
// context ends up in every layer of the image, so credentials there are
// reported before the image is built.
package security

import (
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is a single detected secret.
type Finding struct {
	File    string
	Line    int
	RuleID  string
	Message string
}

// Scanner detects secrets with the gitleaks default rule set.
type Scanner struct {
	once     sync.Once
	detector *detect.Detector
	initErr  error
}

// NewScanner creates a scanner. The gitleaks detector is built on first use.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan returns the secrets found in content. name is reported as the file.
func (s *Scanner) Scan(name, content string) ([]Finding, error) {
	s.once.Do(func() {
		s.detector, s.initErr = detect.NewDetectorDefaultConfig()
	})
	if s.initErr != nil {
		return nil, s.initErr
	}

	hits := s.detector.DetectBytes([]byte(content))
	if len(hits) == 0 {
		return nil, nil
	}

	findings := make([]Finding, 0, len(hits))
	for _, h := range hits {
		findings = append(findings, Finding{
			File:    name,
			Line:    h.StartLine + 1, // gitleaks is 0-indexed
			RuleID:  h.RuleID,
			Message: h.Description,
		})
	}
	return findings, nil
}
