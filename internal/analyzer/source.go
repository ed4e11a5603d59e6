// Package analyzer holds the pure contract-analysis heuristics: source
// keyword tiers, honeypot patterns, bytecode selector scanning, and the risk
// score. Everything here is deterministic and free of I/O so the workers can
// stay thin.
package analyzer

import (
	"regexp"
	"strings"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// Keyword tiers matched case-insensitively against verified source
var (
	highRiskKeywords   = []string{"selfdestruct", "delegatecall", "callcode", "tx.origin", "ecrecover"}
	mediumRiskKeywords = []string{"reentrancy", "assembly", "create2", "iszero"}
	lowRiskKeywords    = []string{"shadows", "hidden", "onlyowner", "mint", "burn"}
)

// SourceFindings is the outcome of analyzing verified source code
type SourceFindings struct {
	HighKeywords   []string `json:"highKeywords,omitempty"`
	MediumKeywords []string `json:"mediumKeywords,omitempty"`
	LowKeywords    []string `json:"lowKeywords,omitempty"`

	HiddenApprove      bool `json:"hiddenApprove,omitempty"`
	HardcodedBlock     bool `json:"hardcodedBlock,omitempty"`
	ObfuscatedEncoding bool `json:"obfuscatedEncoding,omitempty"`
	UnnecessarySafeMath bool `json:"unnecessarySafeMath,omitempty"`
}

// HasRisks reports whether any keyword or honeypot flag fired
func (f *SourceFindings) HasRisks() bool {
	return len(f.HighKeywords) > 0 || len(f.MediumKeywords) > 0 || len(f.LowKeywords) > 0 ||
		f.HiddenApprove || f.HardcodedBlock || f.ObfuscatedEncoding || f.UnnecessarySafeMath
}

// NeedsAISummary reports whether the findings warrant an AI summary:
// any HIGH/MEDIUM keyword, or the hidden-approve honeypot flag.
func (f *SourceFindings) NeedsAISummary() bool {
	return len(f.HighKeywords) > 0 || len(f.MediumKeywords) > 0 || f.HiddenApprove
}

// Severity returns the strongest severity implied by the findings
func (f *SourceFindings) Severity() types.Severity {
	switch {
	case f.HiddenApprove:
		return types.SeverityCritical
	case len(f.HighKeywords) > 0 || f.HardcodedBlock:
		return types.SeverityHigh
	case len(f.MediumKeywords) > 0 || f.ObfuscatedEncoding:
		return types.SeverityMedium
	case len(f.LowKeywords) > 0 || f.UnnecessarySafeMath:
		return types.SeverityLow
	default:
		return types.SeverityInformational
	}
}

// hiddenApproveWindow is how far past a transfer override an approve call
// still counts as hidden.
const hiddenApproveWindow = 500

var (
	transferOverrideRe = regexp.MustCompile(`(?i)function\s+(_transfer|transferFrom|transfer)\s*\([^)]*\)[^{]*\boverride\b`)
	hardcodedBlockRe   = regexp.MustCompile(`require\s*\(\s*[A-Za-z_]*[sS]ender[A-Za-z_]*\s*!=\s*0x[0-9a-fA-F]{40}`)
	obfuscatedRe       = regexp.MustCompile(`string\.concat\(\s*"[^"]*"\s*,\s*abi\.encodePacked`)
	safeMathRe         = regexp.MustCompile(`using\s+SafeMath\s+for\s+uint256`)
	pragma08Re         = regexp.MustCompile(`pragma\s+solidity\s*[\^>=\s]*0\.8`)
)

// AnalyzeSource runs the keyword tiers and honeypot heuristics against
// verified source code.
func AnalyzeSource(source string) *SourceFindings {
	findings := &SourceFindings{}
	lowered := strings.ToLower(source)

	for _, keyword := range highRiskKeywords {
		if strings.Contains(lowered, keyword) {
			findings.HighKeywords = append(findings.HighKeywords, keyword)
		}
	}
	for _, keyword := range mediumRiskKeywords {
		if strings.Contains(lowered, keyword) {
			findings.MediumKeywords = append(findings.MediumKeywords, keyword)
		}
	}
	for _, keyword := range lowRiskKeywords {
		if strings.Contains(lowered, keyword) {
			findings.LowKeywords = append(findings.LowKeywords, keyword)
		}
	}

	// Honeypot heuristics run on the original source, not the lowered copy,
	// so address literals and overrides keep their shape.
	findings.HiddenApprove = hasHiddenApprove(source)
	findings.HardcodedBlock = hardcodedBlockRe.MatchString(source)
	findings.ObfuscatedEncoding = obfuscatedRe.MatchString(source)
	findings.UnnecessarySafeMath = safeMathRe.MatchString(source) && pragma08Re.MatchString(source)

	return findings
}

// hasHiddenApprove flags approve( appearing shortly after a declared
// override of a transfer path, the classic honeypot shape.
func hasHiddenApprove(source string) bool {
	for _, match := range transferOverrideRe.FindAllStringIndex(source, -1) {
		end := match[1] + hiddenApproveWindow
		if end > len(source) {
			end = len(source)
		}
		if strings.Contains(source[match[1]:end], "approve(") {
			return true
		}
	}
	return false
}
