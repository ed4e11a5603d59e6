package analyzer

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/txMaestro/web3safetykit/internal/types"
)

// SelectorFinding names a risky function selector found in bytecode
type SelectorFinding struct {
	Selector  string         `json:"selector"`
	Signature string         `json:"signature"`
	Severity  types.Severity `json:"severity"`
}

// Risky selectors scanned for in unverified bytecode. The HIGH set covers
// upgrade, ownership seizure, and destruction entry points.
var riskySelectors = []SelectorFinding{
	{Selector: "0x592ac5a6", Signature: "delegatecall(bytes)", Severity: types.SeverityHigh},
	{Selector: "0x3659cfe6", Signature: "upgradeTo(address)", Severity: types.SeverityHigh},
	{Selector: "0x4f1ef286", Signature: "upgradeToAndCall(address,bytes)", Severity: types.SeverityHigh},
	{Selector: "0x13af4035", Signature: "setOwner(address)", Severity: types.SeverityHigh},
	{Selector: "0xc01a7570", Signature: "kill()", Severity: types.SeverityHigh},
	{Selector: "0x83197ef0", Signature: "destroy()", Severity: types.SeverityHigh},
	{Selector: "0x93252358", Signature: "rug()", Severity: types.SeverityHigh},
	{Selector: "0xe9b28907", Signature: "exit()", Severity: types.SeverityHigh},

	{Selector: "0x40c10f19", Signature: "mint(address,uint256)", Severity: types.SeverityMedium},
	{Selector: "0x8456cb59", Signature: "pause()", Severity: types.SeverityMedium},
	{Selector: "0xf2fde38b", Signature: "transferOwnership(address)", Severity: types.SeverityMedium},

	{Selector: "0x42966c68", Signature: "burn(uint256)", Severity: types.SeverityLow},
	{Selector: "0x3f4ba83a", Signature: "unpause()", Severity: types.SeverityLow},
	{Selector: "0x715018a6", Signature: "renounceOwnership()", Severity: types.SeverityLow},
}

// BytecodeFindings is the outcome of scanning unverified bytecode
type BytecodeFindings struct {
	Empty    bool              `json:"empty,omitempty"`
	Selectors []SelectorFinding `json:"selectors,omitempty"`
}

// HasHighRisk reports whether any HIGH selector is present; such contracts
// land in the unverifiedWithRisks bucket.
func (f *BytecodeFindings) HasHighRisk() bool {
	for _, finding := range f.Selectors {
		if finding.Severity == types.SeverityHigh {
			return true
		}
	}
	return false
}

// AnalyzeBytecode scans deployed bytecode for the presence of risky 4-byte
// selectors. Empty bytecode ("0x" or nil) is reported as such with no risks.
func AnalyzeBytecode(code []byte) *BytecodeFindings {
	if len(code) == 0 {
		return &BytecodeFindings{Empty: true}
	}

	findings := &BytecodeFindings{}
	for _, candidate := range riskySelectors {
		raw, err := hex.DecodeString(strings.TrimPrefix(candidate.Selector, "0x"))
		if err != nil {
			continue
		}
		if bytes.Contains(code, raw) {
			findings.Selectors = append(findings.Selectors, candidate)
		}
	}
	return findings
}
