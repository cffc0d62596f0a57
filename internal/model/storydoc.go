package model

import "strings"

// StoryDoc names one of the durable documents a story accumulates as it
// moves through the pipeline. Stage handlers address documents through this
// enum instead of reaching into story fields by name.
type StoryDoc string

const (
	DocPRD             StoryDoc = "prd"
	DocConfirmedPRD    StoryDoc = "confirmed_prd"
	DocTechnicalDesign StoryDoc = "technical_design"
	DocDetailedDesign  StoryDoc = "detailed_design"
	DocCodingReport    StoryDoc = "coding_report"
	DocTestGuide       StoryDoc = "test_guide"
)

// docFilenames maps documents to their canonical filenames in the story
// docs directory.
var docFilenames = map[StoryDoc]string{
	DocPRD:             "prd.md",
	DocConfirmedPRD:    "prd.md",
	DocTechnicalDesign: "technical_design.md",
	DocDetailedDesign:  "detailed_design.md",
	DocCodingReport:    "coding_report.md",
	DocTestGuide:       "test_guide.md",
}

// Filename returns the canonical doc filename, or empty for unknown docs.
func (d StoryDoc) Filename() string {
	return docFilenames[d]
}

// DocForFilename resolves a filename back to its document, preferring the
// primary document when two share a file (prd over confirmed_prd).
func DocForFilename(filename string) (StoryDoc, bool) {
	switch filename {
	case "prd.md":
		return DocPRD, true
	case "technical_design.md":
		return DocTechnicalDesign, true
	case "detailed_design.md":
		return DocDetailedDesign, true
	case "coding_report.md":
		return DocCodingReport, true
	case "test_guide.md":
		return DocTestGuide, true
	}
	return "", false
}

// Get returns the raw field value for a document: inline content or a
// relative docs/ path.
func (s *Story) Get(d StoryDoc) string {
	switch d {
	case DocPRD:
		return s.PRD
	case DocConfirmedPRD:
		return s.ConfirmedPRD
	case DocTechnicalDesign:
		return s.TechnicalDesign
	case DocDetailedDesign:
		return s.DetailedDesign
	case DocCodingReport:
		return s.CodingReport
	case DocTestGuide:
		return s.TestGuide
	}
	return ""
}

// Set writes the raw field value for a document.
func (s *Story) Set(d StoryDoc, value string) {
	switch d {
	case DocPRD:
		s.PRD = value
	case DocConfirmedPRD:
		s.ConfirmedPRD = value
	case DocTechnicalDesign:
		s.TechnicalDesign = value
	case DocDetailedDesign:
		s.DetailedDesign = value
	case DocCodingReport:
		s.CodingReport = value
	case DocTestGuide:
		s.TestGuide = value
	}
}

// IsDocPath reports whether a document field value is a relative path into
// the workspace docs tree rather than inline content.
func IsDocPath(value string) bool {
	return strings.HasPrefix(value, "docs/")
}

// HashField names one of the per-stage input hash memo fields.
type HashField string

const (
	HashPlanning  HashField = "planning_input_hash"
	HashDesigning HashField = "designing_input_hash"
	HashCoding    HashField = "coding_input_hash"
)

// GetHash returns the stored input hash for a hash field.
func (s *Story) GetHash(f HashField) string {
	switch f {
	case HashPlanning:
		return s.PlanningInputHash
	case HashDesigning:
		return s.DesigningInputHash
	case HashCoding:
		return s.CodingInputHash
	}
	return ""
}

// SetHash writes the stored input hash for a hash field.
func (s *Story) SetHash(f HashField, v string) {
	switch f {
	case HashPlanning:
		s.PlanningInputHash = v
	case HashDesigning:
		s.DesigningInputHash = v
	case HashCoding:
		s.CodingInputHash = v
	}
}
