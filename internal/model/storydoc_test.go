package model

import "testing"

func TestStoryDoc_GetSet(t *testing.T) {
	story := &Story{}
	docs := []StoryDoc{
		DocPRD, DocConfirmedPRD, DocTechnicalDesign,
		DocDetailedDesign, DocCodingReport, DocTestGuide,
	}
	for i, d := range docs {
		story.Set(d, d.Filename()+"-value")
		if got := story.Get(d); got != d.Filename()+"-value" {
			t.Errorf("doc %d: Get = %q", i, got)
		}
	}
}

func TestStoryDoc_Filename(t *testing.T) {
	cases := []struct {
		doc  StoryDoc
		want string
	}{
		{DocPRD, "prd.md"},
		{DocConfirmedPRD, "prd.md"},
		{DocTechnicalDesign, "technical_design.md"},
		{DocDetailedDesign, "detailed_design.md"},
		{DocCodingReport, "coding_report.md"},
		{DocTestGuide, "test_guide.md"},
		{StoryDoc("bogus"), ""},
	}
	for _, c := range cases {
		if got := c.doc.Filename(); got != c.want {
			t.Errorf("Filename(%s) = %q, want %q", c.doc, got, c.want)
		}
	}
}

func TestDocForFilename(t *testing.T) {
	if d, ok := DocForFilename("prd.md"); !ok || d != DocPRD {
		t.Errorf("prd.md resolved to (%q, %v)", d, ok)
	}
	if _, ok := DocForFilename("random.md"); ok {
		t.Error("unknown filename resolved")
	}
}

func TestIsDocPath(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"docs/s1-title/prd.md", true},
		{"# inline markdown", false},
		{"", false},
		{"docsfoo", false},
	}
	for _, c := range cases {
		if got := IsDocPath(c.value); got != c.want {
			t.Errorf("IsDocPath(%q) = %v, want %v", c.value, got, c.want)
		}
	}
}

func TestHashFields_GetSet(t *testing.T) {
	story := &Story{}
	for _, f := range []HashField{HashPlanning, HashDesigning, HashCoding} {
		story.SetHash(f, "h-"+string(f))
		if got := story.GetHash(f); got != "h-"+string(f) {
			t.Errorf("hash %s = %q", f, got)
		}
	}
}

func TestDocStageIndex(t *testing.T) {
	cases := []struct {
		status StoryStatus
		want   int
	}{
		{StatusPreparing, 0},
		{StatusClarifying, 1},
		{StatusPlanning, 2},
		{StatusDesigning, 3},
		{StatusCoding, -1},
		{StatusDone, -1},
	}
	for _, c := range cases {
		if got := DocStageIndex(c.status); got != c.want {
			t.Errorf("DocStageIndex(%s) = %d, want %d", c.status, got, c.want)
		}
	}
}

func TestValidateStatus(t *testing.T) {
	if err := ValidateStatus(StatusCoding); err != nil {
		t.Errorf("valid status rejected: %v", err)
	}
	if err := ValidateStatus(StoryStatus("bogus")); err == nil {
		t.Error("invalid status accepted")
	}
}
