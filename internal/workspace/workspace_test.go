package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zjjiang/opd/internal/model"
)

func testProject(t *testing.T) *model.Project {
	t.Helper()
	return &model.Project{ID: "p1", Name: "My Demo Project", WorkspaceDir: t.TempDir()}
}

func testStory() *model.Story {
	return &model.Story{ID: "s1", Title: "Add /login endpoint"}
}

// --- Sanitize ---

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Demo Project", "my-demo-project"},
		{"Add /login endpoint", "add-login-endpoint"},
		{"under_scored  spaces", "under-scored-spaces"},
		{"Ünïcode Nàme", "unicode-name"},
		{"--- trim ---", "trim"},
		{"", ""},
		{"!!!", ""},
	}
	for _, c := range cases {
		if got := Sanitize(c.in); got != c.want {
			t.Errorf("Sanitize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitize_LengthCap(t *testing.T) {
	long := strings.Repeat("abc ", 100)
	got := Sanitize(long)
	if len(got) > 80 {
		t.Errorf("sanitized length = %d, want <= 80", len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("trailing hyphen after cap: %q", got)
	}
}

func TestStorySlug(t *testing.T) {
	if got := StorySlug(testStory()); got != "s1-add-login-endpoint" {
		t.Errorf("StorySlug = %q", got)
	}
	if got := StorySlug(&model.Story{ID: "s2", Title: "!!!"}); got != "s2" {
		t.Errorf("slug for unsanitizable title = %q, want bare id", got)
	}
}

// --- Doc I/O ---

func TestWriteDoc_ReturnsDocsRelPath(t *testing.T) {
	project, story := testProject(t), testStory()
	relPath, err := WriteDoc(project, story, "prd.md", "# PRD")
	if err != nil {
		t.Fatalf("WriteDoc: %v", err)
	}
	if !strings.HasPrefix(relPath, "docs/") {
		t.Errorf("relPath = %q, must start with docs/", relPath)
	}
	if relPath != "docs/s1-add-login-endpoint/prd.md" {
		t.Errorf("relPath = %q", relPath)
	}
}

func TestReadDoc_RoundTrip(t *testing.T) {
	project, story := testProject(t), testStory()
	if _, err := WriteDoc(project, story, "prd.md", "# PRD body"); err != nil {
		t.Fatal(err)
	}
	content, found, err := ReadDoc(project, story, "prd.md")
	if err != nil || !found {
		t.Fatalf("ReadDoc: found=%v err=%v", found, err)
	}
	if content != "# PRD body" {
		t.Errorf("content = %q", content)
	}
}

func TestReadDoc_Missing(t *testing.T) {
	project, story := testProject(t), testStory()
	_, found, err := ReadDoc(project, story, "nope.md")
	if err != nil {
		t.Fatalf("missing doc must not error: %v", err)
	}
	if found {
		t.Error("found a doc that does not exist")
	}
}

func TestDocIO_RejectsTraversal(t *testing.T) {
	project, story := testProject(t), testStory()
	for _, bad := range []string{"../escape.md", "a/b.md", `a\b.md`, ""} {
		if _, err := WriteDoc(project, story, bad, "x"); err == nil {
			t.Errorf("WriteDoc accepted %q", bad)
		}
		if _, _, err := ReadDoc(project, story, bad); err == nil {
			t.Errorf("ReadDoc accepted %q", bad)
		}
		if err := DeleteDoc(project, story, bad); err == nil {
			t.Errorf("DeleteDoc accepted %q", bad)
		}
	}
}

func TestListDocs(t *testing.T) {
	project, story := testProject(t), testStory()
	files, err := ListDocs(project, story)
	if err != nil || len(files) != 0 {
		t.Fatalf("empty list: %v %v", files, err)
	}
	_, _ = WriteDoc(project, story, "prd.md", "a")
	_, _ = WriteDoc(project, story, "technical_design.md", "b")
	files, err = ListDocs(project, story)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "prd.md" {
		t.Errorf("files = %v", files)
	}
}

func TestDeleteDoc(t *testing.T) {
	project, story := testProject(t), testStory()
	_, _ = WriteDoc(project, story, "prd.md", "a")
	if err := DeleteDoc(project, story, "prd.md"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := ReadDoc(project, story, "prd.md"); found {
		t.Error("doc still present after delete")
	}
	// Deleting again is fine.
	if err := DeleteDoc(project, story, "prd.md"); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestResolveDoc(t *testing.T) {
	project, story := testProject(t), testStory()

	// Empty field.
	if _, ok, _ := ResolveDoc(project, story, model.DocPRD); ok {
		t.Error("empty field resolved")
	}

	// Inline content.
	story.PRD = "# inline"
	content, ok, err := ResolveDoc(project, story, model.DocPRD)
	if err != nil || !ok || content != "# inline" {
		t.Errorf("inline resolve = (%q, %v, %v)", content, ok, err)
	}

	// Path value with file present.
	relPath, _ := WriteDoc(project, story, "prd.md", "# from file")
	story.PRD = relPath
	content, ok, err = ResolveDoc(project, story, model.DocPRD)
	if err != nil || !ok || content != "# from file" {
		t.Errorf("file resolve = (%q, %v, %v)", content, ok, err)
	}

	// Path value with file missing.
	story.TechnicalDesign = "docs/s1-add-login-endpoint/technical_design.md"
	if _, ok, _ := ResolveDoc(project, story, model.DocTechnicalDesign); ok {
		t.Error("missing file resolved")
	}
}

// --- Branch naming ---

func TestBranchName(t *testing.T) {
	if got := BranchName("s1", 3); got != "opd/story-s1-r3" {
		t.Errorf("BranchName = %q", got)
	}
}

// --- Source scan ---

func TestScanSource(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "go.mod"), "module example.test/demo\n")
	mustWrite(t, filepath.Join(root, "main.go"), "package main\n\nfunc main() {}\n")
	mustWrite(t, filepath.Join(root, "node_modules", "dep", "index.js"), "ignored")
	mustWrite(t, filepath.Join(root, ".git", "HEAD"), "ignored")

	out := ScanSource(root)
	if !strings.Contains(out, "go.mod") {
		t.Error("key file missing from scan")
	}
	if !strings.Contains(out, "module example.test/demo") {
		t.Error("key file snippet missing")
	}
	if strings.Contains(out, "node_modules") {
		t.Error("skip dir leaked into scan")
	}
	if len(out) > scanTotalChars+100 {
		t.Errorf("scan length = %d, over budget", len(out))
	}
}

func TestScanSource_TotalCap(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 40; i++ {
		name := filepath.Join(root, "dir"+strings.Repeat("x", i%7), "README.md")
		mustWrite(t, name, strings.Repeat("lorem ipsum dolor\n", 40))
	}
	out := ScanSource(root)
	if len(out) > scanTotalChars+100 {
		t.Errorf("scan length = %d, want bounded", len(out))
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
