package diff

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChangedLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		patch string
		want  LineSet
	}{
		{
			name:  "empty patch",
			patch: "",
			want:  nil,
		},
		{
			name: "single added line between context",
			patch: `@@ -1,3 +1,4 @@
 int a;
+int added;
 int b;
 int c;`,
			want: LineSet{2},
		},
		{
			name: "deletions only",
			patch: `@@ -3,3 +3,1 @@
-gone();
-also_gone();
 kept();`,
			want: nil,
		},
		{
			name: "replacement keeps new numbering",
			patch: `@@ -10,3 +10,3 @@
 a
-b
+B
 c`,
			want: LineSet{11},
		},
		{
			name: "multiple hunks",
			patch: `@@ -1,2 +1,3 @@
 x
+y
 z
@@ -20,2 +21,3 @@
 p
+q
+r`,
			want: LineSet{2, 22, 23},
		},
		{
			name: "header without counts",
			patch: `@@ -5 +5 @@
-old
+new`,
			want: LineSet{5},
		},
		{
			name: "content before first header is ignored",
			patch: `+stray
 context
@@ -1,1 +1,2 @@
 a
+b`,
			want: LineSet{2},
		},
		{
			name: "no newline marker does not advance",
			patch: `@@ -1,2 +1,2 @@
 a
-b
\ No newline at end of file
+c
\ No newline at end of file`,
			want: LineSet{2},
		},
		{
			name: "added line starting with plus signs",
			patch: `@@ -1,1 +1,2 @@
 int i = 0;
+++i;`,
			want: LineSet{2},
		},
		{
			name: "removed and added lines that look like file headers",
			patch: `@@ -1,3 +1,4 @@
 ctx
--- old decrement
+++ new increment
+added
 ctx`,
			want: LineSet{2, 3},
		},
		{
			name: "lines past the hunk counts are ignored",
			patch: `@@ -1,1 +1,2 @@
 a
+b
+not part of the hunk`,
			want: LineSet{2},
		},
		{
			name: "out of order hunks are sorted",
			patch: `@@ -40,1 +40,2 @@
 a
+b
@@ -1,1 +1,2 @@
 c
+d`,
			want: LineSet{2, 41},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, malformed := ParseChangedLines(tt.patch)
			assert.Empty(t, malformed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChangedLines_malformedHeaderSkipsHunk(t *testing.T) {
	t.Parallel()
	patch := `@@ -1,1 +1,2 @@
 a
+b
@@ garbage @@
+not counted
 also ignored
@@ -30,1 +30,2 @@
 c
+d`

	got, malformed := ParseChangedLines(patch)

	assert.Equal(t, LineSet{2, 31}, got)
	require.Len(t, malformed, 1)
	assert.Equal(t, 4, malformed[0].LineNo)
	assert.Equal(t, "@@ garbage @@", malformed[0].Header)
	assert.Contains(t, malformed[0].Error(), "malformed hunk header")
}

func TestParseChangedLines_multiFilePatch(t *testing.T) {
	t.Parallel()
	patch := `diff --git a/a.py b/a.py
--- a/a.py
+++ b/a.py
@@ -1,1 +1,2 @@
 x
+y
diff --git a/b.py b/b.py
--- a/b.py
+++ b/b.py
@@ -7,1 +7,2 @@
 p
+q`

	got, malformed := ParseChangedLines(patch)

	assert.Empty(t, malformed)
	assert.Equal(t, LineSet{2, 8}, got)
}

// Every recorded line must fall inside its hunk's post-change range.
func TestParseChangedLines_withinHunkBounds(t *testing.T) {
	t.Parallel()
	patch := `@@ -1,4 +1,6 @@
 one
+two
+three
 four
-five
+FIVE
 six
@@ -50,3 +52,4 @@
 a
-b
+B
+C
 d`

	got, _ := ParseChangedLines(patch)
	hunks := Hunks(patch)
	require.Len(t, hunks, 2)

	for _, line := range got {
		inside := 0
		for _, h := range hunks {
			if line >= h.NewStart && line <= h.NewStart+h.NewCount-1 {
				inside++
			}
		}
		assert.Equal(t, 1, inside, "line %d outside every hunk", line)
	}
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}

func TestChangedLines_logsMalformedHunks(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	logger := zerolog.New(&buf)

	got := ChangedLines("@@ nope @@\n+x", logger)

	assert.Empty(t, got)
	assert.Contains(t, buf.String(), "Skipping malformed hunk")
	assert.Contains(t, buf.String(), `"patch_line":1`)
}

func TestHunks(t *testing.T) {
	t.Parallel()
	hunks := Hunks("@@ -3 +4,2 @@\n a\n@@ bad\n@@ -10,0 +12,5 @@ func f() {")
	assert.Equal(t, []Hunk{
		{OldStart: 3, OldCount: 1, NewStart: 4, NewCount: 2},
		{OldStart: 10, OldCount: 0, NewStart: 12, NewCount: 5},
	}, hunks)
}

func TestGetFileContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.py"), []byte("def f():\n    pass\n"), 0o644))

	got, err := GetFileContent(context.Background(), dir, "src/a.py", "HEAD", WorkingTree)
	require.NoError(t, err)
	assert.Equal(t, "def f():\n    pass\n", string(got))

	_, err = GetFileContent(context.Background(), dir, "../etc/passwd", "HEAD", WorkingTree)
	assert.Error(t, err)

	_, err = GetFileContent(context.Background(), dir, "src/missing.py", "HEAD", WorkingTree)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestGetFileContent_commitFirst(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitRun(t, dir, "init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("committed\n"), 0o644))
	gitRun(t, dir, "add", "a.py")
	gitRun(t, dir, "commit", "-q", "-m", "init")

	// The checkout drifts from the commit, as on a merge ref.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("merged\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.py"), []byte("untracked\n"), 0o644))

	got, err := GetFileContent(context.Background(), dir, "a.py", "HEAD", Commit)
	require.NoError(t, err)
	assert.Equal(t, "committed\n", string(got))

	got, err = GetFileContent(context.Background(), dir, "a.py", "HEAD", WorkingTree)
	require.NoError(t, err)
	assert.Equal(t, "merged\n", string(got))

	got, err = GetFileContent(context.Background(), dir, "new.py", "HEAD", Commit)
	require.NoError(t, err)
	assert.Equal(t, "untracked\n", string(got))
}
