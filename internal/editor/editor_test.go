package editor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blockwait/toolhost/internal/toolerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fileContent(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestViewWholeFile(t *testing.T) {
	e := New()
	path := writeTemp(t, "one\ntwo\nthree")

	snippet, err := e.View(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snippet.Start)
	assert.Equal(t, []string{"one", "two", "three"}, snippet.Lines)
}

func TestViewIsRepeatable(t *testing.T) {
	e := New()
	path := writeTemp(t, "a\nb\nc\n")

	first, err := e.View(path, nil)
	require.NoError(t, err)
	second, err := e.View(path, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestViewRange(t *testing.T) {
	e := New()
	path := writeTemp(t, "l1\nl2\nl3\nl4\nl5")

	snippet, err := e.View(path, &Range{Start: 2, End: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, snippet.Start)
	assert.Equal(t, []string{"l2", "l3", "l4"}, snippet.Lines)

	snippet, err = e.View(path, &Range{Start: 3, End: -1})
	require.NoError(t, err)
	assert.Equal(t, 3, snippet.Start)
	assert.Equal(t, []string{"l3", "l4", "l5"}, snippet.Lines)
}

func TestViewRangeValidation(t *testing.T) {
	e := New()
	path := writeTemp(t, "l1\nl2\nl3")

	cases := []struct {
		name string
		r    Range
	}{
		{"start below one", Range{Start: 0, End: 2}},
		{"start past eof", Range{Start: 9, End: -1}},
		{"end before start", Range{Start: 2, End: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.View(path, &tc.r)
			var conflict *toolerr.EditConflict
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, toolerr.InvalidRange, conflict.Kind)
		})
	}
}

func TestViewDirectory(t *testing.T) {
	e := New()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	snippet, err := e.View(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snippet.Start)
	assert.Equal(t, []string{"alpha", "beta", "sub"}, snippet.Lines)
}

func TestViewRelativePathRejected(t *testing.T) {
	e := New()
	_, err := e.View("relative/path.txt", nil)
	var pathErr *toolerr.PathError
	assert.ErrorAs(t, err, &pathErr)
}

func TestCreateThenView(t *testing.T) {
	e := New()
	path := filepath.Join(t.TempDir(), "new.txt")
	text := "alpha\nbeta\ngamma"

	require.NoError(t, e.Create(path, text))

	snippet, err := e.View(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, snippet.Lines)
}

func TestCreateOverwritesAndRecordsHistory(t *testing.T) {
	e := New()
	path := writeTemp(t, "original")

	require.NoError(t, e.Create(path, "replacement"))
	assert.Equal(t, "replacement", fileContent(t, path))
	assert.Equal(t, 1, e.HistoryDepth(path))

	snippet, deleted, err := e.UndoEdit(path)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, []string{"original"}, snippet.Lines)
	assert.Equal(t, "original", fileContent(t, path))
}

func TestStrReplaceUnique(t *testing.T) {
	e := New()
	path := writeTemp(t, "aaa\nneedle\nbbb\n")

	snippet, err := e.StrReplace(path, "needle", "thread")
	require.NoError(t, err)
	assert.Equal(t, "aaa\nthread\nbbb\n", fileContent(t, path))
	assert.Contains(t, snippet.Lines, "thread")
}

func TestStrReplaceDeletesWhenNewEmpty(t *testing.T) {
	e := New()
	path := writeTemp(t, "keep-DROP-keep")

	_, err := e.StrReplace(path, "-DROP", "")
	require.NoError(t, err)
	assert.Equal(t, "keep-keep", fileContent(t, path))
}

func TestStrReplaceNoMatchLeavesFileUntouched(t *testing.T) {
	e := New()
	before := "nothing to see here\n"
	path := writeTemp(t, before)

	_, err := e.StrReplace(path, "missing-text", "x")
	var conflict *toolerr.EditConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, toolerr.NoMatch, conflict.Kind)
	assert.Equal(t, before, fileContent(t, path))
	assert.Equal(t, 0, e.HistoryDepth(path))
}

func TestStrReplaceAmbiguousLeavesFileUntouched(t *testing.T) {
	e := New()
	before := "dup\nmiddle\ndup\n"
	path := writeTemp(t, before)

	_, err := e.StrReplace(path, "dup", "x")
	var conflict *toolerr.EditConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, toolerr.AmbiguousMatch, conflict.Kind)
	assert.Equal(t, before, fileContent(t, path))
}

func TestInsert(t *testing.T) {
	e := New()
	path := writeTemp(t, "l1\nl2\nl3")

	snippet, err := e.Insert(path, 2, "inserted")
	require.NoError(t, err)
	assert.Equal(t, "l1\nl2\ninserted\nl3", fileContent(t, path))
	assert.Contains(t, snippet.Lines, "inserted")
}

func TestInsertAtTop(t *testing.T) {
	e := New()
	path := writeTemp(t, "l1\nl2")

	_, err := e.Insert(path, 0, "first")
	require.NoError(t, err)
	assert.Equal(t, "first\nl1\nl2", fileContent(t, path))
}

func TestInsertAtEnd(t *testing.T) {
	e := New()
	path := writeTemp(t, "l1\nl2")

	_, err := e.Insert(path, 2, "last")
	require.NoError(t, err)
	assert.Equal(t, "l1\nl2\nlast", fileContent(t, path))
}

func TestInsertRangeValidation(t *testing.T) {
	e := New()
	path := writeTemp(t, "l1\nl2")

	for _, line := range []int{-1, 3} {
		_, err := e.Insert(path, line, "x")
		var conflict *toolerr.EditConflict
		require.ErrorAs(t, err, &conflict, "line %d", line)
		assert.Equal(t, toolerr.InvalidRange, conflict.Kind)
	}
	assert.Equal(t, "l1\nl2", fileContent(t, path))
}

func TestUndoRestoresAcrossSequence(t *testing.T) {
	e := New()
	original := "start\nmiddle\nend\n"
	path := writeTemp(t, original)

	_, err := e.StrReplace(path, "middle", "center")
	require.NoError(t, err)
	_, err = e.Insert(path, 1, "inserted")
	require.NoError(t, err)
	require.NoError(t, e.Create(path, "rewritten"))
	require.Equal(t, 3, e.HistoryDepth(path))

	for i := 0; i < 3; i++ {
		_, deleted, err := e.UndoEdit(path)
		require.NoError(t, err)
		assert.False(t, deleted)
	}
	assert.Equal(t, original, fileContent(t, path))
	assert.Equal(t, 0, e.HistoryDepth(path))
}

func TestUndoDeletesCreatedFile(t *testing.T) {
	e := New()
	path := filepath.Join(t.TempDir(), "fresh.txt")

	require.NoError(t, e.Create(path, "content"))

	snippet, deleted, err := e.UndoEdit(path)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Nil(t, snippet)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUndoWithoutHistory(t *testing.T) {
	e := New()
	path := writeTemp(t, "content")

	_, _, err := e.UndoEdit(path)
	var conflict *toolerr.EditConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, toolerr.NoHistory, conflict.Kind)
}

func TestContextSnippetClamping(t *testing.T) {
	content := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10"

	snippet := contextSnippet(content, 1, 1)
	assert.Equal(t, 1, snippet.Start)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, snippet.Lines)

	snippet = contextSnippet(content, 10, 10)
	assert.Equal(t, 6, snippet.Start)
	assert.Equal(t, []string{"6", "7", "8", "9", "10"}, snippet.Lines)
}
