package gitoutput

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestLsFilesReader(t *testing.T) {
	input := "100644 5b999efa470b056e329b4c23a73904e0794bdc2f 0\tREADME.md\x00" +
		"100755 e69de29bb2d1d6434b8b29ae775ad8c2e48c5391 0\tscripts/run.sh\x00" +
		"120000 33dbaf21275ca2a5f460249d941cbc27d5da3121 0\tname with spaces\x00"

	records, err := NewLSFilesReader(strings.NewReader(input)).ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, 3, len(records))

	first := LsFilesEntry(records[0])
	assert.Equal(t, "100644", first.GetField(Mode))
	assert.Equal(t, "5b999efa470b056e329b4c23a73904e0794bdc2f", first.GetField(Object))
	assert.Equal(t, "0", first.GetField(Stage))
	assert.Equal(t, "README.md", first.GetField(Path))

	assert.Equal(t, "name with spaces", LsFilesEntry(records[2]).GetField(Path))
}

func TestLsFilesReaderHandlesNewlineInPath(t *testing.T) {
	input := "100644 5b999efa470b056e329b4c23a73904e0794bdc2f 0\tweird\nname.txt\x00"
	records, err := NewLSFilesReader(strings.NewReader(input)).ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, "weird\nname.txt", LsFilesEntry(records[0]).GetField(Path))
}

func TestLsFilesReaderEmptyInput(t *testing.T) {
	records, err := NewLSFilesReader(strings.NewReader("")).ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, 0, len(records))
}

func TestLsFilesReaderRejectsCorruptRecords(t *testing.T) {
	cases := map[string]string{
		"bad mode":        "10064x 5b999efa470b056e329b4c23a73904e0794bdc2f 0\ta\x00",
		"bad object":      "100644 nothex 0\ta\x00",
		"bad stage":       "100644 5b999efa470b056e329b4c23a73904e0794bdc2f 9\ta\x00",
		"empty path":      "100644 5b999efa470b056e329b4c23a73904e0794bdc2f 0\t\x00",
		"truncated":       "100644 5b999efa470b056e329b4c23a73904e0794bdc2f 0\ta",
		"missing columns": "100644\x00",
	}
	for name, input := range cases {
		_, err := NewLSFilesReader(strings.NewReader(input)).ReadAll()
		assert.Assert(t, err != nil, "case %q should fail", name)
	}
}

func TestStatusReader(t *testing.T) {
	input := "M  staged.go\x00" +
		" M unstaged.go\x00" +
		"?? untracked.go\x00" +
		"MM both.go\x00"

	records, err := NewStatusReader(strings.NewReader(input)).ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, 4, len(records))

	first := StatusEntry(records[0])
	assert.Equal(t, "M", first.GetField(StatusX))
	assert.Equal(t, " ", first.GetField(StatusY))
	assert.Equal(t, "staged.go", first.GetField(Path))

	untracked := StatusEntry(records[2])
	assert.Equal(t, "?", untracked.GetField(StatusX))
	assert.Equal(t, "?", untracked.GetField(StatusY))
}

func TestStatusReaderConsumesRenameOrigin(t *testing.T) {
	// A rename carries the new path in the record and the original path
	// as a trailing NUL token; the original is dropped.
	input := "R  new-name.go\x00old-name.go\x00M  other.go\x00"

	records, err := NewStatusReader(strings.NewReader(input)).ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, 2, len(records))
	assert.Equal(t, "new-name.go", StatusEntry(records[0]).GetField(Path))
	assert.Equal(t, "other.go", StatusEntry(records[1]).GetField(Path))
}

func TestStatusReaderRejectsCorruptRecords(t *testing.T) {
	cases := map[string]string{
		"unknown code":    "ZZ file.go\x00",
		"missing space":   "MMfile.go\x00",
		"too short":       "M\x00",
		"rename no extra": "R  new-name.go\x00",
	}
	for name, input := range cases {
		_, err := NewStatusReader(strings.NewReader(input)).ReadAll()
		assert.Assert(t, err != nil, "case %q should fail", name)
	}
}

func TestGetFieldPanicsOnWrongShape(t *testing.T) {
	defer func() {
		assert.Assert(t, recover() != nil, "expected panic")
	}()
	StatusEntry{"M", " ", "a.go"}.GetField(Mode)
}
