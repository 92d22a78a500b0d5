// Package gitoutput parses the NUL-delimited output of the git plumbing
// invocations the VCS adapter shells out to: `git ls-files -z` and
// `git status --porcelain=1 -z`. NUL framing is the only mode where
// arbitrary file names (embedded newlines, quotes, non-UTF-8 bytes) come
// through unmangled, so each reader consumes raw NUL-terminated tokens
// and validates the fixed-width fields git documents for its format.
package gitoutput

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// Field selects one column of a parsed entry. The same selectors work
// across entry shapes; each shape maps the selector onto its own layout.
type Field int

const (
	// Mode is the octal file mode column of an ls-files entry.
	Mode Field = iota
	// Object is the object hash column of an ls-files entry.
	Object
	// Stage is the merge-stage column of an ls-files entry.
	Stage
	// StatusX is the staged-state code of a status entry.
	StatusX
	// StatusY is the unstaged-state code of a status entry.
	StatusY
	// Path is the file path column of any entry shape.
	Path
)

// LsFilesEntry is one record of `git ls-files -z --stage` output:
// mode, object, stage, path.
type LsFilesEntry []string

// GetField returns the requested column. Asking for a column the shape
// does not carry is a programming error and panics.
func (e LsFilesEntry) GetField(f Field) string {
	switch f {
	case Mode:
		return e[0]
	case Object:
		return e[1]
	case Stage:
		return e[2]
	case Path:
		return e[3]
	default:
		panic("gitoutput: ls-files entries carry no such field")
	}
}

// StatusEntry is one record of `git status --porcelain=1 -z` output:
// staged code, unstaged code, path.
type StatusEntry []string

// GetField returns the requested column. Asking for a column the shape
// does not carry is a programming error and panics.
func (e StatusEntry) GetField(f Field) string {
	switch f {
	case StatusX:
		return e[0]
	case StatusY:
		return e[1]
	case Path:
		return e[2]
	default:
		panic("gitoutput: status entries carry no such field")
	}
}

// Reader incrementally parses one git output stream into records.
type Reader struct {
	in    *bufio.Reader
	parse func(*Reader) ([]string, error)
	entry int
}

// NewLSFilesReader parses `git ls-files -z --stage` output.
func NewLSFilesReader(r io.Reader) *Reader {
	return &Reader{in: bufio.NewReader(r), parse: (*Reader).readLsFiles}
}

// NewStatusReader parses `git status --porcelain=1 -z` output.
func NewStatusReader(r io.Reader) *Reader {
	return &Reader{in: bufio.NewReader(r), parse: (*Reader).readStatus}
}

// Read returns the next record, or io.EOF once the stream is exhausted.
func (r *Reader) Read() ([]string, error) {
	record, err := r.parse(r)
	if err == nil {
		r.entry++
	}
	return record, err
}

// ReadAll consumes the stream to the end and returns every record.
func (r *Reader) ReadAll() ([][]string, error) {
	var records [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}

// token reads up to the next NUL. io.EOF with no pending bytes means the
// stream ended cleanly on a record boundary.
func (r *Reader) token() (string, error) {
	raw, err := r.in.ReadString(0)
	if err == io.EOF {
		if raw == "" {
			return "", io.EOF
		}
		return "", r.corrupt("truncated record")
	}
	if err != nil {
		return "", err
	}
	return raw[:len(raw)-1], nil
}

// readLsFiles parses "<mode> <object> <stage>\t<path>" records.
func (r *Reader) readLsFiles() ([]string, error) {
	tok, err := r.token()
	if err != nil {
		return nil, err
	}

	rest := tok
	mode, rest, ok := cutByte(rest, ' ')
	if !ok || !isOctal(mode) {
		return nil, r.corrupt("malformed file mode")
	}
	object, rest, ok := cutByte(rest, ' ')
	if !ok || !isHex(object) {
		return nil, r.corrupt("malformed object name")
	}
	stage, path, ok := cutByte(rest, '\t')
	if !ok || len(stage) != 1 || stage[0] < '0' || stage[0] > '3' {
		return nil, r.corrupt("malformed stage")
	}
	if path == "" {
		return nil, r.corrupt("empty path")
	}
	return []string{mode, object, stage, path}, nil
}

// statusCodes are the states `git status --porcelain` documents for the
// X and Y columns.
const statusCodes = " MTADRCU?!"

// readStatus parses "XY <path>" records. Renames and copies carry the
// original path as a second NUL token, which is consumed and dropped:
// callers only care what the path is now.
func (r *Reader) readStatus() ([]string, error) {
	tok, err := r.token()
	if err != nil {
		return nil, err
	}

	if len(tok) < 4 || tok[2] != ' ' {
		return nil, r.corrupt("malformed status prefix")
	}
	x, y := tok[0:1], tok[1:2]
	if !validStatusCode(x[0]) || !validStatusCode(y[0]) {
		return nil, r.corrupt("unknown status code")
	}
	path := tok[3:]

	if x == "R" || x == "C" || y == "R" || y == "C" {
		if _, err := r.token(); err != nil {
			return nil, r.corrupt("rename without original path")
		}
	}
	return []string{x, y, path}, nil
}

func (r *Reader) corrupt(msg string) error {
	return errors.Errorf("gitoutput: entry %d: %s", r.entry, msg)
}

func cutByte(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func isOctal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '7' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func validStatusCode(c byte) bool {
	for i := 0; i < len(statusCodes); i++ {
		if statusCodes[i] == c {
			return true
		}
	}
	return false
}
