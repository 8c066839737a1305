package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/models"
)

// maxLineSize bounds a single transcript line. Tool results with large file
// contents can run into the megabytes.
const maxLineSize = 16 * 1024 * 1024

// errLineTooLong marks a complete line over maxLineSize; it is skipped like
// a malformed line rather than buffered
var errLineTooLong = errors.New("transcript line exceeds size limit")

// Reader reads an append-only, newline-delimited JSON transcript file.
// It is stateless: incremental reads take and return an explicit byte
// offset, so multiple independent readers and watches can coexist safely.
type Reader struct {
	path string
}

// NewReader creates a reader over the transcript file at path. The file
// need not exist yet.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Path returns the transcript file path
func (r *Reader) Path() string {
	return r.path
}

// ReadAll reads every record in the file. A missing file yields no records
// and no error; malformed lines are skipped.
func (r *Reader) ReadAll() ([]models.TranscriptRecord, error) {
	records, _, err := r.ReadIncremental(0)
	return records, err
}

// ReadIncremental reads records appended after fromOffset and returns them
// with the new offset to resume from. The offset only advances past complete
// lines, so a partially written trailing line is re-read on the next call.
// A missing file returns the offset unchanged.
func (r *Reader) ReadIncremental(fromOffset int64) ([]models.TranscriptRecord, int64, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fromOffset, nil
		}
		return nil, fromOffset, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fromOffset, err
	}

	// The log is append-only by contract, but reset defensively if the file
	// shrank below our cursor (e.g. the session was recreated in place).
	if info.Size() < fromOffset {
		logger.Warnf("Transcript %s shrank below offset %d, re-reading from start", r.path, fromOffset)
		fromOffset = 0
	}

	if fromOffset > 0 {
		if _, err := file.Seek(fromOffset, io.SeekStart); err != nil {
			return nil, fromOffset, err
		}
	}

	var records []models.TranscriptRecord
	offset := fromOffset
	skipped := 0

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, consumed, err := readLine(reader)
		if err == io.EOF {
			// A trailing fragment without a newline is still being written;
			// leave the offset before it so the next read picks it up whole.
			break
		}
		if err == errLineTooLong {
			// Advance past the oversized line so the cursor keeps moving
			offset += consumed
			skipped++
			continue
		}
		if err != nil {
			return records, offset, err
		}

		offset += consumed

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		var record models.TranscriptRecord
		if err := json.Unmarshal(trimmed, &record); err != nil {
			skipped++
			continue
		}
		records = append(records, record)
	}

	if skipped > 0 {
		logger.Debugf("Skipped %d malformed transcript lines in %s", skipped, r.path)
	}

	return records, offset, nil
}

// readLine reads one newline-terminated line and returns it with the number
// of bytes consumed including the delimiter. io.EOF means no complete line
// remains. A line over maxLineSize is consumed through its newline but
// returned as errLineTooLong, so the caller can skip it and move on.
func readLine(reader *bufio.Reader) ([]byte, int64, error) {
	var line []byte
	var consumed int64
	tooLong := false
	for {
		chunk, err := reader.ReadSlice('\n')
		consumed += int64(len(chunk))
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxLineSize {
				tooLong = true
				line = nil
			}
		}
		if err == nil {
			if tooLong {
				return nil, consumed, errLineTooLong
			}
			return line, consumed, nil
		}
		if err != bufio.ErrBufferFull {
			// EOF mid-line: the writer hasn't finished this record
			return nil, consumed, io.EOF
		}
	}
}
