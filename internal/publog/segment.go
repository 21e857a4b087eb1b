package publog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

var (
	submissionStart = regexp.MustCompile(`^.* submission (\d*)$`)
	submissionEnd   = regexp.MustCompile(`^.*Finished processing submission `)
)

// Segment splits a log into submission blocks in file order.
//
// Outside a block, lines are discarded until one matches the start marker.
// Inside, lines accumulate until the end marker closes the block. A block
// still open at EOF is dropped with a warning since it usually means the log
// was truncated.
func Segment(r io.Reader, logger *slog.Logger) ([]Block, error) {
	var (
		blocks []Block
		open   *Block
		text   strings.Builder
		lineNo int
		start  int
	)

	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read log line %d: %w", lineNo+1, err)
		}
		if raw == "" && err != nil {
			break
		}
		lineNo++
		line := strings.TrimRight(raw, "\r\n")

		if open == nil {
			if m := submissionStart.FindStringSubmatch(line); m != nil {
				open = &Block{SubmissionID: m[1]}
				start = lineNo
				text.Reset()
			}
		} else {
			text.WriteString(line)
			text.WriteByte('\n')
			if submissionEnd.MatchString(line) {
				open.Text = text.String()
				blocks = append(blocks, *open)
				open = nil
			}
		}

		if err != nil {
			break
		}
	}

	if open != nil {
		logger.Warn(
			"unterminated submission block dropped",
			"submission", open.SubmissionID,
			"start_line", start,
		)
	}

	return blocks, nil
}
