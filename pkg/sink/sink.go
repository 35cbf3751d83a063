// Package sink records decisions to disk as they are produced.
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// AnswersHeader is the first line of an answers file.
const AnswersHeader = "identity,is_anomaly"

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("sink is closed")

// target is an append-only file flushed after every line.
type target struct {
	file *os.File
	w    *bufio.Writer
}

func openTarget(path string) (*target, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &target{file: f, w: bufio.NewWriter(f)}, nil
}

func (t *target) writeLine(b []byte) error {
	if _, err := t.w.Write(b); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *target) close() error {
	return errors.Join(t.w.Flush(), t.file.Close())
}

// Sink writes confirmed anomalies to one file and, optionally, every answer to
// a second file. Each line is flushed as soon as it is recorded, so a run that
// is killed leaves every completed record on disk.
type Sink struct {
	anomalies *target
	answers   *target
	closed    bool
	buf       []byte
}

// New opens the anomalies file and, when answersPath is not empty, the answers
// file with its header. Both files are truncated. If anything fails, whatever
// was opened is closed again and the error is returned.
func New(anomaliesPath, answersPath string) (*Sink, error) {
	anomalies, err := openTarget(anomaliesPath)
	if err != nil {
		return nil, fmt.Errorf("open anomalies: %w", err)
	}
	s := &Sink{anomalies: anomalies}

	if answersPath != "" {
		answers, err := openTarget(answersPath)
		if err != nil {
			_ = anomalies.close()
			return nil, fmt.Errorf("open answers: %w", err)
		}
		s.answers = answers

		if err := answers.writeLine([]byte(AnswersHeader)); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("write answers header: %w", err)
		}
	}

	return s, nil
}

// Record appends id to the anomalies file when decision is true, and appends
// the decision to the answers file when there is one.
func (s *Sink) Record(id uint64, decision bool) error {
	if s.closed {
		return ErrClosed
	}

	if decision {
		s.buf = strconv.AppendUint(s.buf[:0], id, 10)
		if err := s.anomalies.writeLine(s.buf); err != nil {
			return fmt.Errorf("write anomaly %d: %w", id, err)
		}
	}

	if s.answers != nil {
		s.buf = strconv.AppendUint(s.buf[:0], id, 10)
		s.buf = append(s.buf, ',')
		if decision {
			s.buf = append(s.buf, '1')
		} else {
			s.buf = append(s.buf, '0')
		}
		if err := s.answers.writeLine(s.buf); err != nil {
			return fmt.Errorf("write answer %d: %w", id, err)
		}
	}

	return nil
}

// Close closes both files. It is safe to call more than once.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.anomalies != nil {
		errs = append(errs, s.anomalies.close())
	}
	if s.answers != nil {
		errs = append(errs, s.answers.close())
	}
	return errors.Join(errs...)
}
