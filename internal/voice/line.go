package voice

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// LineTranscriber treats each non-blank line of its input as a recognised
// phrase. Partials are cumulative, joined by single spaces.
type LineTranscriber struct {
	r io.Reader
}

// NewLineTranscriber reads phrases from r.
func NewLineTranscriber(r io.Reader) *LineTranscriber {
	return &LineTranscriber{r: r}
}

// Transcribe implements Transcriber. A blocked read on r is abandoned, not
// interrupted, when ctx is cancelled.
func (t *LineTranscriber) Transcribe(ctx context.Context, partial func(text string)) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(t.r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	var text []string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return ctx.Err()
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			text = append(text, line)
			partial(strings.Join(text, " "))
		}
	}
}
