// Package notes reads the operator message shown on the status page and
// tails the node's log file.
package notes

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// NoMessage is shown when the message file does not exist.
const NoMessage = "No message found."

const maxTailLines = 1000

var md = goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough))

// Message is the operator note in raw and rendered form.
type Message struct {
	Text string        `json:"text"`
	HTML template.HTML `json:"html"`
}

// ReadMessage renders the Markdown file at path. An empty path or a
// missing file yields NoMessage. Raw HTML inside the file is not rendered.
func ReadMessage(path string) (Message, error) {
	if path == "" {
		return plain(NoMessage), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return plain(NoMessage), nil
	}
	if err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}

	var buf bytes.Buffer
	if err := md.Convert(data, &buf); err != nil {
		return Message{}, fmt.Errorf("render message: %w", err)
	}
	return Message{
		Text: strings.TrimSpace(string(data)),
		// goldmark escapes raw HTML unless html.WithUnsafe is set.
		HTML: template.HTML(buf.String()),
	}, nil
}

func plain(text string) Message {
	return Message{Text: text, HTML: template.HTML(template.HTMLEscapeString(text))}
}

// Tail returns the last n lines of the file at path, oldest first.
func Tail(path string, n int) ([]string, error) {
	if n < 1 {
		return []string{}, nil
	}
	if n > maxTailLines {
		n = maxTailLines
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	return tail(f, n)
}

func tail(r io.Reader, n int) ([]string, error) {
	ring := make([]string, n)
	count := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		ring[count%n] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	if count < n {
		return append([]string{}, ring[:count]...), nil
	}
	out := make([]string, 0, n)
	start := count % n
	out = append(out, ring[start:]...)
	return append(out, ring[:start]...), nil
}
