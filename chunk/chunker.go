// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunk

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/ragify/core"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultChunkSize is the target window size in characters.
	DefaultChunkSize = 500

	// DefaultChunkOverlap is the number of characters shared by consecutive windows.
	DefaultChunkOverlap = 50

	// PageBreak separates pages in extracted PDF text.
	PageBreak = "\f"
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// pageSplitter turns a document into its raw units before windowing.
type pageSplitter func(text string) []string

var splitters = map[core.Format]pageSplitter{
	core.FormatPDF:      splitPages,
	core.FormatDOCX:     wholeDocument,
	core.FormatText:     wholeDocument,
	core.FormatMarkdown: wholeDocument,
}

// Chunker splits document text into overlapping windows tagged with page numbers.
// It is stateless and safe for concurrent use.
type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
	logger     *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithChunkSize sets the target window size.
// Default is DefaultChunkSize.
func WithChunkSize(size int) Option {
	return func(c *Chunker) error {
		if size < 1 {
			return ErrInvalidChunkSize
		}
		c.chunkSize = size
		return nil
	}
}

// WithOverlap sets the overlap between consecutive windows.
// Default is DefaultChunkOverlap.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) error {
		if overlap < 0 {
			return ErrInvalidOverlap
		}
		c.overlap = overlap
		return nil
	}
}

// WithSeparators overrides the boundary preference order.
func WithSeparators(separators ...string) Option {
	return func(c *Chunker) error {
		c.separators = separators
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a Chunker.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.overlap >= c.chunkSize {
		return nil, ErrInvalidOverlap
	}
	c.logger = c.logger.With("component", "chunker")
	return c, nil
}

// Supports reports whether format has a registered splitter.
func Supports(format core.Format) bool {
	_, ok := splitters[format]
	return ok
}

// Split returns the cleaned chunks of text in document order.
// PDF text yields one raw unit per page (pages separated by form feeds);
// other formats yield a single unit on page 1.
func (c *Chunker) Split(text string, format core.Format) ([]core.ChunkText, error) {
	pages, ok := splitters[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, format)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.chunkSize),
		textsplitter.WithChunkOverlap(c.overlap),
		textsplitter.WithSeparators(c.separators),
	)

	var chunks []core.ChunkText
	for i, page := range pages(text) {
		if strings.TrimSpace(page) == "" {
			continue
		}
		windows, err := splitter.SplitText(page)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", i+1, err)
		}
		for _, w := range windows {
			cleaned := Clean(w)
			if cleaned == "" {
				continue
			}
			chunks = append(chunks, core.ChunkText{Text: cleaned, PageNumber: i + 1})
		}
	}

	if len(chunks) == 0 {
		return nil, core.ErrEmptyDocument
	}
	c.logger.Debug("split document", "format", format, "chunks", len(chunks))
	return chunks, nil
}

// Clean replaces newlines, tabs and quote characters with spaces and trims the result.
func Clean(s string) string {
	return strings.TrimSpace(cleaner.Replace(s))
}

var cleaner = strings.NewReplacer(
	"\r", " ",
	"\n", " ",
	"\t", " ",
	`"`, " ",
	"'", " ",
)

func splitPages(text string) []string {
	return strings.Split(text, PageBreak)
}

func wholeDocument(text string) []string {
	return []string{text}
}
