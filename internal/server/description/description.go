// Package description renders long descriptions of releases into HTML.
package description

import (
	"fmt"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// Renderer turns markdown into HTML. Raw HTML in the input is dropped and
// links with schemes other than http, https, ftp and mailto are rendered
// as plain text, so uploaded descriptions cannot carry script.
type Renderer struct {
	opts []blackfriday.Option
}

func NewRenderer() *Renderer {
	html := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags | blackfriday.SkipHTML | blackfriday.Safelink,
	})
	return &Renderer{
		opts: []blackfriday.Option{
			blackfriday.WithExtensions(blackfriday.CommonExtensions),
			blackfriday.WithRenderer(html),
		},
	}
}

// Render never panics: a panic inside the markdown processor comes back as
// an error.
func (r *Renderer) Render(raw string) (html []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			html = nil
			err = fmt.Errorf("render description: %v", p)
		}
	}()

	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("render description: empty input")
	}
	// blackfriday expects unix line endings.
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	return blackfriday.Run([]byte(raw), r.opts...), nil
}
