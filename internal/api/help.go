package api

import (
	_ "embed"
	"net/http"
	"sync"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

//go:embed help.md
var helpMarkdown []byte

var (
	helpOnce sync.Once
	helpHTML []byte
)

// renderHelp converts the help page to a standalone HTML document.
func renderHelp() []byte {
	helpOnce.Do(func() {
		p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
		r := html.NewRenderer(html.RendererOptions{
			Title: "CARTAR help",
			Flags: html.CommonFlags | html.HrefTargetBlank | html.CompletePage,
		})
		helpHTML = markdown.ToHTML(helpMarkdown, p, r)
	})
	return helpHTML
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write(helpMarkdown)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(renderHelp())
}
