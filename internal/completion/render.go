package completion

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

func isTerminal(out io.Writer) (int, bool) {
	file, ok := out.(*os.File)
	if !ok || file == nil || !term.IsTerminal(int(file.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		width = 100
	}
	return width, true
}

// RenderMarkdown styles markdown for a terminal and writes it unchanged
// anywhere else.
func RenderMarkdown(out io.Writer, markdown string) error {
	width, tty := isTerminal(out)
	if !tty {
		_, err := io.WriteString(out, markdown)
		return err
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		_, err := io.WriteString(out, markdown)
		return err
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		_, err := io.WriteString(out, markdown)
		return err
	}
	_, err = io.WriteString(out, rendered)
	return err
}
