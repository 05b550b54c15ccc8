package host

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Component renders the host with args as a templ component, so a loom
// template can be embedded in a templ page.
func (h *Host) Component(args ...interface{}) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		out, err := h.Run(ctx, args...)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}
