package browser

import (
	"context"

	"github.com/rs/zerolog/log"
)

// WithPage acquires a page, runs fn and closes the page on every exit path,
// including a panic inside fn.
func WithPage(ctx context.Context, d Driver, fn func(Page) error) error {
	p, err := d.NewPage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("Page close failed")
		}
	}()
	return fn(p)
}
