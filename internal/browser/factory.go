package browser

import (
	"context"

	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/logging"
)

// PlaywrightFactory returns a factory launching Firefox with opts. The
// headless argument overrides opts.Headless.
func PlaywrightFactory(opts PlaywrightOptions, logger *logging.Logger) interfaces.DriverFactory {
	return func(ctx context.Context, headless bool) (interfaces.Driver, error) {
		o := opts
		o.Headless = headless
		return Launch(ctx, o, logger)
	}
}

// HTTPFactory returns a factory creating HTTP drivers. There is no window
// to show, so headless is ignored.
func HTTPFactory(opts HTTPOptions, logger *logging.Logger) interfaces.DriverFactory {
	return func(ctx context.Context, _ bool) (interfaces.Driver, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewHTTP(opts, logger)
	}
}
