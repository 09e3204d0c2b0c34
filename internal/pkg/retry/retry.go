package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

type Policy struct {
	Attempts     int           `env:"ATTEMPTS" envDefault:"5"`
	Base         time.Duration `env:"BASE_DELAY" envDefault:"500ms"`
	Max          time.Duration `env:"MAX_DELAY" envDefault:"5s"`
	JitterFactor float64       `env:"JITTER" envDefault:"0.2"`
}

// Do calls fn until it succeeds, the attempts are exhausted or ctx is done.
// Delays double from Base up to Max, with +/- JitterFactor randomization.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	d := p.Base
	var err error

	for i := 0; i < p.Attempts; i++ {
		if err = fn(i + 1); err == nil {
			return nil
		}
		if i == p.Attempts-1 {
			break
		}

		delay := d
		if p.JitterFactor > 0 {
			jitter := 1 + p.JitterFactor*(2*rand.Float64()-1)
			delay = time.Duration(float64(delay) * jitter)
		}
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		d *= 2
		if p.Max > 0 && d > p.Max {
			d = p.Max
		}
	}
	return err
}
