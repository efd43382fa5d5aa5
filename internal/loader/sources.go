package loader

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/livinlefevreloca/prewarm/internal/clock"
)

// HTTPLoader fetches url with GET and drains the body, counting its bytes
func HTTPLoader(client *http.Client, url, userAgent string) Loader {
	return func(ctx context.Context) (Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Result{}, fmt.Errorf("loader: build request: %w", err)
		}
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}

		resp, err := client.Do(req)
		if err != nil {
			return Result{}, fmt.Errorf("loader: GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		n, err := io.Copy(io.Discard, resp.Body)
		res := Result{Bytes: n, Status: strconv.Itoa(resp.StatusCode)}
		if err != nil {
			return res, fmt.Errorf("loader: read %s: %w", url, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return res, &StatusError{URL: url, Code: resp.StatusCode}
		}
		return res, nil
	}
}

// SyntheticLoader waits for delay and then sums size random samples,
// standing in for a heavy component that has to fetch and crunch data.
func SyntheticLoader(clk clock.Clock, delay time.Duration, size int) Loader {
	return func(ctx context.Context) (Result, error) {
		done := make(chan struct{})
		timer := clk.AfterFunc(delay, func() { close(done) })

		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-done:
		}

		sum := 0.0
		for i := 0; i < size; i++ {
			sum += rand.Float64() * 1000
		}

		return Result{
			Bytes:  int64(size) * 8,
			Status: "ok",
			Value:  sum,
		}, nil
	}
}
