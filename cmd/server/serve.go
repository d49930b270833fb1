package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// serve runs srv until ctx is done or the listener fails, then shuts it down.
// A listener failure is returned so deferred cleanup in main still runs.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown was not clean: %w", err)
	}
	return nil
}
