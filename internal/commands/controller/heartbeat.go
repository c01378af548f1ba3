// Copyright 2025 Tom Barlow
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

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tombee/daemonkit/internal/log"
	pkgerrors "github.com/tombee/daemonkit/pkg/errors"
)

const (
	// heartbeatInterval is the period of the heartbeat log record.
	heartbeatInterval = 10 * time.Second

	healthPath  = "/healthz"
	metricsPath = "/metrics"

	serverShutdownTimeout = 2 * time.Second
)

// heartbeat is the payload daemonctl runs: it logs a record every
// interval and, when addr is set, serves /metrics and /healthz.
type heartbeat struct {
	interval time.Duration
	addr     string
	metrics  http.Handler

	// logger is resolved after the controller is built.
	logger func() *slog.Logger
}

// Run implements daemon.Runner.
func (h *heartbeat) Run(ctx context.Context) error {
	logger := log.WithComponent(h.logger(), "heartbeat")

	var serveErr <-chan error
	if h.addr != "" {
		ln, err := net.Listen("tcp", h.addr)
		if err != nil {
			return pkgerrors.Wrapf(err, "listening on %s", h.addr)
		}
		srv := &http.Server{Handler: h.mux(), ReadHeaderTimeout: 5 * time.Second}
		errc := make(chan error, 1)
		go func() { errc <- srv.Serve(ln) }()
		serveErr = errc
		logger.Info("metrics listener started", log.String("addr", ln.Addr().String()))

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics listener shutdown failed", log.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	beats := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("heartbeat stopped", log.Int("beats", beats))
			return ctx.Err()
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return pkgerrors.Wrap(err, "metrics listener failed")
		case <-ticker.C:
			beats++
			logger.Info("heartbeat", log.Int("beats", beats))
		}
	}
}

func (h *heartbeat) mux() *http.ServeMux {
	mux := http.NewServeMux()
	if h.metrics != nil {
		mux.Handle(metricsPath, h.metrics)
	}
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}
