// one-connect - ONE Connection Substrate
// Copyright (C) 2025 refinio
//
// This file is part of one-connect.
//
// one-connect is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// one-connect is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with one-connect. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/refinio/one-connect/broker"
	"github.com/refinio/one-connect/internal/logger"
	"github.com/refinio/one-connect/internal/metrics"
)

var (
	flagHost           string
	flagPort           int
	flagPingInterval   int
	flagSpareQueueSize int
	flagLog            bool
	flagDebug          bool
	flagMetrics        bool
	flagMetricsAddr    string
	flagEnvFile        string
)

var rootCmd = &cobra.Command{
	Use:   "communication-server",
	Short: "Rendezvous broker for the ONE connection substrate",
	Long: `communication-server runs the rendezvous broker that pairs dialers with
registered listeners by public key, splicing their sockets together once a
dialer's handshake frame arrives for a listener it is currently holding.`,
	RunE: runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVar(&flagHost, "host", "localhost", "address to listen on")
	rootCmd.Flags().IntVar(&flagPort, "port", 8000, "port to listen on")
	rootCmd.Flags().IntVar(&flagPingInterval, "ping-interval", 25000, "keep-alive ping period for parked listeners, in milliseconds")
	rootCmd.Flags().IntVar(&flagSpareQueueSize, "spare-queue-size", broker.DefaultSpareQueueSize, "maximum parked sockets held per public key")
	rootCmd.Flags().BoolVar(&flagLog, "log", false, "enable request logging")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug-level logging")
	rootCmd.Flags().BoolVar(&flagMetrics, "metrics", false, "serve Prometheus metrics alongside the broker")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", ":9100", "address for the Prometheus metrics endpoint, when --metrics is set")
	rootCmd.Flags().StringVar(&flagEnvFile, "env-file", "", "optional .env file to load before reading flags")
}

func runServer(cmd *cobra.Command, args []string) error {
	if flagEnvFile != "" {
		if err := godotenv.Load(flagEnvFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	level := logger.InfoLevel
	if flagDebug {
		level = logger.DebugLevel
	}
	log := logger.NewLogger(os.Stdout, level)

	b := broker.New(broker.Config{
		SpareQueueSize: flagSpareQueueSize,
		PingInterval:   time.Duration(flagPingInterval) * time.Millisecond,
		Log:            log,
	})

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if flagLog {
			log.Info("connection", logger.String("remote", r.RemoteAddr))
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", logger.Error(err))
			return
		}
		b.HandleConnection(ws)
	})

	if flagMetrics {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", metrics.Handler())
			log.Info("metrics endpoint listening", logger.String("addr", flagMetricsAddr))
			if err := http.ListenAndServe(flagMetricsAddr, metricsMux); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", flagHost, flagPort)
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info("broker listening", logger.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("broker stopped: %w", err)
		}
	case <-sigCh:
		log.Info("shutting down")
		_ = server.Close()
	}
	return nil
}
