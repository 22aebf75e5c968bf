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
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
	"github.com/refinio/one-connect/identity"
	"github.com/refinio/one-connect/routes"
	"github.com/refinio/one-connect/routesgroup"
)

var (
	runSecretFile  string
	runMode        string
	runHost        string
	runPort        int
	runURL         string
	runRemoteHex   string
	runGroupName   string
	runCatchAll    bool
	runDropDups    bool
	runDumpPeriod  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single route inside a routes group and print its state",
	Long: `run loads a secret identity file, starts one route (a direct listener, a
broker registration, or an outgoing dial), feeds whatever connections it
produces through a routes-group manager, and periodically prints the
manager's debug dump until interrupted.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSecretFile, "secret-identity", "", "path to the *_secret.id.json file (required)")
	runCmd.Flags().StringVar(&runMode, "mode", "listen", "one of: listen, dial, broker-listen")
	runCmd.Flags().StringVar(&runHost, "host", "127.0.0.1", "host to bind for --mode listen")
	runCmd.Flags().IntVar(&runPort, "port", 0, "port to bind for --mode listen (0 picks a free port)")
	runCmd.Flags().StringVar(&runURL, "url", "", "peer or broker URL to dial for --mode dial/broker-listen")
	runCmd.Flags().StringVar(&runRemoteHex, "remote-pubkey", "", "hex-encoded remote instance public key (required for --mode dial, and for an exact-match group)")
	runCmd.Flags().StringVar(&runGroupName, "group-name", "default", "routes group name")
	runCmd.Flags().BoolVar(&runCatchAll, "catch-all", false, "register a catch-all group instead of an exact-match one (listen/broker-listen only)")
	runCmd.Flags().BoolVar(&runDropDups, "drop-duplicates", false, "drop connections that race in within the duplicate window instead of replacing")
	runCmd.Flags().DurationVar(&runDumpPeriod, "dump-period", 2*time.Second, "how often to print the manager's debug dump")
	_ = runCmd.MarkFlagRequired("secret-identity")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	sf, err := identity.LoadSecretFile(runSecretFile)
	if err != nil {
		return fmt.Errorf("load secret identity: %w", err)
	}
	secretKey, err := sf.InstanceSecretKeyBytes()
	if err != nil {
		return fmt.Errorf("decode instance secret key: %w", err)
	}
	crypto, err := cryptoapi.New(secretKey)
	if err != nil {
		return fmt.Errorf("build crypto api: %w", err)
	}
	localPub := crypto.PublicKey()
	fmt.Printf("local instance public key: %x\n", localPub.Bytes())

	var remotePub cryptoapi.PublicKey
	if runRemoteHex != "" {
		remotePub, err = decodeHexPublicKey(runRemoteHex)
		if err != nil {
			return fmt.Errorf("decode remote public key: %w", err)
		}
	}

	manager := routesgroup.NewManager(nil, nil)
	groupOpts := routesgroup.GroupOptions{
		DropDuplicates: runDropDups,
		OnStateChanged: func(g *routesgroup.RoutesGroup, old, new routesgroup.State) {
			fmt.Printf("[group %s] %s -> %s\n", g.Name, old, new)
		},
	}

	var group *routesgroup.RoutesGroup
	if runCatchAll {
		group = manager.AddCatchAllGroup(localPub, runGroupName, groupOpts)
	} else {
		if runRemoteHex == "" && runMode != "dial" {
			return fmt.Errorf("--remote-pubkey is required unless --catch-all is set")
		}
		group = manager.AddGroup(localPub, remotePub, runGroupName, groupOpts)
	}

	onConnect := routes.OnConnect(func(conn *connection.Connection, local, remote cryptoapi.PublicKey, routeID string) {
		manager.HandleConnection(local, remote, runGroupName, conn, routeID)
	})

	var route routes.Route
	switch runMode {
	case "listen":
		direct := routes.NewIncomingDirect(routes.IncomingDirectConfig{
			Host: runHost, Port: runPort, Crypto: crypto,
			OnConnect: onConnect,
		})
		route = direct
		if err := direct.Start(); err != nil {
			return fmt.Errorf("start listener: %w", err)
		}
		fmt.Printf("listening on %s\n", direct.Addr())
	case "broker-listen":
		if runURL == "" {
			return fmt.Errorf("--url (broker URL) is required for --mode broker-listen")
		}
		broker := routes.NewIncomingViaBroker(routes.IncomingViaBrokerConfig{
			BrokerURL: runURL, Crypto: crypto,
			OnConnect: onConnect,
		})
		route = broker
		if err := broker.Start(); err != nil {
			return fmt.Errorf("start broker registration: %w", err)
		}
		fmt.Printf("registered with broker %s\n", runURL)
	case "dial":
		if runURL == "" || runRemoteHex == "" {
			return fmt.Errorf("--url and --remote-pubkey are required for --mode dial")
		}
		dial := routes.NewOutgoingDial(routes.OutgoingDialConfig{
			URL: runURL, Crypto: crypto, RemotePublicKey: remotePub,
			OnConnect: onConnect,
		})
		route = dial
		if err := dial.Start(); err != nil {
			return fmt.Errorf("start dial: %w", err)
		}
		fmt.Printf("dialing %s\n", runURL)
	default:
		return fmt.Errorf("unknown --mode %q (want listen, dial, or broker-listen)", runMode)
	}
	group.AddRoute(route)
	defer route.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(runDumpPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Print(manager.DebugDump())
		case <-sigCh:
			fmt.Println("shutting down")
			return nil
		}
	}
}

func decodeHexPublicKey(s string) (cryptoapi.PublicKey, error) {
	var pub cryptoapi.PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pub, err
	}
	if len(b) != cryptoapi.KeySize {
		return pub, fmt.Errorf("expected %d bytes, got %d", cryptoapi.KeySize, len(b))
	}
	copy(pub[:], b)
	return pub, nil
}
