/*
Copyright (c) Magnus Skjegstad / Forsvarets Forskningsinstitutt (FFI).

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MagnusS/p2p-dprd/protocol"
	"github.com/MagnusS/p2p-dprd/protocol/control"
	"github.com/MagnusS/p2p-dprd/server"
)

var (
	peersSocket  string
	peersListen  string
	peersTimeout time.Duration
)

func init() {
	RootCmd.AddCommand(peersCmd)

	peersCmd.Flags().StringVarP(&peersSocket, "socket", "s", server.DefaultLocalSocketPath, "control socket of the running node")
	peersCmd.Flags().StringVarP(&peersListen, "listen", "l", "/tmp/p2p-dprd-peers.sock", "socket path to receive the candidate set on")
	peersCmd.Flags().DurationVarP(&peersTimeout, "timeout", "t", 30*time.Second, "how long to wait for a candidate set")
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Subscribe to a running node and print its current candidate set",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := printPeers(peersSocket, peersListen, peersTimeout); err != nil {
			log.Fatal(err)
		}
	},
}

func printPeers(socket, listen string, timeout time.Duration) error {
	if err := os.Remove(listen); err != nil && !os.IsNotExist(err) {
		return err
	}
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: listen, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("binding %s: %w", listen, err)
	}
	defer func() {
		conn.Close()
		os.Remove(listen)
	}()

	if err := sendRequest(socket, &control.Request{Type: control.Subscribe, SockAddr: listen}); err != nil {
		return err
	}
	// Always leave the daemon's subscriber list the way we found it.
	defer func() {
		if err := sendRequest(socket, &control.Request{Type: control.Unsubscribe, SockAddr: listen}); err != nil {
			log.Warningf("unsubscribing: %v", err)
		}
	}()
	log.Debugf("subscribed %s, waiting for a candidate set", listen)

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	buf := make([]byte, 32768)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("waiting for candidate nodes: %w", err)
	}

	nc := &protocol.NodeCollection{}
	if err := nc.UnmarshalBinary(buf[:n]); err != nil {
		return err
	}
	if nc.PayloadType != protocol.Internal || len(nc.Nodes) == 0 {
		return fmt.Errorf("unexpected %s collection with %d nodes", nc.PayloadType, len(nc.Nodes))
	}

	own := nc.Nodes[0]
	fmt.Printf("node %d at %f, %f (range %d m), %d candidates\n",
		own.ID, own.Lat, own.Lon, own.CoordRange, len(nc.Nodes)-1)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"id", "lat", "lon", "range(m)", "address", "radac", "age"})
	now := time.Now()
	green := color.New(color.FgGreen).SprintFunc()
	for _, node := range nc.Nodes[1:] {
		age := now.Sub(time.Unix(int64(node.Timestamp), 0)).Round(time.Second)
		table.Append([]string{
			green(fmt.Sprintf("%d", node.ID)),
			fmt.Sprintf("%f", node.Lat),
			fmt.Sprintf("%f", node.Lon),
			fmt.Sprintf("%d", node.CoordRange),
			node.Addr().String(),
			fmt.Sprintf("%s:%d", protocol.IPFromUint32(node.RadacIP), node.RadacPort),
			age.String(),
		})
	}
	table.Render()
	return nil
}

func sendRequest(socket string, r *control.Request) error {
	b, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: socket, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("dialing %s: %w", socket, err)
	}
	defer conn.Close()
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("sending %s: %w", r.Type, err)
	}
	return nil
}
