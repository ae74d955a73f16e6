// Copyright 2025 The tokud Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokud/tokud/client"
)

var pingCmdConfig struct {
	Addr     string
	Count    int
	Interval time.Duration
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe a toku server and report round-trip times",
	Run: func(cmd *cobra.Command, args []string) {
		cli, err := client.Dial(client.Config{Address: pingCmdConfig.Addr}, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect %s: %v\n", pingCmdConfig.Addr, err)
			os.Exit(1)
		}
		defer cli.Close()

		for i := 0; i < pingCmdConfig.Count; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			rtt, err := cli.Ping(ctx)
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "ping %s: %v\n", pingCmdConfig.Addr, err)
				os.Exit(1)
			}

			fmt.Printf("pong from %s: count=%d time=%s\n", pingCmdConfig.Addr, i+1, rtt)
			if i != pingCmdConfig.Count-1 {
				time.Sleep(pingCmdConfig.Interval)
			}
		}
	},
	Example: "# tokud ping --addr 127.0.0.1:9090 --count 3",
}

func init() {
	pingCmd.Flags().StringVar(&pingCmdConfig.Addr, "addr", "127.0.0.1:9090", "Server address")
	pingCmd.Flags().IntVar(&pingCmdConfig.Count, "count", 3, "Ping count")
	pingCmd.Flags().DurationVar(&pingCmdConfig.Interval, "interval", time.Second, "Interval between pings")
	rootCmd.AddCommand(pingCmd)
}
