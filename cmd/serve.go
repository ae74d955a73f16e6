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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokud/tokud/confengine"
	"github.com/tokud/tokud/internal/rescue"
	"github.com/tokud/tokud/internal/sigs"
	"github.com/tokud/tokud/logger"
	"github.com/tokud/tokud/opserver"
	"github.com/tokud/tokud/server"
	"github.com/tokud/tokud/session"
)

// echoHandler 内建的回显处理器
//
// tokud 作为独立进程运行时没有业务逻辑 回显用于联调与压测
// 嵌入方应以库的方式使用 server 包并提供自己的 Handler
type echoHandler struct{}

func (echoHandler) OnRequest(_ *session.Session, v any) (any, error) {
	return v, nil
}

func (echoHandler) OnPush(s *session.Session, v any) {
	logger.Debugf("session %s push: %v", s.ID(), v)
}

func (echoHandler) OnSessionStart(s *session.Session) {
	logger.Infof("session %s started (remote=%s)", s.ID(), s.RemoteAddr())
}

func (echoHandler) OnSessionGone(s *session.Session) {
	logger.Infof("session %s gone", s.ID())
}

func setupLogger(cfg *confengine.Config) {
	var opt logger.Options
	if err := cfg.UnpackChild("logger", &opt); err != nil {
		return
	}
	logger.SetOptions(opt)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the toku echo server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := confengine.LoadConfigPath(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		setupLogger(cfg)

		svr, err := server.New(cfg, echoHandler{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
			os.Exit(1)
		}

		ops, err := opserver.New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create opserver: %v\n", err)
			os.Exit(1)
		}
		if ops != nil {
			go func() {
				defer rescue.HandleCrash()
				if err := ops.ListenAndServe(); err != nil {
					logger.Errorf("opserver exited: %v", err)
				}
			}()
		}

		go func() {
			defer rescue.HandleCrash()
			if err := svr.ListenAndServe(); err != nil {
				logger.Errorf("server exited: %v", err)
				os.Exit(1)
			}
		}()

		var reloadTotal int
		for {
			select {
			case <-sigs.Terminate():
				svr.Stop()
				if ops != nil {
					ops.Close()
				}
				return

			case <-sigs.Reload():
				reloadTotal++

				// 需要重新加载配置文件 reload 失败则保持原配置运行
				cfg, err := confengine.LoadConfigPath(configPath)
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed to load config (count=%d): %v\n", reloadTotal, err)
					continue
				}
				setupLogger(cfg)
				logger.Infof("reload (count=%d) done", reloadTotal)
			}
		}
	},
	Example: "# tokud serve --config tokud.yaml",
}

var configPath string

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "tokud.yaml", "Configuration file path")
	rootCmd.AddCommand(serveCmd)
}
