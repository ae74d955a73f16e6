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

package confengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const content = `
logger:
  stdout: true
  level: info

server:
  address: 127.0.0.1:9090
  pingInterval: 5s
  codecs:
    - json
    - msgpack

opserver:
  enabled: true
`

func TestLoadContent(t *testing.T) {
	conf, err := LoadContent([]byte(content))
	assert.NoError(t, err)

	assert.True(t, conf.Has("server"))
	assert.False(t, conf.Has("unknown"))
	assert.True(t, conf.Enabled("opserver"))
	assert.False(t, conf.Disabled("server"))
}

func TestUnpackChild(t *testing.T) {
	conf, err := LoadContent([]byte(content))
	assert.NoError(t, err)

	var server struct {
		Address      string        `config:"address"`
		PingInterval time.Duration `config:"pingInterval"`
		Codecs       []string      `config:"codecs"`
	}
	assert.NoError(t, conf.UnpackChild("server", &server))
	assert.Equal(t, "127.0.0.1:9090", server.Address)
	assert.Equal(t, 5*time.Second, server.PingInterval)
	assert.Equal(t, []string{"json", "msgpack"}, server.Codecs)

	assert.Error(t, conf.UnpackChild("missing", &server))
}

func TestChild(t *testing.T) {
	conf, err := LoadContent([]byte(content))
	assert.NoError(t, err)

	child, err := conf.Child("logger")
	assert.NoError(t, err)
	assert.True(t, child.Has("level"))

	_, err = conf.Child("missing")
	assert.Error(t, err)

	assert.NotPanics(t, func() {
		conf.MustChild("logger")
	})
	assert.Panics(t, func() {
		conf.MustChild("missing")
	})
}
