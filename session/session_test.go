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

package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type testHandler struct {
	onRequest func(v any) (any, error)
	pushed    chan any
}

func (h *testHandler) OnRequest(_ *Session, v any) (any, error) {
	if h.onRequest == nil {
		return v, nil
	}
	return h.onRequest(v)
}

func (h *testHandler) OnPush(_ *Session, v any) {
	if h.pushed != nil {
		h.pushed <- v
	}
}

// newPair 用 net.Pipe 建立一对互联的会话
func newPair(t *testing.T, conf Config, h Handler) (*Session, *Session) {
	t.Helper()

	cliConn, svrConn := net.Pipe()
	svr, err := New(svrConn, conf, h, false)
	assert.NoError(t, err)
	cli, err := New(cliConn, conf, nil, true)
	assert.NoError(t, err)

	t.Cleanup(func() {
		cli.terminate(nil)
		svr.terminate(nil)
	})
	return cli, svr
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionHandshake(t *testing.T) {
	cli, svr := newPair(t, Config{Codecs: []string{"json"}}, &testHandler{})

	ctx := testCtx(t)
	assert.NoError(t, cli.AwaitReady(ctx))
	assert.NoError(t, svr.AwaitReady(ctx))
	assert.True(t, cli.IsReady())
	assert.NotEmpty(t, cli.ID())
	assert.NotEqual(t, cli.ID(), svr.ID())
}

func TestSessionRequestEcho(t *testing.T) {
	cli, _ := newPair(t, Config{Codecs: []string{"json"}}, &testHandler{})

	ctx := testCtx(t)
	v, err := cli.Request(ctx, map[string]any{"hello": "world"})
	assert.NoError(t, err)

	m, ok := v.(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "world", m["hello"])
}

func TestSessionRequestSequential(t *testing.T) {
	cli, _ := newPair(t, Config{Codecs: []string{"msgpack"}}, &testHandler{})

	ctx := testCtx(t)
	for i := 0; i < 32; i++ {
		v, err := cli.Request(ctx, map[string]any{"n": i})
		assert.NoError(t, err)
		assert.NotNil(t, v)
	}
}

func TestSessionCompressedPayload(t *testing.T) {
	conf := Config{
		Codecs:            []string{"json"},
		Compressors:       []string{"snappy"},
		CompressThreshold: 1,
	}
	cli, _ := newPair(t, conf, &testHandler{})

	ctx := testCtx(t)
	long := make([]string, 256)
	for i := range long {
		long[i] = "tokutokutoku"
	}
	v, err := cli.Request(ctx, map[string]any{"data": long})
	assert.NoError(t, err)

	m, ok := v.(map[string]any)
	assert.True(t, ok)
	assert.Len(t, m["data"], 256)
}

func TestSessionPush(t *testing.T) {
	h := &testHandler{pushed: make(chan any, 1)}
	cli, _ := newPair(t, Config{Codecs: []string{"json"}}, h)

	ctx := testCtx(t)
	assert.NoError(t, cli.Push(ctx, map[string]any{"event": "ping"}))

	select {
	case v := <-h.pushed:
		m, ok := v.(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, "ping", m["event"])
	case <-ctx.Done():
		t.Fatal("push not delivered")
	}
}

func TestSessionRemoteError(t *testing.T) {
	h := &testHandler{
		onRequest: func(v any) (any, error) {
			return nil, errors.New("handler exploded")
		},
	}
	cli, _ := newPair(t, Config{Codecs: []string{"json"}}, h)

	ctx := testCtx(t)
	_, err := cli.Request(ctx, map[string]any{"q": 1})
	assert.Error(t, err)

	var re *RemoteError
	assert.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInternal, re.Code)
	assert.Contains(t, string(re.Data), "handler exploded")
}

func TestSessionPingWait(t *testing.T) {
	cli, _ := newPair(t, Config{Codecs: []string{"json"}}, &testHandler{})

	ctx := testCtx(t)
	rtt, err := cli.PingWait(ctx)
	assert.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestSessionGoAway(t *testing.T) {
	cli, svr := newPair(t, Config{Codecs: []string{"json"}}, &testHandler{})

	ctx := testCtx(t)
	assert.NoError(t, cli.AwaitReady(ctx))

	cli.Close(CloseNormal, []byte("done"))

	select {
	case <-svr.Done():
	case <-ctx.Done():
		t.Fatal("server session not closed by goaway")
	}
}

func TestSessionRequestAfterShutdown(t *testing.T) {
	cli, _ := newPair(t, Config{Codecs: []string{"json"}}, &testHandler{})

	ctx := testCtx(t)
	assert.NoError(t, cli.AwaitReady(ctx))
	cli.Close(CloseNormal, nil)

	_, err := cli.Request(ctx, map[string]any{"q": 1})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestSessionInflightFailOnTerminate(t *testing.T) {
	h := &testHandler{
		onRequest: func(v any) (any, error) {
			time.Sleep(time.Hour)
			return v, nil
		},
	}
	cli, _ := newPair(t, Config{Codecs: []string{"json"}}, h)

	ctx := testCtx(t)
	assert.NoError(t, cli.AwaitReady(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := cli.Request(ctx, map[string]any{"q": 1})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cli.terminate(nil)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-ctx.Done():
		t.Fatal("inflight request not failed on terminate")
	}
}

func TestConfigValidate(t *testing.T) {
	var conf Config
	conf.Validate()

	assert.Equal(t, 5*time.Second, conf.PingInterval)
	assert.NotEmpty(t, conf.Codecs)
	assert.Greater(t, conf.CompressThreshold, 0)
	assert.Greater(t, conf.OutbufSoftMax, 0)
}
